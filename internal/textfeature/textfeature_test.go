package textfeature

import (
	"errors"
	"testing"

	"github.com/postalsys/stegochannel/internal/stegoerr"
)

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := Normalize("  hello   world  \n\tagain ")
	want := "hello world again"
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestNormalizeNFC(t *testing.T) {
	// "e" + combining acute vs precomposed "é" should normalize identically.
	decomposed := "café"
	precomposed := "café"
	if Normalize(decomposed) != Normalize(precomposed) {
		t.Errorf("Normalize() did not fold combining form to precomposed form")
	}
}

func TestGraphemeCountCountsClustersNotRunes(t *testing.T) {
	// A flag emoji is two runes but one grapheme cluster.
	flag := "\U0001F1FA\U0001F1F8" // US flag
	if got := GraphemeCount(flag); got != 1 {
		t.Errorf("GraphemeCount(flag) = %d, want 1", got)
	}
}

func TestClassifyFirstWord(t *testing.T) {
	cases := []struct {
		text string
		want FWordCategory
	}{
		{"I went home", FWordPronoun},
		{"The cat sat down", FWordArticle},
		{"Is anyone there", FWordVerb},
		{"Sunshine feels nice", FWordOther},
		{"", FWordOther},
	}
	for _, tc := range cases {
		if got := ClassifyFirstWord(Normalize(tc.text)); got != tc.want {
			t.Errorf("ClassifyFirstWord(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestExtractBitsLenFeature(t *testing.T) {
	short := Post{Text: "hi"}
	long := Post{Text: "this is a considerably longer post than the other one"}

	bits, err := ExtractBits(short, []FeatureID{FeatureLen}, 20)
	if err != nil {
		t.Fatalf("ExtractBits(short) error = %v", err)
	}
	if bits[0] != 0 {
		t.Errorf("ExtractBits(short).len = %d, want 0", bits[0])
	}

	bits, err = ExtractBits(long, []FeatureID{FeatureLen}, 20)
	if err != nil {
		t.Fatalf("ExtractBits(long) error = %v", err)
	}
	if bits[0] != 1 {
		t.Errorf("ExtractBits(long).len = %d, want 1", bits[0])
	}
}

func TestExtractBitsMediaFeature(t *testing.T) {
	bits, err := ExtractBits(Post{Text: "x", HasMedia: true}, []FeatureID{FeatureMedia}, 20)
	if err != nil {
		t.Fatalf("ExtractBits() error = %v", err)
	}
	if bits[0] != 1 {
		t.Errorf("ExtractBits(media=true) = %d, want 1", bits[0])
	}
}

func TestExtractBitsQMarkFeature(t *testing.T) {
	bits, err := ExtractBits(Post{Text: "are you there?"}, []FeatureID{FeatureQMark}, 20)
	if err != nil {
		t.Fatalf("ExtractBits() error = %v", err)
	}
	if bits[0] != 1 {
		t.Errorf("ExtractBits(qmark) = %d, want 1", bits[0])
	}
}

func TestExtractBitsFWordFeatureTwoBits(t *testing.T) {
	bits, err := ExtractBits(Post{Text: "they left early"}, []FeatureID{FeatureFWord}, 20)
	if err != nil {
		t.Fatalf("ExtractBits() error = %v", err)
	}
	if len(bits) != 2 {
		t.Fatalf("ExtractBits(fword) len = %d, want 2", len(bits))
	}
	if bits[0] != 0 || bits[1] != 0 {
		t.Errorf("ExtractBits(fword=pronoun) = %v, want [0 0]", bits)
	}
}

func TestExtractBitsWCountNotImplemented(t *testing.T) {
	_, err := ExtractBits(Post{Text: "x"}, []FeatureID{FeatureWCount}, 20)
	if !errors.Is(err, stegoerr.ErrFeatureNotImplemented) {
		t.Errorf("ExtractBits(wcount) error = %v, want ErrFeatureNotImplemented", err)
	}
}

func TestExtractBitsMultipleFeaturesConcatenate(t *testing.T) {
	bits, err := ExtractBits(Post{Text: "the dog ran?", HasMedia: true}, []FeatureID{FeatureLen, FeatureMedia, FeatureQMark}, 5)
	if err != nil {
		t.Fatalf("ExtractBits() error = %v", err)
	}
	if len(bits) != 3 {
		t.Fatalf("len(bits) = %d, want 3", len(bits))
	}
}

func TestBitWidth(t *testing.T) {
	if BitWidth(FeatureLen) != 1 {
		t.Error("BitWidth(len) != 1")
	}
	if BitWidth(FeatureFWord) != 2 {
		t.Error("BitWidth(fword) != 2")
	}
	if BitWidth(FeatureID("bogus")) != 0 {
		t.Error("BitWidth(unknown) != 0")
	}
}
