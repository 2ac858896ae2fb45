// Package textfeature extracts the observable, content-independent
// features of a post's text that the frame codec maps protocol bits onto:
// its length bucket, whether it carries media, whether it contains a
// question mark, and the grammatical category of its first word.
package textfeature

import (
	"regexp"
	"strings"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"

	"github.com/postalsys/stegochannel/internal/stegoerr"
)

// FeatureID names one of the internal feature extractors a ChannelConfig
// can select bits from.
type FeatureID string

const (
	// FeatureLen maps to 1 bit: post length is above or below a
	// configured grapheme-count threshold.
	FeatureLen FeatureID = "len"
	// FeatureMedia maps to 1 bit: the post carries an attached image,
	// video, or link card.
	FeatureMedia FeatureID = "media"
	// FeatureQMark maps to 1 bit: the post's normalized text contains
	// '?'.
	FeatureQMark FeatureID = "qmark"
	// FeatureFWord maps to 2 bits: the grammatical category of the
	// post's first word (pronoun, article, common verb, other).
	FeatureFWord FeatureID = "fword"
	// FeatureWCount is reserved for a word-count-parity bit. It is not
	// implemented; selecting it returns ErrFeatureNotImplemented.
	FeatureWCount FeatureID = "wcount"
)

// BitWidth returns how many bits a feature contributes to a frame,
// or 0 if the feature id is unknown.
func BitWidth(id FeatureID) int {
	switch id {
	case FeatureLen, FeatureMedia, FeatureQMark:
		return 1
	case FeatureFWord:
		return 2
	case FeatureWCount:
		return 1
	default:
		return 0
	}
}

// Post is the minimal view of a post ExtractBits needs: its text and
// whether it carries attached media.
type Post struct {
	Text     string
	HasMedia bool
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize applies Unicode NFC normalization and collapses runs of
// whitespace to a single space, trimming leading and trailing whitespace.
// Both parties must normalize identically before extracting bits, since
// even a single combining-character difference changes the grapheme count
// and the first-word token.
func Normalize(text string) string {
	normalized := norm.NFC.String(text)
	normalized = whitespaceRun.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// GraphemeCount returns the number of user-perceived characters in text,
// counting by grapheme cluster rather than by rune so that combining
// marks and multi-codepoint emoji count once.
func GraphemeCount(text string) int {
	return uniseg.GraphemeClusterCount(text)
}

var pronouns = wordSet("i", "you", "he", "she", "it", "we", "they", "me", "him", "her", "us", "them")
var articles = wordSet("the", "a", "an", "this", "that", "these", "those")
var commonVerbs = wordSet(
	"is", "are", "was", "were", "be", "been", "am", "do", "does", "did",
	"have", "has", "had", "will", "would", "can", "could", "should",
	"go", "went", "get", "got", "make", "made", "say", "said",
)

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// FWordCategory is the 2-bit grammatical classification ExtractBits
// assigns to a post's first word.
type FWordCategory int

const (
	FWordPronoun FWordCategory = 0
	FWordArticle FWordCategory = 1
	FWordVerb    FWordCategory = 2
	FWordOther   FWordCategory = 3
)

// ClassifyFirstWord returns the grammatical category of the first word in
// normalized text.
func ClassifyFirstWord(normalized string) FWordCategory {
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return FWordOther
	}
	word := strings.ToLower(strings.Trim(fields[0], ".,!?;:\"'"))
	switch {
	case pronouns[word]:
		return FWordPronoun
	case articles[word]:
		return FWordArticle
	case commonVerbs[word]:
		return FWordVerb
	default:
		return FWordOther
	}
}

// ExtractBits extracts the bits selected feature ids contribute, in the
// order given, concatenated MSB-first within each feature. lengthThreshold
// is the grapheme-count boundary FeatureLen compares against.
func ExtractBits(post Post, features []FeatureID, lengthThreshold int) ([]byte, error) {
	normalized := Normalize(post.Text)

	var bits []byte
	for _, id := range features {
		switch id {
		case FeatureLen:
			bits = append(bits, boolBit(GraphemeCount(normalized) >= lengthThreshold))
		case FeatureMedia:
			bits = append(bits, boolBit(post.HasMedia))
		case FeatureQMark:
			bits = append(bits, boolBit(strings.Contains(normalized, "?")))
		case FeatureFWord:
			category := ClassifyFirstWord(normalized)
			bits = append(bits, byte((category>>1)&1), byte(category&1))
		case FeatureWCount:
			return nil, stegoerr.ErrFeatureNotImplemented
		default:
			return nil, stegoerr.ErrFeatureNotImplemented
		}
	}
	return bits, nil
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}
