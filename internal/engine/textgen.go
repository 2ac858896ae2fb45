package engine

import (
	"fmt"
	"strings"

	"github.com/postalsys/stegochannel/internal/stegoerr"
	"github.com/postalsys/stegochannel/internal/textfeature"
)

// fillerWords pad generated cover text out to a target grapheme count
// without influencing any of the classified features.
var fillerWords = []string{
	"update", "today", "morning", "thoughts", "notes", "project",
	"weather", "coffee", "weekend", "reading", "walking", "plans",
}

// firstWordFor returns a first word that classifies into category under
// textfeature.ClassifyFirstWord.
func firstWordFor(category textfeature.FWordCategory) string {
	switch category {
	case textfeature.FWordPronoun:
		return "they"
	case textfeature.FWordArticle:
		return "the"
	case textfeature.FWordVerb:
		return "are"
	default:
		return "ok"
	}
}

// generateCoverText builds post text (and a hasMedia flag) that, once
// normalized and extracted by internal/textfeature, carries exactly the
// bits in want for the given features, in order. lengthThreshold is the
// grapheme-count boundary the len feature compares against. A short post
// is at least its first word plus the trailing "." or "?", so a 0 len bit
// comes out as 0 only when lengthThreshold exceeds that count.
func generateCoverText(want []byte, features []textfeature.FeatureID, lengthThreshold int) (text string, hasMedia bool, err error) {
	needed := 0
	for _, f := range features {
		needed += textfeature.BitWidth(f)
	}
	if len(want) < needed {
		return "", false, fmt.Errorf("engine: need %d bits to satisfy features, got %d", needed, len(want))
	}

	var longPost bool
	var endsQMark bool
	firstWord := ""
	cursor := 0

	for _, f := range features {
		switch f {
		case textfeature.FeatureLen:
			longPost = want[cursor] == 1
			cursor++
		case textfeature.FeatureMedia:
			hasMedia = want[cursor] == 1
			cursor++
		case textfeature.FeatureQMark:
			endsQMark = want[cursor] == 1
			cursor++
		case textfeature.FeatureFWord:
			category := textfeature.FWordCategory(want[cursor]<<1 | want[cursor+1])
			firstWord = firstWordFor(category)
			cursor += 2
		default:
			return "", false, stegoerr.ErrFeatureNotImplemented
		}
	}

	if firstWord == "" {
		firstWord = "ok"
	}

	words := []string{firstWord}
	if longPost {
		// Keep adding words until the grapheme count clears the
		// threshold; overshooting is harmless since the len feature
		// only requires >= lengthThreshold.
		for textfeature.GraphemeCount(strings.Join(words, " ")) < lengthThreshold {
			words = append(words, fillerWords[len(words)%len(fillerWords)])
		}
	} else {
		// Stop before any word would push the count to the
		// threshold or past it, so the len feature reads 0. Reserve
		// one grapheme for the trailing "." or "?" appended below.
		for i := 0; ; i++ {
			candidate := append(append([]string(nil), words...), fillerWords[i%len(fillerWords)])
			if textfeature.GraphemeCount(strings.Join(candidate, " "))+1 >= lengthThreshold {
				break
			}
			words = candidate
		}
	}

	body := strings.Join(words, " ")
	if endsQMark {
		body += "?"
	} else {
		body += "."
	}
	return body, hasMedia, nil
}
