// Package keytext parses and formats the stegochannel textual channel-key
// form: stegochannel:v0:<base64url_key>:<beacon>:<rate>:<features>
package keytext

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/postalsys/stegochannel/internal/stegoerr"
)

const (
	prefixLiteral  = "stegochannel"
	versionLiteral = "v0"
	fieldCount     = 6

	// KeySize is the decoded length of the base64url channel key segment.
	KeySize = 32
)

// BeaconKind names the public entropy source a channel is synchronized
// against.
type BeaconKind string

const (
	BeaconBTC  BeaconKind = "btc"
	BeaconNIST BeaconKind = "nist"
	BeaconDate BeaconKind = "date"
)

// featuresV0Alias is the default feature list the literal token "v0"
// resolves to in the features field.
var featuresV0Alias = []string{"len", "media", "punct"}

// validTextualFeatures is the vocabulary of the external textual form —
// deliberately distinct from the internal feature-set identifiers used by
// the feature extractor (see internal/textfeature). "time" and "emoji"
// parse successfully here but are not realized features; selecting them
// in a ChannelConfig surfaces ErrFeatureNotImplemented at extraction time,
// exactly like the internal "wcount" identifier.
var validTextualFeatures = map[string]bool{
	"len":   true,
	"media": true,
	"punct": true,
	"time":  true,
	"emoji": true,
}

// Parsed is the decoded form of a channel key text.
type Parsed struct {
	Key      [KeySize]byte
	Beacon   BeaconKind
	Rate     float64
	Features []string
}

// Parse parses a channel key text. It requires exactly 6 colon-separated
// fields, the literal prefix "stegochannel", and the literal version "v0".
func Parse(text string) (*Parsed, error) {
	fields := strings.Split(text, ":")
	if len(fields) != fieldCount {
		return nil, fmt.Errorf("%w: expected %d colon-separated fields, got %d",
			stegoerr.ErrInvalidChannelKeyFormat, fieldCount, len(fields))
	}

	if fields[0] != prefixLiteral {
		return nil, fmt.Errorf("%w: expected prefix %q, got %q",
			stegoerr.ErrInvalidChannelKeyFormat, prefixLiteral, fields[0])
	}
	if fields[1] != versionLiteral {
		return nil, fmt.Errorf("%w: expected version %q, got %q",
			stegoerr.ErrInvalidChannelKeyFormat, versionLiteral, fields[1])
	}

	keyBytes, err := base64.RawURLEncoding.DecodeString(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: key field is not valid unpadded base64url: %v",
			stegoerr.ErrInvalidChannelKeyFormat, err)
	}
	if len(keyBytes) != KeySize {
		return nil, fmt.Errorf("%w: key field decodes to %d bytes, want %d",
			stegoerr.ErrInvalidChannelKeyFormat, len(keyBytes), KeySize)
	}

	beacon := BeaconKind(fields[3])
	switch beacon {
	case BeaconBTC, BeaconNIST, BeaconDate:
	default:
		return nil, fmt.Errorf("%w: beacon field must be one of btc, nist, date — got %q",
			stegoerr.ErrInvalidChannelKeyFormat, fields[3])
	}

	rate, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: rate field is not a decimal: %v",
			stegoerr.ErrInvalidChannelKeyFormat, err)
	}
	if rate <= 0 || rate > 1 {
		return nil, fmt.Errorf("%w: rate field must be in (0, 1], got %v",
			stegoerr.ErrInvalidChannelKeyFormat, rate)
	}

	var features []string
	if fields[5] == versionLiteral {
		features = append([]string(nil), featuresV0Alias...)
	} else {
		for _, f := range strings.Split(fields[5], ",") {
			if !validTextualFeatures[f] {
				return nil, fmt.Errorf("%w: unknown feature token %q",
					stegoerr.ErrInvalidChannelKeyFormat, f)
			}
			features = append(features, f)
		}
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: features field must not be empty",
			stegoerr.ErrInvalidChannelKeyFormat)
	}

	parsed := &Parsed{
		Beacon:   beacon,
		Rate:     rate,
		Features: features,
	}
	copy(parsed.Key[:], keyBytes)
	return parsed, nil
}

// Format renders a Parsed back into its textual form.
func Format(p *Parsed) string {
	key := base64.RawURLEncoding.EncodeToString(p.Key[:])
	rate := strconv.FormatFloat(p.Rate, 'g', -1, 64)
	features := strings.Join(p.Features, ",")
	return strings.Join([]string{prefixLiteral, versionLiteral, key, string(p.Beacon), rate, features}, ":")
}
