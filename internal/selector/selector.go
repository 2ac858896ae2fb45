// Package selector decides, from an epoch key and a post id alone, whether
// a given post is a "signal post" — one a channel's two parties treat as
// carrying protocol bits. The decision is a keyed pseudorandom function of
// (epoch_key, post_id) so that without the epoch key, post selection is
// indistinguishable from chance.
package selector

import (
	"encoding/binary"
	"math/big"

	"github.com/postalsys/stegochannel/internal/crypto"
)

// ratePrecision is the number of decimal digits a selection rate is scaled
// to before being compared against the 64-bit selection value. Using a
// fixed decimal scale (rather than a float64 threshold) keeps the
// comparison free of floating point drift between sender and receiver.
const ratePrecision = 9

// maxUint64Rat is 2^64 - 1 expressed as an exact big.Rat, the denominator
// selection values are implicitly measured against.
var maxUint64Rat = new(big.Rat).SetInt(new(big.Int).Sub(
	new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1)))

// IsSignalPost reports whether postID is a signal post under epochKey at
// the given selection rate (0, 1]:
//
//	selection_value = uint64_be(SHA256(epoch_key || post_id)[0:8])
//	threshold       = floor(rate * (2^64 - 1)) computed at 9-digit decimal precision
//	is_signal_post  = selection_value < threshold
func IsSignalPost(epochKey [32]byte, postID string, rate float64) bool {
	return selectionValue(epochKey, postID) < rateThreshold(rate)
}

// selectionValue computes the keyed pseudorandom value used to decide
// whether a post is selected.
func selectionValue(epochKey [32]byte, postID string) uint64 {
	digest := crypto.SHA256(epochKey[:], []byte(postID))
	return binary.BigEndian.Uint64(digest[:8])
}

// rateThreshold converts rate into the uint64 threshold selection_value is
// compared against, scaled through a 9-digit decimal representation of
// rate so that sender and receiver — potentially different
// implementations — produce the identical integer threshold for the same
// textual rate.
func rateThreshold(rate float64) uint64 {
	scaled := new(big.Rat).SetFloat64(roundToDecimalDigits(rate, ratePrecision))
	product := new(big.Rat).Mul(scaled, maxUint64Rat)
	// floor(product)
	quotient := new(big.Int).Quo(product.Num(), product.Denom())
	return quotient.Uint64()
}

// roundToDecimalDigits rounds rate to the given number of decimal digits so
// that rate values like 0.1 (not exactly representable in binary
// floating point) scale to the same threshold regardless of platform.
func roundToDecimalDigits(rate float64, digits int) float64 {
	scale := big.NewFloat(1)
	ten := big.NewFloat(10)
	for i := 0; i < digits; i++ {
		scale.Mul(scale, ten)
	}
	scaled, _ := new(big.Float).Mul(big.NewFloat(rate), scale).Float64()
	rounded := float64(int64(scaled + 0.5))
	unscaledFloat, _ := new(big.Float).Quo(big.NewFloat(rounded), scale).Float64()
	return unscaledFloat
}

// SelectionValueHex exposes the raw selection_value for a (epoch_key,
// post_id) pair, so callers (e.g. tests comparing against a fixed test
// vector) can assert on the intermediate value directly.
func SelectionValueHex(epochKey [32]byte, postID string) uint64 {
	return selectionValue(epochKey, postID)
}

// RateThreshold exposes the decimal-scaled threshold for a rate, used by
// callers that want to log or assert on it directly.
func RateThreshold(rate float64) uint64 {
	return rateThreshold(rate)
}

// ConstantTimeIsSignalPost is equivalent to IsSignalPost but performs the
// final comparison in constant time, for callers that evaluate selection
// on data an adversary might be able to time.
func ConstantTimeIsSignalPost(epochKey [32]byte, postID string, rate float64) bool {
	return crypto.ConstantTimeLessUint64(selectionValue(epochKey, postID), rateThreshold(rate))
}
