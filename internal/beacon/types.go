// Package beacon fetches and caches the public randomness/clock values
// (a Bitcoin block hash, a NIST randomness-beacon pulse, or the UTC
// calendar date) that epoch keys are derived from.
package beacon

import (
	"regexp"
	"time"
)

// Kind names a beacon source.
type Kind string

const (
	KindBTC  Kind = "btc"
	KindNIST Kind = "nist"
	KindDate Kind = "date"
)

// EpochInfo describes the timing constants for one beacon kind: how long
// an epoch key derived from this beacon nominally lasts, how long past
// rollover a receiver should keep trying the previous value, and how many
// prior epochs deep that grace probing goes.
type EpochInfo struct {
	EpochDuration   time.Duration
	GracePeriod     time.Duration
	EpochsToCheck   int
	CacheDuration   time.Duration
}

var epochInfo = map[Kind]EpochInfo{
	KindBTC: {
		EpochDuration: 600 * time.Second,
		GracePeriod:   120 * time.Second,
		EpochsToCheck: 2,
		CacheDuration: 60 * time.Second,
	},
	KindNIST: {
		EpochDuration: 60 * time.Second,
		GracePeriod:   30 * time.Second,
		EpochsToCheck: 1,
		CacheDuration: 30 * time.Second,
	},
	KindDate: {
		EpochDuration: 86400 * time.Second,
		GracePeriod:   300 * time.Second,
		EpochsToCheck: 1,
		// CacheDuration is unused: the oracle derives date values from
		// its clock on every call and never caches them.
	},
}

// GetEpochInfo returns the epoch/grace constants for a beacon kind.
func GetEpochInfo(kind Kind) (EpochInfo, error) {
	info, ok := epochInfo[kind]
	if !ok {
		return EpochInfo{}, errUnknownKind(kind)
	}
	return info, nil
}

func errUnknownKind(kind Kind) error {
	return &unknownKindError{kind: kind}
}

type unknownKindError struct{ kind Kind }

func (e *unknownKindError) Error() string {
	return "beacon: unknown kind " + string(e.kind)
}

var (
	btcHashPattern  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	nistPulsePattern = regexp.MustCompile(`^[0-9a-f]{128}$`)
)

// ValidateValue reports whether value is a well-formed beacon value for
// kind (lowercase 64-hex for btc, lowercase 128-hex for nist; date values
// are always considered well-formed since they are derived locally).
func ValidateValue(kind Kind, value string) bool {
	switch kind {
	case KindBTC:
		return btcHashPattern.MatchString(value)
	case KindNIST:
		return nistPulsePattern.MatchString(value)
	case KindDate:
		return len(value) == len("2006-01-02")
	default:
		return false
	}
}

// HistoryEntry records a previously observed beacon value, used by the
// receiver to walk backward through past epochs during a grace window.
type HistoryEntry struct {
	Value     string
	FetchedAt time.Time
}
