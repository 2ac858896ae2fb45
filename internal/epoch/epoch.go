// Package epoch derives per-epoch keys from a channel's pre-shared key and
// a beacon value, and enumerates the epoch-key candidates a receiver
// should try while crossing a beacon rollover or beacon-fetch outage.
package epoch

import (
	"context"
	"fmt"
	"time"

	"github.com/postalsys/stegochannel/internal/beacon"
	"github.com/postalsys/stegochannel/internal/crypto"
)

const infoSuffix = "stegochannel-v0"

// DeriveEpochKey derives the epoch key for a (beacon kind, beacon value)
// pair from a channel's pre-shared key:
//
//	epoch_key = HKDF-Expand(channel_key, "<kind>:<value>:stegochannel-v0", 32)
func DeriveEpochKey(channelKey [32]byte, kind beacon.Kind, beaconValue string) ([32]byte, error) {
	info := fmt.Sprintf("%s:%s:%s", kind, beaconValue, infoSuffix)
	out, err := crypto.HKDFExpand(channelKey, info, crypto.KeySize)
	if err != nil {
		return [32]byte{}, fmt.Errorf("epoch: derive key: %w", err)
	}
	var epochKey [32]byte
	copy(epochKey[:], out)
	return epochKey, nil
}

// Candidate is one epoch-key candidate to try when decoding, together with
// the beacon value it was derived from and how many epochs back it lies
// (0 = current).
type Candidate struct {
	BeaconValue string
	EpochKey    [32]byte
	Age         int
}

// GraceCandidates returns the epoch-key candidates a receiver should trial
// decode against, most recent first: the current beacon value, followed by
// EpochsToCheck historical values, so a message framed against a previous
// epoch still decodes during the grace window after a rollover. For
// KindDate the historical values are today's preceding UTC calendar days,
// computed directly from now rather than from oracle history, since the
// oracle keeps no history for a locally-derived date value.
func GraceCandidates(ctx context.Context, kind beacon.Kind, channelKey [32]byte, oracle *beacon.Oracle, now time.Time) ([]Candidate, error) {
	info, err := beacon.GetEpochInfo(kind)
	if err != nil {
		return nil, err
	}

	current, err := oracle.GetBeaconValue(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("epoch: resolve current beacon value: %w", err)
	}

	wantTotal := info.EpochsToCheck + 1
	candidates := make([]Candidate, 0, wantTotal)
	seen := make(map[string]bool, wantTotal)

	add := func(value string, age int) error {
		if seen[value] {
			return nil
		}
		key, err := DeriveEpochKey(channelKey, kind, value)
		if err != nil {
			return err
		}
		candidates = append(candidates, Candidate{BeaconValue: value, EpochKey: key, Age: age})
		seen[value] = true
		return nil
	}

	if err := add(current, 0); err != nil {
		return nil, err
	}

	if kind == beacon.KindDate {
		today := now.UTC()
		for i := 1; i <= info.EpochsToCheck && len(candidates) < wantTotal; i++ {
			day := today.AddDate(0, 0, -i).Format("2006-01-02")
			if err := add(day, i); err != nil {
				return nil, err
			}
		}
		return candidates, nil
	}

	history := oracle.History(kind)
	age := 1
	for i := len(history) - 1; i >= 0 && len(candidates) < wantTotal; i-- {
		if seen[history[i].Value] {
			continue
		}
		if err := add(history[i].Value, age); err != nil {
			return nil, err
		}
		age++
	}

	return candidates, nil
}
