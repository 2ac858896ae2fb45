package beacon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/postalsys/stegochannel/internal/logging"
	"github.com/postalsys/stegochannel/internal/stegoerr"
)

const historyCap = 8

type cacheEntry struct {
	value     string
	fetchedAt time.Time
	expiresAt time.Time
}

// Oracle caches and serves beacon values, falling back to a stale cached
// value rather than failing outright when a live fetch errors, and keeping
// a short bounded history so callers can walk backward through recent
// values during a grace window.
type Oracle struct {
	mu      sync.Mutex
	cache   map[Kind]*cacheEntry
	history map[Kind][]HistoryEntry
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewOracle builds an Oracle backed by fetcher. A nil logger is replaced
// with a no-op logger.
func NewOracle(fetcher Fetcher, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Oracle{
		cache:   make(map[Kind]*cacheEntry),
		history: make(map[Kind][]HistoryEntry),
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// GetBeaconValue returns the current value for kind, serving from cache
// when still fresh, fetching live otherwise, and falling back to a stale
// cached value if the live fetch fails. It returns ErrBeaconUnavailable
// only when no cached value exists at all.
func (o *Oracle) GetBeaconValue(ctx context.Context, kind Kind) (string, error) {
	if kind == KindDate {
		return o.dateValue(), nil
	}

	o.mu.Lock()
	entry := o.cache[kind]
	if entry != nil && o.now().Before(entry.expiresAt) {
		value := entry.value
		o.mu.Unlock()
		return value, nil
	}
	o.mu.Unlock()

	value, err := o.fetchLive(ctx, kind)
	if err != nil {
		o.mu.Lock()
		entry = o.cache[kind]
		o.mu.Unlock()
		if entry != nil {
			o.logger.Warn("beacon fetch failed, serving stale cache",
				logging.KeyBeaconKind, string(kind),
				logging.KeyError, err.Error())
			return entry.value, nil
		}
		return "", fmt.Errorf("%w: %v", stegoerr.ErrBeaconUnavailable, err)
	}

	info := epochInfo[kind]
	now := o.now()
	o.mu.Lock()
	o.cache[kind] = &cacheEntry{value: value, fetchedAt: now, expiresAt: now.Add(info.CacheDuration)}
	o.appendHistoryLocked(kind, value, now)
	o.mu.Unlock()
	return value, nil
}

func (o *Oracle) fetchLive(ctx context.Context, kind Kind) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch kind {
	case KindBTC:
		return o.fetcher.FetchBTC(fetchCtx)
	case KindNIST:
		return o.fetcher.FetchNIST(fetchCtx)
	default:
		return "", errUnknownKind(kind)
	}
}

// appendHistoryLocked records value in kind's history if it differs from
// the most recently recorded value, trimming to historyCap entries.
// Caller must hold o.mu.
func (o *Oracle) appendHistoryLocked(kind Kind, value string, at time.Time) {
	entries := o.history[kind]
	if len(entries) > 0 && entries[len(entries)-1].Value == value {
		return
	}
	entries = append(entries, HistoryEntry{Value: value, FetchedAt: at})
	if len(entries) > historyCap {
		entries = entries[len(entries)-historyCap:]
	}
	o.history[kind] = entries
}

// SetClockForTest overrides the oracle's time source. Exported for use by
// other packages' tests that need deterministic cache/history behavior;
// production callers never need it.
func (o *Oracle) SetClockForTest(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

// History returns a copy of the recorded history for kind, most recent
// last. KindDate keeps no history since its value is locally derived.
func (o *Oracle) History(kind Kind) []HistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := o.history[kind]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

func (o *Oracle) dateValue() string {
	return o.now().UTC().Format("2006-01-02")
}

// msToNextUTCMidnight returns the time left until the date beacon's next
// rollover at UTC midnight.
func msToNextUTCMidnight(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}
