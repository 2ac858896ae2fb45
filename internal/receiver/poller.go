// Package receiver implements the receive-side poll loop: fan out to every
// configured post source, deduplicate and chronologically order new
// posts, identify which are signal posts under each epoch-key candidate,
// extract their bits, and trial-decode a frame from the accumulated bit
// stream.
package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/postalsys/stegochannel/internal/beacon"
	"github.com/postalsys/stegochannel/internal/epoch"
	"github.com/postalsys/stegochannel/internal/frame"
	"github.com/postalsys/stegochannel/internal/logging"
	"github.com/postalsys/stegochannel/internal/recovery"
	"github.com/postalsys/stegochannel/internal/selector"
	"github.com/postalsys/stegochannel/internal/source"
	"github.com/postalsys/stegochannel/internal/store"
	"github.com/postalsys/stegochannel/internal/textfeature"
)

// MaxSeqSkip bounds how many sequence numbers past the receiver's last
// confirmed one a trial decode will attempt, so a handful of dropped
// messages don't strand the receiver forever.
const MaxSeqSkip = 5

// Config bundles the fixed per-channel parameters a Poller needs.
type Config struct {
	ChannelID       string
	ChannelKey      [32]byte
	BeaconKind      beacon.Kind
	Rate            float64
	Features        []textfeature.FeatureID
	LengthThreshold int
	Author          string
}

// Poller drives one channel's receive side.
type Poller struct {
	cfg     Config
	sources []source.PostSource
	oracle  *beacon.Oracle
	store   store.Store
	logger  *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// NewPoller builds a Poller over the given post sources.
func NewPoller(cfg Config, sources []source.PostSource, oracle *beacon.Oracle, st store.Store, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Poller{cfg: cfg, sources: sources, oracle: oracle, store: st, logger: logger}
}

// Poll runs one receive tick: fetch, dedup, extract, trial-decode. It
// returns a non-nil Decoded only when a full frame was recovered this
// tick; a nil, nil return means no frame is ready yet and the caller
// should try again on the next tick.
func (p *Poller) Poll(ctx context.Context) (*frame.Decoded, error) {
	state, err := p.loadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("receiver: load state: %w", err)
	}

	since := p.sinceFloor(state)
	posts, err := p.fetchAll(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("receiver: fetch posts: %w", err)
	}

	fresh := p.dedupFresh(state, posts)
	sortChronological(fresh)

	candidates, err := epoch.GraceCandidates(ctx, p.cfg.BeaconKind, p.cfg.ChannelKey, p.oracle, time.Now())
	if err != nil {
		return nil, fmt.Errorf("receiver: resolve epoch candidates: %w", err)
	}

	var decoded *frame.Decoded
	for _, cand := range candidates {
		bits := p.extractSignalBits(cand, fresh)

		if cand.Age == 0 {
			if state.ActiveEpochID != cand.BeaconValue {
				state.ActiveEpochID = cand.BeaconValue
				state.CollectedBits = nil
			}
			state.CollectedBits = append(state.CollectedBits, bits...)
			bits = state.CollectedBits
		}

		if result, seq, ok := tryDecode(cand.EpochKey, state.ReceiverSeqNum, bits); ok {
			decoded = result
			state.ReceiverSeqNum = seq + 1
			if cand.Age == 0 {
				state.CollectedBits = nil
			}
			p.logger.Info("frame decoded",
				logging.KeyChannelID, p.cfg.ChannelID,
				logging.KeySeqNum, seq,
				logging.KeyBeaconValue, cand.BeaconValue,
			)
			break
		}
	}

	if len(fresh) > 0 {
		p.markObservedLocked(state, fresh[len(fresh)-1].CreatedAt)
	}
	pruneOlderThan(state.ProcessedPostIDs, time.Now().Add(-dedupWindow))

	if err := p.store.Save(ctx, p.cfg.ChannelID, state); err != nil {
		return nil, fmt.Errorf("receiver: save state: %w", err)
	}
	return decoded, nil
}

func (p *Poller) sinceFloor(state *store.TransmissionState) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() {
		return p.last
	}
	return time.Now().Add(-dedupWindow)
}

func (p *Poller) markObservedLocked(state *store.TransmissionState, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if at.After(p.last) {
		p.last = at
	}
}

func (p *Poller) loadState(ctx context.Context) (*store.TransmissionState, error) {
	state, err := p.store.Load(ctx, p.cfg.ChannelID)
	if err != nil {
		var notFound *store.ErrNotFound
		if asNotFound(err, &notFound) {
			return store.NewTransmissionState(p.cfg.ChannelID), nil
		}
		return nil, err
	}
	return state, nil
}

func asNotFound(err error, target **store.ErrNotFound) bool {
	nf, ok := err.(*store.ErrNotFound)
	if ok {
		*target = nf
	}
	return ok
}

type fetchResult struct {
	posts []source.Post
	err   error
}

// fetchAll polls every configured source concurrently and merges their
// results, logging (but not failing the tick for) a single source's error.
func (p *Poller) fetchAll(ctx context.Context, since time.Time) ([]source.Post, error) {
	results := make(chan fetchResult, len(p.sources))
	var wg sync.WaitGroup
	for _, src := range p.sources {
		wg.Add(1)
		go func(s source.PostSource) {
			defer wg.Done()
			defer recovery.RecoverWithLog(p.logger, "receiver.fetch")
			posts, err := s.ListRecentPosts(ctx, p.cfg.Author, since)
			results <- fetchResult{posts: posts, err: err}
		}(src)
	}
	wg.Wait()
	close(results)

	var all []source.Post
	for r := range results {
		if r.err != nil {
			p.logger.Warn("source fetch failed", logging.KeyError, r.err.Error())
			continue
		}
		all = append(all, r.posts...)
	}
	return all, nil
}

// dedupFresh filters posts down to those not already recorded in state's
// processed set, marking the surviving ones as seen.
func (p *Poller) dedupFresh(state *store.TransmissionState, posts []source.Post) []source.Post {
	fresh := make([]source.Post, 0, len(posts))
	now := time.Now().Unix()
	for _, post := range posts {
		key := dedupKey(post)
		if _, seen := state.ProcessedPostIDs[key]; seen {
			continue
		}
		state.ProcessedPostIDs[key] = now
		fresh = append(fresh, post)
	}
	return fresh
}

// sortChronological orders posts by creation time, breaking ties by post
// id so that two posts published in the same instant have a stable,
// deterministic order both parties agree on.
func sortChronological(posts []source.Post) {
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.Before(posts[j].CreatedAt)
		}
		return posts[i].ID < posts[j].ID
	})
}

// extractSignalBits returns, in chronological order, the bits carried by
// every post in posts that selects as a signal post under cand's epoch
// key. Posts selecting a reserved/unimplemented feature are skipped
// rather than aborting the whole tick.
func (p *Poller) extractSignalBits(cand epoch.Candidate, posts []source.Post) []byte {
	var bits []byte
	for _, post := range posts {
		if !selector.IsSignalPost(cand.EpochKey, post.ID, p.cfg.Rate) {
			continue
		}
		extracted, err := textfeature.ExtractBits(textfeature.Post{Text: post.Text, HasMedia: post.HasMedia}, p.cfg.Features, p.cfg.LengthThreshold)
		if err != nil {
			p.logger.Warn("skipping signal post with unextractable feature",
				logging.KeyChannelID, p.cfg.ChannelID,
				logging.KeyPostID, post.ID,
				logging.KeyError, err.Error())
			continue
		}
		bits = append(bits, extracted...)
	}
	return bits
}

// tryDecode attempts to decode bits against epochKey across the sequence
// number window [fromSeq, fromSeq+MaxSeqSkip], returning the first
// successful decode.
func tryDecode(epochKey [32]byte, fromSeq uint64, bits []byte) (*frame.Decoded, uint64, bool) {
	for seq := fromSeq; seq <= fromSeq+MaxSeqSkip; seq++ {
		decoded, err := frame.DecodeFrame(epochKey, seq, bits)
		if err == nil {
			return decoded, seq, true
		}
	}
	return nil, 0, false
}
