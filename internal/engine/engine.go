// Package engine composes the beacon oracle, channel registry, and
// per-channel sender/receiver pipelines into the single long-lived value a
// process holds: the Engine. It owns one poll-loop goroutine per channel,
// mirroring the teacher's per-connection goroutine-plus-ticker pattern.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/postalsys/stegochannel/internal/beacon"
	"github.com/postalsys/stegochannel/internal/config"
	"github.com/postalsys/stegochannel/internal/frame"
	"github.com/postalsys/stegochannel/internal/logging"
	"github.com/postalsys/stegochannel/internal/metrics"
	"github.com/postalsys/stegochannel/internal/receiver"
	"github.com/postalsys/stegochannel/internal/recovery"
	"github.com/postalsys/stegochannel/internal/sender"
	"github.com/postalsys/stegochannel/internal/source"
	"github.com/postalsys/stegochannel/internal/stegoerr"
	"github.com/postalsys/stegochannel/internal/store"
	"github.com/postalsys/stegochannel/internal/textfeature"
)

// DefaultPollInterval is how often a channel's poll loop checks its
// sources for new posts when no interval is given explicitly.
const DefaultPollInterval = 30 * time.Second

// channel bundles everything the engine needs to drive one registered
// channel's send and receive pipelines.
type channel struct {
	cfg      config.ChannelConfig
	features []textfeature.FeatureID
	send     *sender.Channel
	poll     *receiver.Poller
	sink     source.PostSink

	cancel context.CancelFunc
}

// Engine is the top-level value a process constructs once: it owns the
// beacon oracle, the channel registry, and the running poll loops.
type Engine struct {
	oracle  *beacon.Oracle
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.RWMutex
	channels map[string]*channel

	wg sync.WaitGroup
}

// New builds an Engine. fetcher may be nil to use the default HTTP
// fetcher; st and m default to an in-memory store and the default metrics
// registry when nil.
func New(fetcher beacon.Fetcher, st store.Store, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if st == nil {
		st = store.NewMemoryStore()
	}
	if m == nil {
		m = metrics.Default()
	}
	if fetcher == nil {
		fetcher = beacon.NewHTTPFetcher("", "", "")
	}
	return &Engine{
		oracle:   beacon.NewOracle(fetcher, logger),
		store:    st,
		metrics:  m,
		logger:   logger,
		channels: make(map[string]*channel),
	}
}

// RegisterChannel adds a channel to the engine, building its sender and
// receiver pipelines from cfg. theirSources supplies one PostSource per
// name in cfg.TheirSources; sink is where QueueMessage's transmissions are
// actually published.
func (e *Engine) RegisterChannel(cfg config.ChannelConfig, theirSources []source.PostSource, sink source.PostSink) error {
	key, err := cfg.ResolvedKey()
	if err != nil {
		return err
	}
	kind, err := cfg.ResolvedBeaconKind()
	if err != nil {
		return err
	}
	rate, err := cfg.ResolvedRate()
	if err != nil {
		return err
	}
	features, err := cfg.ResolvedFeatures()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.channels[cfg.ID]; exists {
		return fmt.Errorf("engine: channel %q already registered", cfg.ID)
	}

	sendCh := sender.NewChannel(sender.Config{
		ChannelID:       cfg.ID,
		ChannelKey:      key,
		BeaconKind:      kind,
		Rate:            rate,
		LengthThreshold: cfg.LengthThreshold,
	}, e.oracle, e.logger)

	poller := receiver.NewPoller(receiver.Config{
		ChannelID:       cfg.ID,
		ChannelKey:      key,
		BeaconKind:      kind,
		Rate:            rate,
		Features:        features,
		LengthThreshold: cfg.LengthThreshold,
		Author:          cfg.MySource,
	}, theirSources, e.oracle, e.store, e.logger)

	e.channels[cfg.ID] = &channel{
		cfg:      cfg,
		features: features,
		send:     sendCh,
		poll:     poller,
		sink:     sink,
	}
	e.metrics.RecordChannelRegistered()
	return nil
}

// RemoveChannel stops a channel's poll loop (if running) and removes it
// from the registry.
func (e *Engine) RemoveChannel(channelID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[channelID]
	if !ok {
		return fmt.Errorf("engine: %w: %s", stegoerr.ErrChannelUnknown, channelID)
	}
	if ch.cancel != nil {
		ch.cancel()
	}
	delete(e.channels, channelID)
	e.metrics.RecordChannelRemoved()
	return nil
}

func (e *Engine) channelLocked(channelID string) (*channel, error) {
	ch, ok := e.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("engine: %w: %s", stegoerr.ErrChannelUnknown, channelID)
	}
	return ch, nil
}

// PollOnce runs a single receive-side poll tick for channelID, independent
// of any running background poll loop. The CLI's demo command drives it.
func (e *Engine) PollOnce(ctx context.Context, channelID string) (*frame.Decoded, error) {
	e.mu.RLock()
	ch, err := e.channelLocked(channelID)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	decoded, err := ch.poll.Poll(ctx)
	e.metrics.RecordPoll(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if decoded != nil {
		e.metrics.RecordFrameDecoded()
	}
	return decoded, nil
}

// QueueMessage enqueues plaintext for a channel's send-side transmission.
func (e *Engine) QueueMessage(channelID string, plaintext []byte, priority sender.Priority, encrypt bool) error {
	e.mu.RLock()
	ch, err := e.channelLocked(channelID)
	e.mu.RUnlock()
	if err != nil {
		return err
	}
	e.metrics.RecordTransmissionStarted()
	return ch.send.QueueMessage(plaintext, priority, encrypt)
}

// DrainSendQueue drives a channel's sender to completion: while it has a
// queued or active transmission, it generates cover text satisfying the
// next expected bits, publishes it through the channel's sink, and
// confirms or discards the post depending on whether it was selected as a
// signal post. It returns once the queue is empty and no transmission is
// active, or ctx is cancelled.
func (e *Engine) DrainSendQueue(ctx context.Context, channelID string) error {
	e.mu.RLock()
	ch, err := e.channelLocked(channelID)
	e.mu.RUnlock()
	if err != nil {
		return err
	}
	if ch.sink == nil {
		return fmt.Errorf("engine: channel %q has no post sink configured", channelID)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if ch.send.State() == sender.StateIdle {
			if ch.send.QueueLen() == 0 {
				return nil
			}
			if err := ch.send.StartNext(ctx); err != nil {
				return fmt.Errorf("engine: start next transmission: %w", err)
			}
		}

		if err := e.publishOneCoverPost(ctx, ch); err != nil {
			return err
		}
	}
}

// postBitWidth is the number of bits a single post carries for ch: the sum
// of bit widths of every feature the channel is configured to extract.
func postBitWidth(features []textfeature.FeatureID) int {
	n := 0
	for _, f := range features {
		n += textfeature.BitWidth(f)
	}
	return n
}

func (e *Engine) publishOneCoverPost(ctx context.Context, ch *channel) error {
	width := postBitWidth(ch.features)
	bits, err := ch.send.NextBits(width)
	if err != nil {
		return fmt.Errorf("engine: next bits: %w", err)
	}
	carried := len(bits)
	if len(bits) < width {
		// Last post of a transmission may carry fewer bits than the
		// feature set needs; pad with zeros so every configured
		// feature still gets a value to encode.
		padded := make([]byte, width)
		copy(padded, bits)
		bits = padded
	}

	text, hasMedia, err := generateCoverText(bits, ch.features, ch.cfg.LengthThreshold)
	if err != nil {
		return fmt.Errorf("engine: generate cover text: %w", err)
	}

	post, err := ch.sink.Publish(ctx, text, hasMedia)
	if err != nil {
		return fmt.Errorf("engine: publish post: %w", err)
	}

	signal, err := ch.send.CheckPost(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("engine: check post: %w", err)
	}
	if !signal {
		return nil
	}

	done, err := ch.send.ConfirmBits(width)
	if err != nil {
		return fmt.Errorf("engine: confirm bits: %w", err)
	}
	e.metrics.BitsSent.WithLabelValues(ch.cfg.ID).Add(float64(carried))
	if done {
		e.metrics.RecordTransmissionCompleted(ch.cfg.ID, 0)
	}
	return nil
}

// StartPolling begins a background poll loop for channelID at the given
// interval (DefaultPollInterval if zero). onDecoded, if non-nil, is
// invoked with each frame successfully decoded.
func (e *Engine) StartPolling(ctx context.Context, channelID string, interval time.Duration, onDecoded func(*frame.Decoded)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	e.mu.Lock()
	ch, err := e.channelLocked(channelID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if ch.cancel != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: channel %q already polling", channelID)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	ch.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.pollLoop(loopCtx, ch, interval, onDecoded)
	return nil
}

// StopPolling cancels channelID's poll loop, if running.
func (e *Engine) StopPolling(channelID string) error {
	e.mu.Lock()
	ch, err := e.channelLocked(channelID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) pollLoop(ctx context.Context, ch *channel, interval time.Duration, onDecoded func(*frame.Decoded)) {
	defer e.wg.Done()
	defer recovery.RecoverWithLog(e.logger, "engine.pollLoop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			decoded, err := ch.poll.Poll(ctx)
			e.metrics.RecordPoll(time.Since(start).Seconds())
			if err != nil {
				e.logger.Warn("poll failed",
					logging.KeyChannelID, ch.cfg.ID,
					logging.KeyError, err.Error())
				continue
			}
			if decoded == nil {
				continue
			}
			e.metrics.RecordFrameDecoded()
			if onDecoded != nil {
				onDecoded(decoded)
			}
		}
	}
}

// Shutdown stops every channel's poll loop and waits for them to exit.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, ch := range e.channels {
		if ch.cancel != nil {
			ch.cancel()
			ch.cancel = nil
		}
	}
	e.mu.Unlock()
	e.wg.Wait()
}
