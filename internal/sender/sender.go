// Package sender implements the per-channel send-side state machine: a
// message queue, frame encoding against the current epoch key, and the
// bit-by-bit confirmation loop a channel's poll loop drives as it
// publishes posts.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/postalsys/stegochannel/internal/beacon"
	"github.com/postalsys/stegochannel/internal/crypto"
	"github.com/postalsys/stegochannel/internal/epoch"
	"github.com/postalsys/stegochannel/internal/frame"
	"github.com/postalsys/stegochannel/internal/logging"
	"github.com/postalsys/stegochannel/internal/selector"
	"github.com/postalsys/stegochannel/internal/stegoerr"
)

// Priority orders queued messages: high-priority messages are sent before
// any normal-priority message queued earlier.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// State is a channel's transmission state.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

type queuedMessage struct {
	plaintext []byte
	priority  Priority
	encrypt   bool
}

// Channel is the send-side state machine for one channel.
type Channel struct {
	mu sync.Mutex

	id              string
	channelKey      [32]byte
	beaconKind      beacon.Kind
	rate            float64
	lengthThreshold int

	oracle *beacon.Oracle
	logger *slog.Logger

	state State
	queue []queuedMessage

	seqNum            uint64
	activeEpochKey    [32]byte
	activeBeaconValue string
	pendingBits       []byte
	cursor            int
}

// Config bundles the fixed per-channel parameters a Channel needs.
type Config struct {
	ChannelID       string
	ChannelKey      [32]byte
	BeaconKind      beacon.Kind
	Rate            float64
	LengthThreshold int
}

// NewChannel builds an idle Channel.
func NewChannel(cfg Config, oracle *beacon.Oracle, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Channel{
		id:              cfg.ChannelID,
		channelKey:      cfg.ChannelKey,
		beaconKind:      cfg.BeaconKind,
		rate:            cfg.Rate,
		lengthThreshold: cfg.LengthThreshold,
		oracle:          oracle,
		logger:          logger,
		state:           StateIdle,
	}
}

// State reports the channel's current transmission state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueMessage enqueues plaintext for transmission. High-priority messages
// are dequeued ahead of any normal-priority message already queued.
func (c *Channel) QueueMessage(plaintext []byte, priority Priority, encrypt bool) error {
	if len(plaintext)*8 > 0xFFFF {
		return stegoerr.ErrMessageTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msg := queuedMessage{plaintext: append([]byte(nil), plaintext...), priority: priority, encrypt: encrypt}
	if priority == PriorityHigh {
		insertAt := 0
		for insertAt < len(c.queue) && c.queue[insertAt].priority == PriorityHigh {
			insertAt++
		}
		c.queue = append(c.queue, queuedMessage{})
		copy(c.queue[insertAt+1:], c.queue[insertAt:])
		c.queue[insertAt] = msg
	} else {
		c.queue = append(c.queue, msg)
	}
	return nil
}

// StartNext begins transmitting the next queued message. It fails with
// ErrLocked if a transmission is already active, and ErrNoTransmission if
// the queue is empty.
func (c *Channel) StartNext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateActive {
		return stegoerr.ErrLocked
	}
	if len(c.queue) == 0 {
		return stegoerr.ErrNoTransmission
	}

	epochKey, beaconValue, err := c.refreshEpochKeyLocked(ctx)
	if err != nil {
		return err
	}

	msg := c.queue[0]
	c.queue = c.queue[1:]

	bits, err := frame.EncodeFrame(epochKey, c.seqNum, msg.plaintext, msg.encrypt)
	if err != nil {
		return fmt.Errorf("sender: encode frame: %w", err)
	}

	c.activeEpochKey = epochKey
	c.activeBeaconValue = beaconValue
	c.pendingBits = bits
	c.cursor = 0
	c.state = StateActive

	c.logger.Info("transmission started",
		logging.KeyChannelID, c.id,
		logging.KeySeqNum, c.seqNum,
		logging.KeyBitCount, len(bits),
	)
	return nil
}

// CheckPost reports whether post should be treated as a signal post under
// the channel's active (or, if idle, current) epoch key and selection
// rate. It does not consume a bit; callers call ConfirmPost once the post
// has actually been published carrying the expected bit.
func (c *Channel) CheckPost(ctx context.Context, postID string) (bool, error) {
	c.mu.Lock()
	epochKey := c.activeEpochKey
	active := c.state == StateActive
	c.mu.Unlock()

	if !active {
		var err error
		epochKey, _, err = c.currentEpochKey(ctx)
		if err != nil {
			return false, err
		}
	}
	return selector.IsSignalPost(epochKey, postID, c.rate), nil
}

// NextBit returns the bit the active transmission expects the next signal
// post to carry. It fails with ErrNoTransmission if the channel is idle.
func (c *Channel) NextBit() (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return 0, stegoerr.ErrNoTransmission
	}
	return c.pendingBits[c.cursor], nil
}

// ConfirmPost advances the transmission cursor after a signal post has
// been published carrying the expected bit. When every bit has been
// confirmed, the transmission completes idempotently: the channel zeroizes
// its active epoch key, advances its sequence number, and returns to Idle.
func (c *Channel) ConfirmPost() (done bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return false, stegoerr.ErrNoTransmission
	}

	c.cursor++
	if c.cursor < len(c.pendingBits) {
		return false, nil
	}

	c.completeLocked()
	return true, nil
}

// NextBits returns up to n of the bits the active transmission expects the
// next signal post to carry, starting at the current cursor. A signal post
// carries the combined bit width of every feature a channel is configured
// with, not just one bit, so callers whose feature set needs more than a
// single bit per post use this instead of NextBit. It returns fewer than n
// bits, without error, when fewer than n remain: the caller is expected to
// pad the remainder (e.g. zero bits) onto the last, shorter post of a
// transmission.
func (c *Channel) NextBits(n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return nil, stegoerr.ErrNoTransmission
	}
	remaining := len(c.pendingBits) - c.cursor
	if n > remaining {
		n = remaining
	}
	return append([]byte(nil), c.pendingBits[c.cursor:c.cursor+n]...), nil
}

// ConfirmBits advances the transmission cursor by n bits after a signal
// post has been published carrying them, and is the multi-bit counterpart
// to ConfirmPost. n must not exceed the count NextBits last returned, or
// the cursor would skip past unconfirmed bits.
func (c *Channel) ConfirmBits(n int) (done bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return false, stegoerr.ErrNoTransmission
	}

	c.cursor += n
	if c.cursor < len(c.pendingBits) {
		return false, nil
	}

	c.completeLocked()
	return true, nil
}

// CancelTransmission aborts the active transmission without completing
// it. The partially-sent message is dropped; the channel returns to Idle
// and its sequence number is left unchanged, since no receiver could have
// assembled a full frame from a partial bit stream.
func (c *Channel) CancelTransmission() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return stegoerr.ErrNoTransmission
	}
	c.resetActiveLocked()
	c.state = StateIdle
	return nil
}

func (c *Channel) completeLocked() {
	c.seqNum++
	c.resetActiveLocked()
	c.state = StateIdle
	c.logger.Info("transmission completed",
		logging.KeyChannelID, c.id,
		logging.KeySeqNum, c.seqNum-1,
	)
}

func (c *Channel) resetActiveLocked() {
	crypto.ZeroKey32(&c.activeEpochKey)
	crypto.ZeroBytes(c.pendingBits)
	c.pendingBits = nil
	c.cursor = 0
	c.activeBeaconValue = ""
}

// GetOrRefreshEpochKey returns the epoch key for the channel's current
// beacon value, refreshing it from the oracle when idle; while a
// transmission is active, the epoch key used to start it is held fixed so
// a long message isn't split across a beacon rollover.
func (c *Channel) GetOrRefreshEpochKey(ctx context.Context) ([32]byte, error) {
	key, _, err := c.currentEpochKey(ctx)
	return key, err
}

func (c *Channel) currentEpochKey(ctx context.Context) ([32]byte, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		return c.activeEpochKey, c.activeBeaconValue, nil
	}
	return c.refreshEpochKeyLocked(ctx)
}

func (c *Channel) refreshEpochKeyLocked(ctx context.Context) ([32]byte, string, error) {
	beaconValue, err := c.oracle.GetBeaconValue(ctx, c.beaconKind)
	if err != nil {
		return [32]byte{}, "", err
	}
	key, err := epoch.DeriveEpochKey(c.channelKey, c.beaconKind, beaconValue)
	if err != nil {
		return [32]byte{}, "", err
	}
	return key, beaconValue, nil
}

// QueueLen reports how many messages are waiting to be sent.
func (c *Channel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
