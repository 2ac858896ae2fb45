package sender

import (
	"context"
	"errors"
	"testing"

	"github.com/postalsys/stegochannel/internal/beacon"
	"github.com/postalsys/stegochannel/internal/stegoerr"
)

type fixedFetcher struct{ value string }

func (f *fixedFetcher) FetchBTC(ctx context.Context) (string, error)  { return f.value, nil }
func (f *fixedFetcher) FetchNIST(ctx context.Context) (string, error) { return f.value, nil }

func testChannel(t *testing.T) *Channel {
	t.Helper()
	oracle := beacon.NewOracle(&fixedFetcher{value: "date-does-not-use-this"}, nil)
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return NewChannel(Config{
		ChannelID:       "chan-1",
		ChannelKey:      key,
		BeaconKind:      beacon.KindDate,
		Rate:            0.3,
		LengthThreshold: 20,
	}, oracle, nil)
}

func TestQueueMessageHighPriorityJumpsQueue(t *testing.T) {
	c := testChannel(t)
	if err := c.QueueMessage([]byte("normal-1"), PriorityNormal, false); err != nil {
		t.Fatalf("QueueMessage() error = %v", err)
	}
	if err := c.QueueMessage([]byte("high-1"), PriorityHigh, false); err != nil {
		t.Fatalf("QueueMessage() error = %v", err)
	}
	if got := c.QueueLen(); got != 2 {
		t.Fatalf("QueueLen() = %d, want 2", got)
	}
	if string(c.queue[0].plaintext) != "high-1" {
		t.Errorf("queue[0] = %q, want high-1 ahead of normal-1", c.queue[0].plaintext)
	}
}

func TestStartNextRequiresQueuedMessage(t *testing.T) {
	c := testChannel(t)
	err := c.StartNext(context.Background())
	if !errors.Is(err, stegoerr.ErrNoTransmission) {
		t.Errorf("StartNext() on empty queue error = %v, want ErrNoTransmission", err)
	}
}

func TestStartNextTwiceIsLocked(t *testing.T) {
	c := testChannel(t)
	if err := c.QueueMessage([]byte("hello"), PriorityNormal, false); err != nil {
		t.Fatalf("QueueMessage() error = %v", err)
	}
	if err := c.StartNext(context.Background()); err != nil {
		t.Fatalf("StartNext() error = %v", err)
	}
	err := c.StartNext(context.Background())
	if !errors.Is(err, stegoerr.ErrLocked) {
		t.Errorf("second StartNext() error = %v, want ErrLocked", err)
	}
}

func TestConfirmPostDrivesTransmissionToCompletion(t *testing.T) {
	c := testChannel(t)
	if err := c.QueueMessage([]byte("hi"), PriorityNormal, false); err != nil {
		t.Fatalf("QueueMessage() error = %v", err)
	}
	if err := c.StartNext(context.Background()); err != nil {
		t.Fatalf("StartNext() error = %v", err)
	}

	totalBits := len(c.pendingBits)
	if totalBits == 0 {
		t.Fatal("pendingBits is empty after StartNext")
	}

	for i := 0; i < totalBits-1; i++ {
		done, err := c.ConfirmPost()
		if err != nil {
			t.Fatalf("ConfirmPost() error = %v", err)
		}
		if done {
			t.Fatalf("ConfirmPost() reported done early at bit %d/%d", i, totalBits)
		}
	}

	done, err := c.ConfirmPost()
	if err != nil {
		t.Fatalf("final ConfirmPost() error = %v", err)
	}
	if !done {
		t.Fatal("final ConfirmPost() did not report completion")
	}
	if c.State() != StateIdle {
		t.Errorf("State() after completion = %v, want Idle", c.State())
	}
	if c.seqNum != 1 {
		t.Errorf("seqNum after completion = %d, want 1", c.seqNum)
	}
}

func TestCancelTransmissionResetsWithoutAdvancingSeq(t *testing.T) {
	c := testChannel(t)
	if err := c.QueueMessage([]byte("hi"), PriorityNormal, false); err != nil {
		t.Fatalf("QueueMessage() error = %v", err)
	}
	if err := c.StartNext(context.Background()); err != nil {
		t.Fatalf("StartNext() error = %v", err)
	}
	if err := c.CancelTransmission(); err != nil {
		t.Fatalf("CancelTransmission() error = %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("State() after cancel = %v, want Idle", c.State())
	}
	if c.seqNum != 0 {
		t.Errorf("seqNum after cancel = %d, want unchanged 0", c.seqNum)
	}
	var zero [32]byte
	if c.activeEpochKey != zero {
		t.Error("activeEpochKey not zeroized after cancel")
	}
}

func TestNextBitRequiresActiveTransmission(t *testing.T) {
	c := testChannel(t)
	_, err := c.NextBit()
	if !errors.Is(err, stegoerr.ErrNoTransmission) {
		t.Errorf("NextBit() on idle channel error = %v, want ErrNoTransmission", err)
	}
}

func TestNextBitsAndConfirmBitsDriveTransmissionToCompletion(t *testing.T) {
	c := testChannel(t)
	if err := c.QueueMessage([]byte("hi"), PriorityNormal, false); err != nil {
		t.Fatalf("QueueMessage() error = %v", err)
	}
	if err := c.StartNext(context.Background()); err != nil {
		t.Fatalf("StartNext() error = %v", err)
	}

	totalBits := len(c.pendingBits)
	const width = 3

	var confirmed int
	for {
		bits, err := c.NextBits(width)
		if err != nil {
			t.Fatalf("NextBits() error = %v", err)
		}
		if len(bits) == 0 {
			t.Fatal("NextBits() returned no bits while transmission still active")
		}
		done, err := c.ConfirmBits(len(bits))
		if err != nil {
			t.Fatalf("ConfirmBits() error = %v", err)
		}
		confirmed += len(bits)
		if done {
			break
		}
	}

	if confirmed != totalBits {
		t.Errorf("confirmed %d bits, want %d", confirmed, totalBits)
	}
	if c.State() != StateIdle {
		t.Errorf("State() after completion = %v, want Idle", c.State())
	}
}

func TestNextBitsCapsAtRemainingBits(t *testing.T) {
	c := testChannel(t)
	if err := c.QueueMessage([]byte("hi"), PriorityNormal, false); err != nil {
		t.Fatalf("QueueMessage() error = %v", err)
	}
	if err := c.StartNext(context.Background()); err != nil {
		t.Fatalf("StartNext() error = %v", err)
	}

	totalBits := len(c.pendingBits)
	bits, err := c.NextBits(totalBits + 10)
	if err != nil {
		t.Fatalf("NextBits() error = %v", err)
	}
	if len(bits) != totalBits {
		t.Errorf("NextBits(overlarge) returned %d bits, want %d", len(bits), totalBits)
	}
}

func TestNextBitsRequiresActiveTransmission(t *testing.T) {
	c := testChannel(t)
	_, err := c.NextBits(3)
	if !errors.Is(err, stegoerr.ErrNoTransmission) {
		t.Errorf("NextBits() on idle channel error = %v, want ErrNoTransmission", err)
	}
}

func TestCheckPostDeterministicForSamePost(t *testing.T) {
	c := testChannel(t)
	a, err := c.CheckPost(context.Background(), "post-123")
	if err != nil {
		t.Fatalf("CheckPost() error = %v", err)
	}
	b, err := c.CheckPost(context.Background(), "post-123")
	if err != nil {
		t.Fatalf("CheckPost() error = %v", err)
	}
	if a != b {
		t.Error("CheckPost() not deterministic for the same post id")
	}
}
