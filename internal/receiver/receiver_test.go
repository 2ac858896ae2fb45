package receiver

import (
	"context"
	"testing"
	"time"

	"github.com/postalsys/stegochannel/internal/beacon"
	"github.com/postalsys/stegochannel/internal/epoch"
	"github.com/postalsys/stegochannel/internal/frame"
	"github.com/postalsys/stegochannel/internal/source"
	"github.com/postalsys/stegochannel/internal/source/stub"
	"github.com/postalsys/stegochannel/internal/store"
	"github.com/postalsys/stegochannel/internal/textfeature"
)

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i * 3)
	}
	return k
}

func TestDedupKeyStableWithinHourBucket(t *testing.T) {
	post := source.Post{ID: "post-1", CreatedAt: time.Date(2026, 7, 30, 10, 15, 0, 0, time.UTC)}
	same := source.Post{ID: "post-1", CreatedAt: time.Date(2026, 7, 30, 10, 45, 0, 0, time.UTC)}
	different := source.Post{ID: "post-1", CreatedAt: time.Date(2026, 7, 30, 11, 5, 0, 0, time.UTC)}

	if dedupKey(post) != dedupKey(same) {
		t.Error("dedupKey() differs within the same hour bucket")
	}
	if dedupKey(post) == dedupKey(different) {
		t.Error("dedupKey() identical across different hour buckets")
	}
}

func TestSortChronologicalTiesBreakOnPostID(t *testing.T) {
	now := time.Now()
	posts := []source.Post{
		{ID: "b", CreatedAt: now},
		{ID: "a", CreatedAt: now},
	}
	sortChronological(posts)
	if posts[0].ID != "a" || posts[1].ID != "b" {
		t.Errorf("sortChronological() = %v, want [a b]", posts)
	}
}

func TestPollDecodesFrameAcrossSignalPosts(t *testing.T) {
	channelKey := testKey()
	beaconKind := beacon.KindDate
	rate := 1.0 // every post is a signal post, to keep the test deterministic and fast

	oracle := beacon.NewOracle(nil, nil)
	beaconValue, err := oracle.GetBeaconValue(context.Background(), beaconKind)
	if err != nil {
		t.Fatalf("GetBeaconValue() error = %v", err)
	}
	epochKey, err := epoch.DeriveEpochKey(channelKey, beaconKind, beaconValue)
	if err != nil {
		t.Fatalf("DeriveEpochKey() error = %v", err)
	}

	plaintext := []byte("hi")
	bits, err := frame.EncodeFrame(epochKey, 0, plaintext, false)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	feed := stub.NewFeed(source.KindMicroblog)
	sink := feed.Sink("alice")
	for i, bit := range bits {
		text := "short post"
		if bit == 1 {
			text = "this is a deliberately long post so the length feature reads high enough to carry a one bit reliably across runs"
		}
		if _, err := sink.Publish(context.Background(), text, false); err != nil {
			t.Fatalf("Publish() post %d error = %v", i, err)
		}
	}

	poller := NewPoller(Config{
		ChannelID:       "chan-decode",
		ChannelKey:      channelKey,
		BeaconKind:      beaconKind,
		Rate:            rate,
		Features:        []textfeature.FeatureID{textfeature.FeatureLen},
		LengthThreshold: 20,
		Author:          "alice",
	}, []source.PostSource{feed.Source()}, oracle, store.NewMemoryStore(), nil)

	decoded, err := poller.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if decoded == nil {
		t.Fatal("Poll() returned nil decoded frame, want a decoded frame")
	}
	if string(decoded.Payload) != string(plaintext) {
		t.Errorf("Payload = %q, want %q", decoded.Payload, plaintext)
	}
}

func TestPollReturnsNilWhenNoFrameReady(t *testing.T) {
	channelKey := testKey()
	oracle := beacon.NewOracle(nil, nil)
	feed := stub.NewFeed(source.KindMicroblog)
	feed.Sink("alice").Publish(context.Background(), "just a normal post", false)

	poller := NewPoller(Config{
		ChannelID:       "chan-empty",
		ChannelKey:      channelKey,
		BeaconKind:      beacon.KindDate,
		Rate:            0.01,
		Features:        []textfeature.FeatureID{textfeature.FeatureLen},
		LengthThreshold: 20,
		Author:          "alice",
	}, []source.PostSource{feed.Source()}, oracle, store.NewMemoryStore(), nil)

	decoded, err := poller.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if decoded != nil {
		t.Errorf("Poll() = %+v, want nil (no frame should have completed)", decoded)
	}
}

func TestPollDedupsAcrossTicks(t *testing.T) {
	channelKey := testKey()
	oracle := beacon.NewOracle(nil, nil)
	feed := stub.NewFeed(source.KindMicroblog)
	feed.Sink("alice").Publish(context.Background(), "post one", false)

	st := store.NewMemoryStore()
	poller := NewPoller(Config{
		ChannelID:       "chan-dedup",
		ChannelKey:      channelKey,
		BeaconKind:      beacon.KindDate,
		Rate:            0.01,
		Features:        []textfeature.FeatureID{textfeature.FeatureLen},
		LengthThreshold: 20,
		Author:          "alice",
	}, []source.PostSource{feed.Source()}, oracle, st, nil)

	if _, err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("first Poll() error = %v", err)
	}
	if _, err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll() error = %v", err)
	}

	state, err := st.Load(context.Background(), "chan-dedup")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(state.ProcessedPostIDs) != 1 {
		t.Errorf("len(ProcessedPostIDs) = %d, want 1 (post seen across two ticks)", len(state.ProcessedPostIDs))
	}
}
