// Package store persists per-channel transmission and reception state. The
// receiver saves and loads its state here so an engine restart doesn't
// re-process posts it already decoded. The sender does not use the store:
// its queue, in-flight transmission and sequence number live only in
// memory and are lost on restart.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TransmissionState is the versioned, JSON-serialized per-channel state.
// The receiver pipeline persists it between polls; the sender-side fields
// are part of the schema but nothing writes them.
type TransmissionState struct {
	SchemaVersion int `json:"schema_version"`

	ChannelID string `json:"channel_id"`

	// Sender-side fields.
	SenderSeqNum    uint64 `json:"sender_seq_num"`
	PendingBits     []byte `json:"pending_bits,omitempty"`
	PendingCursor   int    `json:"pending_cursor"`
	ActiveEpochID   string `json:"active_epoch_id,omitempty"`

	// Receiver-side fields.
	ReceiverSeqNum   uint64            `json:"receiver_seq_num"`
	ProcessedPostIDs map[string]int64  `json:"processed_post_ids,omitempty"` // dedup key -> unix seconds observed
	CollectedBits    []byte            `json:"collected_bits,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

const currentSchemaVersion = 1

// NewTransmissionState returns an empty, current-schema state for channelID.
func NewTransmissionState(channelID string) *TransmissionState {
	return &TransmissionState{
		SchemaVersion:    currentSchemaVersion,
		ChannelID:        channelID,
		ProcessedPostIDs: make(map[string]int64),
	}
}

// Store persists TransmissionState by channel id.
type Store interface {
	Save(ctx context.Context, channelID string, state *TransmissionState) error
	Load(ctx context.Context, channelID string) (*TransmissionState, error)
	Delete(ctx context.Context, channelID string) error
}

// ErrNotFound is returned by Load when no state has been saved for a
// channel id.
type ErrNotFound struct{ ChannelID string }

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("store: no state for channel %q", e.ChannelID)
}

// Marshal and Unmarshal are exposed so store implementations that persist
// to an opaque byte sink (a file, a blob, a KV value) don't each
// reimplement the schema-versioned encoding.
func Marshal(state *TransmissionState) ([]byte, error) {
	return json.Marshal(state)
}

func Unmarshal(data []byte) (*TransmissionState, error) {
	var state TransmissionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("store: decode state: %w", err)
	}
	if state.SchemaVersion > currentSchemaVersion {
		return nil, fmt.Errorf("store: state schema version %d newer than supported %d",
			state.SchemaVersion, currentSchemaVersion)
	}
	if state.ProcessedPostIDs == nil {
		state.ProcessedPostIDs = make(map[string]int64)
	}
	return &state, nil
}
