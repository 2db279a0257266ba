package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Debezium operation codes.
const (
	OpCreate   = "c"
	OpUpdate   = "u"
	OpDelete   = "d"
	OpSnapshot = "r"
)

// ErrTombstone is returned by Decode for the empty record Debezium writes
// after every delete so the topic can be compacted.
var ErrTombstone = errors.New("debezium tombstone")

// DebeziumFollowRecord is one row image of the follows table.
type DebeziumFollowRecord struct {
	ID          int64   `json:"id"`
	FollowerID  string  `json:"follower_id"`
	FollowingID string  `json:"following_id"`
	CreatedAt   *string `json:"created_at"`
}

// DebeziumPayload is the payload field of a Debezium CDC message.
type DebeziumPayload struct {
	Before *DebeziumFollowRecord `json:"before"`
	After  *DebeziumFollowRecord `json:"after"`
	Op     string                `json:"op"`
	TsMs   int64                 `json:"ts_ms"`
}

// DebeziumMessage is the top-level Debezium CDC message envelope.
type DebeziumMessage struct {
	Payload DebeziumPayload `json:"payload"`
}

// Decode parses a message value from the follows topic.
func Decode(value []byte) (*DebeziumMessage, error) {
	if len(value) == 0 {
		return nil, ErrTombstone
	}
	var msg DebeziumMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("decode debezium message: %w", err)
	}
	return &msg, nil
}

// Record returns the row the event is about: the after image for creates
// and updates, the before image for deletes.
func (m *DebeziumMessage) Record() *DebeziumFollowRecord {
	if m.Payload.Op == OpDelete {
		return m.Payload.Before
	}
	return m.Payload.After
}

// UserIDs lists both ends of every row image carried by the event. An
// update that re-points an edge yields the old and the new pair.
func (m *DebeziumMessage) UserIDs() []string {
	ids := make([]string, 0, 4)
	for _, rec := range []*DebeziumFollowRecord{m.Payload.Before, m.Payload.After} {
		if rec != nil {
			ids = append(ids, rec.FollowerID, rec.FollowingID)
		}
	}
	return ids
}
