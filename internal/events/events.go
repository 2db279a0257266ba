package events

import (
	"context"
	"fmt"

	"github.com/chandlergims/shillster/pkg/pubsub"
)

// ChannelFollows carries every follow-graph event. On Kafka it becomes
// the social-graph-follows topic.
const ChannelFollows = "social-graph:follows"

// Event types.
const (
	EventFollowRequested = "follow.requested"
	EventFollowAccepted  = "follow.accepted"
	EventFollowDeclined  = "follow.declined"
	EventFollowCancelled = "follow.cancelled"
	EventFollowRemoved   = "follow.removed"
)

// FollowPayload describes a change to the relation between two users.
type FollowPayload struct {
	RequestID   string `json:"request_id,omitempty"`
	FollowerID  string `json:"follower_id"`
	FollowingID string `json:"following_id"`
}

// Emitter publishes follow-graph events.
type Emitter struct {
	pub     pubsub.Publisher
	channel string
}

// NewEmitter creates an emitter writing to ChannelFollows.
func NewEmitter(pub pubsub.Publisher) *Emitter {
	if pub == nil {
		pub = pubsub.NopPublisher{}
	}
	return &Emitter{pub: pub, channel: ChannelFollows}
}

// Emit publishes an event keyed by the followed user, so that a user's
// events stay ordered on partitioned brokers.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload FollowPayload) error {
	event, err := pubsub.NewEvent(eventType, payload.FollowingID, &payload)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if err := e.pub.Publish(ctx, e.channel, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}
