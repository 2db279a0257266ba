package domain

import (
	"time"
)

// FollowModel is the GORM model for the follows table. One row is one
// directed edge; the composite unique index allows one edge per ordered pair.
type FollowModel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	FollowerID  string    `gorm:"column:follower_id;type:varchar(36);not null;uniqueIndex:uidx_follow_pair,priority:1"`
	FollowingID string    `gorm:"column:following_id;type:varchar(36);not null;uniqueIndex:uidx_follow_pair,priority:2;index:idx_follows_following"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (FollowModel) TableName() string { return "follows" }

// Follow is the domain representation of a follow relationship.
type Follow struct {
	FollowerID  string
	FollowingID string
	CreatedAt   time.Time
}

// RequestStatus is the lifecycle state of a follow request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// Terminal reports whether s can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == RequestAccepted || s == RequestDeclined
}

// IsDecision reports whether s is a valid resolution for a pending request.
func (s RequestStatus) IsDecision() bool {
	return s.Terminal()
}

// FollowRequestModel is the GORM model for the follow_requests table.
// PendingKey holds "<requester>:<target>" while the request is pending and
// NULL once it is terminal; its unique index is what keeps a pair down to
// one pending request. Terminal rows are kept as history.
type FollowRequestModel struct {
	ID          string     `gorm:"type:varchar(36);primaryKey"`
	RequesterID string     `gorm:"column:requester_id;type:varchar(36);not null;index"`
	TargetID    string     `gorm:"column:target_id;type:varchar(36);not null;index:idx_follow_requests_target_status,priority:1"`
	Status      string     `gorm:"type:varchar(16);not null;index:idx_follow_requests_target_status,priority:2"`
	PendingKey  *string    `gorm:"column:pending_key;type:varchar(80);uniqueIndex:uidx_follow_request_pending"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at"`
}

func (FollowRequestModel) TableName() string { return "follow_requests" }

// PendingKeyFor builds the pending-uniqueness key for an ordered pair.
func PendingKeyFor(requesterID, targetID string) string {
	return requesterID + ":" + targetID
}

// ToDomain converts FollowRequestModel to domain FollowRequest.
func (m *FollowRequestModel) ToDomain() *FollowRequest {
	return &FollowRequest{
		ID:          m.ID,
		RequesterID: m.RequesterID,
		TargetID:    m.TargetID,
		Status:      RequestStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		ResolvedAt:  m.ResolvedAt,
	}
}

// FollowRequest is a request from RequesterID to follow TargetID.
type FollowRequest struct {
	ID          string        `json:"id"`
	RequesterID string        `json:"requester_id"`
	TargetID    string        `json:"target_id"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// PendingRequest is an inbound pending request joined with its requester.
type PendingRequest struct {
	RequestID               string    `json:"request_id"`
	RequesterID             string    `json:"requester_id"`
	RequesterHandle         string    `json:"requester_handle"`
	RequesterProfilePicture string    `json:"requester_profile_picture,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// Outcome tags the result of a follow-graph operation. The already_* values
// are successful no-ops.
type Outcome string

const (
	OutcomeRequested        Outcome = "requested"
	OutcomeAlreadyFollowing Outcome = "already_following"
	OutcomeAlreadyRequested Outcome = "already_requested"
	OutcomeAccepted         Outcome = "accepted"
	OutcomeDeclined         Outcome = "declined"
	OutcomeUnfollowed       Outcome = "unfollowed"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeNothingPending   Outcome = "nothing_pending"
)

// RelationStatus describes the relation between two users from the
// actor's point of view.
type RelationStatus struct {
	Following  bool `json:"following"`
	FollowedBy bool `json:"followed_by"`
	Requested  bool `json:"requested"`
}

// FollowCounts holds a user's cached counters.
type FollowCounts struct {
	UserID    string `json:"user_id"`
	Followers int64  `json:"followers"`
	Following int64  `json:"following"`
}

// CounterDrift reports a reconciliation of cached counters against edges.
type CounterDrift struct {
	UserID          string
	CachedFollowers int64
	CachedFollowing int64
	Followers       int64
	Following       int64
}

// Drifted reports whether the cached counters disagreed with the edges.
func (d CounterDrift) Drifted() bool {
	return d.CachedFollowers != d.Followers || d.CachedFollowing != d.Following
}

// Discover is the combined landing-page listing.
type Discover struct {
	TopShillers []UserSummary `json:"top_shillers"`
	NewUsers    []UserSummary `json:"new_users"`
}
