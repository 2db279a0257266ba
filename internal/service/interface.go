package service

import (
	"context"
	"errors"

	"github.com/chandlergims/shillster/internal/consumer"
	"github.com/chandlergims/shillster/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("not allowed to act on this resource")
	ErrSelfFollow      = errors.New("cannot follow yourself")
	ErrInvalidState    = errors.New("follow request is no longer pending")
	ErrConflict        = errors.New("conflicting concurrent update")
	ErrInvalidDecision = errors.New("decision must be accepted or declined")
	ErrInvalidRole     = errors.New("unknown role")
	ErrHandleTaken     = errors.New("handle already taken")
)

// FollowService owns the follow-request lifecycle and the edges it creates.
type FollowService interface {
	InitiateFollow(ctx context.Context, actorID, targetID string) (domain.Outcome, error)
	ResolveFollowRequest(ctx context.Context, requestID, resolverID string, decision domain.RequestStatus) (domain.Outcome, error)
	Unfollow(ctx context.Context, actorID, targetID string) (domain.Outcome, error)
	CancelFollowRequest(ctx context.Context, actorID, targetID string) (domain.Outcome, error)
	PendingRequests(ctx context.Context, userID string) ([]domain.PendingRequest, error)
	RelationStatus(ctx context.Context, actorID, targetID string) (*domain.RelationStatus, error)
	Followers(ctx context.Context, userID string, limit int) ([]domain.UserSummary, error)
	Following(ctx context.Context, userID string, limit int) ([]domain.UserSummary, error)
	HandleCDCEvent(ctx context.Context, event *consumer.DebeziumMessage) error
}

// DiscoveryService serves the read-only rankings and counters.
type DiscoveryService interface {
	ListNewUsers(ctx context.Context, limit int) ([]domain.UserSummary, error)
	ListTopShillers(ctx context.Context, limit int) ([]domain.UserSummary, error)
	FollowerCount(ctx context.Context, userID string) (int64, error)
	FollowingCount(ctx context.Context, userID string) (int64, error)
	Counts(ctx context.Context, userID string) (*domain.FollowCounts, error)
	Discover(ctx context.Context, limitTop, limitNew int) (*domain.Discover, error)
}

// UserService manages user identities and profiles.
type UserService interface {
	Register(ctx context.Context, userID string, req *domain.RegisterRequest) (*domain.UserSummary, error)
	GetUser(ctx context.Context, userID string) (*domain.UserSummary, error)
	IsRole(ctx context.Context, userID string, role domain.Role) (bool, error)
	UpdateProfile(ctx context.Context, userID string, req *domain.UpdateProfileRequest) (*domain.UserSummary, error)
	SetRole(ctx context.Context, userID string, role domain.Role) (*domain.UserSummary, error)
	RecordShill(ctx context.Context, userID string) (*domain.UserSummary, error)
}

// Limits bounds list sizes.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits are used when no limits are configured.
var DefaultLimits = Limits{Default: 20, Max: 100}

// Clamp maps a requested limit into [1, Max], substituting Default for
// non-positive values.
func (l Limits) Clamp(limit int) int {
	def, max := l.Default, l.Max
	if def <= 0 {
		def = DefaultLimits.Default
	}
	if max <= 0 {
		max = DefaultLimits.Max
	}
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}
