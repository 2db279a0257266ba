package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/chandlergims/shillster/internal/domain"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("user already exists")
	ErrHandleExists      = errors.New("handle already exists")
	ErrRoleMismatch      = errors.New("user does not have the required role")
	ErrRequestNotFound   = errors.New("follow request not found")
	ErrRequestNotPending = errors.New("follow request is not pending")
	ErrDuplicate         = errors.New("duplicate follow request")
	ErrAlreadyFollowing  = errors.New("already following")
)

// UserRepository defines persistence operations for user identities.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	IsRole(ctx context.Context, id string, role domain.Role) (bool, error)
	UpdateProfile(ctx context.Context, id string, picture *string, role *domain.Role) (*domain.User, error)
	IncrementShills(ctx context.Context, id string) (*domain.User, error)
	ListNewest(ctx context.Context, limit int) ([]domain.User, error)
}

// CounterHook is called by the graph repository inside its transactions so
// the identity side can check referenced users and keep the cached counters
// in step with every edge created or removed.
type CounterHook interface {
	// LockUsers takes row locks on every given user in id order and fails
	// with ErrUserNotFound unless all of them exist. Graph writes touching
	// a pair lock both ends first, so they run one at a time per pair.
	LockUsers(tx *gorm.DB, userIDs ...string) error
	ApplyEdgeDelta(tx *gorm.DB, followerID, followingID string, delta int64) error
}

// GraphRepository defines persistence operations for follow edges and
// follow requests.
type GraphRepository interface {
	IsFollowing(ctx context.Context, followerID, followingID string) (bool, error)
	FindPendingRequest(ctx context.Context, requesterID, targetID string) (*domain.FollowRequest, error)
	CreateRequest(ctx context.Context, requesterID, targetID string) (*domain.FollowRequest, error)
	GetRequest(ctx context.Context, id string) (*domain.FollowRequest, error)
	// ResolveRequest moves a pending request to decision. It reports whether
	// an edge was created by the transition.
	ResolveRequest(ctx context.Context, id string, decision domain.RequestStatus) (*domain.FollowRequest, bool, error)
	CancelPendingRequest(ctx context.Context, requesterID, targetID string) (*domain.FollowRequest, error)
	// DeleteEdge reports whether an edge was actually removed.
	DeleteEdge(ctx context.Context, followerID, followingID string) (bool, error)
	ListFollowers(ctx context.Context, userID string, limit int) ([]domain.User, error)
	ListFollowing(ctx context.Context, userID string, limit int) ([]domain.User, error)
	ListPendingRequests(ctx context.Context, targetID string) ([]domain.PendingRequest, error)
	EdgeCounts(ctx context.Context, userID string) (followers, following int64, err error)
	// TopByFollowers ranks users of role by follower count computed from the
	// edge set, ties broken by handle.
	TopByFollowers(ctx context.Context, role domain.Role, limit int) ([]domain.User, error)
	RecountUser(ctx context.Context, userID string) (domain.CounterDrift, error)
	// UserIDsAfter pages through user ids in ascending order, starting after
	// cursor. An empty cursor starts from the beginning.
	UserIDsAfter(ctx context.Context, cursor string, limit int) ([]string, error)
}
