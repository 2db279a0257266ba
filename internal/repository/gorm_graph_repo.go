package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/pkg/database"
)

// GormGraphRepository implements GraphRepository using GORM.
//
// Uniqueness is left to the database: uidx_follow_pair on follows and
// uidx_follow_request_pending on follow_requests. Request transitions are
// conditional updates on status = 'pending', so of two concurrent
// resolutions exactly one sees a row affected. Creating a request, accepting
// one and removing an edge all lock both users rows first, which keeps a
// pair from holding an edge and a pending request at once.
type GormGraphRepository struct {
	db   *gorm.DB
	hook CounterHook
}

// NewGormGraphRepository creates a new GORM-backed graph repository.
func NewGormGraphRepository(db *gorm.DB, hook CounterHook) *GormGraphRepository {
	return &GormGraphRepository{db: db, hook: hook}
}

// IsFollowing checks if followerID follows followingID.
func (r *GormGraphRepository) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	return edgeExists(r.db.WithContext(ctx), followerID, followingID)
}

func edgeExists(db *gorm.DB, followerID, followingID string) (bool, error) {
	var count int64
	err := db.Model(&domain.FollowModel{}).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindPendingRequest returns the pending request for the ordered pair, or
// ErrRequestNotFound.
func (r *GormGraphRepository) FindPendingRequest(ctx context.Context, requesterID, targetID string) (*domain.FollowRequest, error) {
	var model domain.FollowRequestModel
	err := r.db.WithContext(ctx).
		Where("pending_key = ?", domain.PendingKeyFor(requesterID, targetID)).
		First(&model).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CreateRequest inserts a pending request. A second pending request for the
// same pair fails with ErrDuplicate, an existing edge with
// ErrAlreadyFollowing and a missing user with ErrUserNotFound.
func (r *GormGraphRepository) CreateRequest(ctx context.Context, requesterID, targetID string) (*domain.FollowRequest, error) {
	key := domain.PendingKeyFor(requesterID, targetID)
	model := domain.FollowRequestModel{
		ID:          uuid.New().String(),
		RequesterID: requesterID,
		TargetID:    targetID,
		Status:      string(domain.RequestPending),
		PendingKey:  &key,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.hook.LockUsers(tx, requesterID, targetID); err != nil {
			return err
		}
		following, err := edgeExists(tx, requesterID, targetID)
		if err != nil {
			return err
		}
		if following {
			return ErrAlreadyFollowing
		}
		if err := tx.Create(&model).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetRequest retrieves a follow request by ID.
func (r *GormGraphRepository) GetRequest(ctx context.Context, id string) (*domain.FollowRequest, error) {
	var model domain.FollowRequestModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ResolveRequest moves a pending request to accepted or declined. Accepting
// creates the edge and its counter updates in the same transaction.
func (r *GormGraphRepository) ResolveRequest(ctx context.Context, id string, decision domain.RequestStatus) (*domain.FollowRequest, bool, error) {
	var (
		resolved    *domain.FollowRequest
		edgeCreated bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.FollowRequestModel
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			if isNotFound(err) {
				return ErrRequestNotFound
			}
			return err
		}
		if err := r.hook.LockUsers(tx, current.RequesterID, current.TargetID); err != nil {
			return err
		}

		model, err := transition(tx, "id", id, decision)
		if err != nil {
			return err
		}
		resolved = model.ToDomain()

		if decision == domain.RequestAccepted {
			edgeCreated, err = r.insertEdge(tx, model.RequesterID, model.TargetID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return resolved, edgeCreated, nil
}

// CancelPendingRequest declines the requester's own pending request.
func (r *GormGraphRepository) CancelPendingRequest(ctx context.Context, requesterID, targetID string) (*domain.FollowRequest, error) {
	var cancelled *domain.FollowRequest

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key := domain.PendingKeyFor(requesterID, targetID)
		model, err := transition(tx, "pending_key", key, domain.RequestDeclined)
		if errors.Is(err, ErrRequestNotPending) {
			return ErrRequestNotFound
		}
		if err != nil {
			return err
		}
		cancelled = model.ToDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// transition applies decision to the request whose column equals value
// and returns the updated row.
func transition(tx *gorm.DB, column, value string, decision domain.RequestStatus) (*domain.FollowRequestModel, error) {
	var model domain.FollowRequestModel
	if err := tx.Where(column+" = ?", value).First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	res := tx.Model(&domain.FollowRequestModel{}).
		Where("id = ? AND status = ?", model.ID, string(domain.RequestPending)).
		Updates(map[string]interface{}{
			"status":      string(decision),
			"pending_key": nil,
			"resolved_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRequestNotPending
	}

	model.Status = string(decision)
	model.PendingKey = nil
	model.ResolvedAt = &now
	return &model, nil
}

// insertEdge creates the edge if absent and reports whether it did. The
// caller holds the locks on both users.
func (r *GormGraphRepository) insertEdge(tx *gorm.DB, followerID, followingID string) (bool, error) {
	edge := domain.FollowModel{FollowerID: followerID, FollowingID: followingID}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if err := r.hook.ApplyEdgeDelta(tx, followerID, followingID, 1); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteEdge removes the edge and its counter contributions.
func (r *GormGraphRepository) DeleteEdge(ctx context.Context, followerID, followingID string) (bool, error) {
	var removed bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.hook.LockUsers(tx, followerID, followingID); err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil
			}
			return err
		}
		res := tx.Where("follower_id = ? AND following_id = ?", followerID, followingID).
			Delete(&domain.FollowModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		return r.hook.ApplyEdgeDelta(tx, followerID, followingID, -1)
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// ListFollowers returns the users following userID, newest edge first.
func (r *GormGraphRepository) ListFollowers(ctx context.Context, userID string, limit int) ([]domain.User, error) {
	return r.listAdjacent(ctx, "follows.follower_id", "follows.following_id", userID, limit)
}

// ListFollowing returns the users userID follows, newest edge first.
func (r *GormGraphRepository) ListFollowing(ctx context.Context, userID string, limit int) ([]domain.User, error) {
	return r.listAdjacent(ctx, "follows.following_id", "follows.follower_id", userID, limit)
}

func (r *GormGraphRepository) listAdjacent(ctx context.Context, joinCol, filterCol, userID string, limit int) ([]domain.User, error) {
	var models []domain.UserModel
	err := r.db.WithContext(ctx).
		Model(&domain.UserModel{}).
		Select("users.*").
		Joins("JOIN follows ON "+joinCol+" = users.id").
		Where(filterCol+" = ?", userID).
		Order("follows.created_at DESC").
		Order("follows.id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toUsers(models), nil
}

// ListPendingRequests returns the pending requests addressed to targetID,
// oldest first.
func (r *GormGraphRepository) ListPendingRequests(ctx context.Context, targetID string) ([]domain.PendingRequest, error) {
	var rows []domain.PendingRequest
	err := r.db.WithContext(ctx).
		Table("follow_requests AS fr").
		Select("fr.id AS request_id, fr.requester_id, u.handle AS requester_handle, " +
			"u.profile_picture AS requester_profile_picture, fr.created_at").
		Joins("JOIN users AS u ON u.id = fr.requester_id").
		Where("fr.target_id = ? AND fr.status = ?", targetID, string(domain.RequestPending)).
		Order("fr.created_at ASC").
		Order("fr.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// EdgeCounts counts the edges into and out of userID.
func (r *GormGraphRepository) EdgeCounts(ctx context.Context, userID string) (int64, int64, error) {
	return edgeCounts(r.db.WithContext(ctx), userID)
}

func edgeCounts(db *gorm.DB, userID string) (followers, following int64, err error) {
	if err = db.Model(&domain.FollowModel{}).Where("following_id = ?", userID).Count(&followers).Error; err != nil {
		return 0, 0, err
	}
	if err = db.Model(&domain.FollowModel{}).Where("follower_id = ?", userID).Count(&following).Error; err != nil {
		return 0, 0, err
	}
	return followers, following, nil
}

// rankedUser is a users row plus its follower count derived from edges.
type rankedUser struct {
	domain.UserModel
	EdgeFollowers int64 `gorm:"column:edge_followers"`
}

// TopByFollowers ranks users holding role by their edge-derived follower
// count, ties broken by handle. The returned FollowersCount is the derived
// value, not the cached column.
func (r *GormGraphRepository) TopByFollowers(ctx context.Context, role domain.Role, limit int) ([]domain.User, error) {
	db := r.db.WithContext(ctx)
	counts := db.Model(&domain.FollowModel{}).
		Select("following_id, COUNT(*) AS cnt").
		Group("following_id")

	var rows []rankedUser
	err := db.Model(&domain.UserModel{}).
		Select("users.*, COALESCE(fc.cnt, 0) AS edge_followers").
		Joins("LEFT JOIN (?) AS fc ON fc.following_id = users.id", counts).
		Where("users.role = ?", string(role)).
		Order("edge_followers DESC").
		Order("users.handle_key ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(rows))
	for i := range rows {
		u := rows[i].UserModel.ToDomain()
		u.FollowersCount = rows[i].EdgeFollowers
		users = append(users, *u)
	}
	return users, nil
}

// RecountUser recomputes userID's counters from the edge set and rewrites
// the cached columns when they drifted. The user row is locked first so a
// concurrent edge mutation cannot interleave with the recount.
func (r *GormGraphRepository) RecountUser(ctx context.Context, userID string) (domain.CounterDrift, error) {
	drift := domain.CounterDrift{UserID: userID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user domain.UserModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error
		if err != nil {
			if isNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		followers, following, err := edgeCounts(tx, userID)
		if err != nil {
			return err
		}

		drift.CachedFollowers = user.FollowersCount
		drift.CachedFollowing = user.FollowingCount
		drift.Followers = followers
		drift.Following = following
		if !drift.Drifted() {
			return nil
		}

		return tx.Model(&domain.UserModel{}).Where("id = ?", userID).UpdateColumns(map[string]interface{}{
			"followers_count": followers,
			"following_count": following,
		}).Error
	})
	return drift, err
}

// UserIDsAfter returns up to limit user ids greater than cursor, ascending.
func (r *GormGraphRepository) UserIDsAfter(ctx context.Context, cursor string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&domain.UserModel{}).
		Where("id > ?", cursor).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// isNotFound checks if the error is a "record not found" error.
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// Ensure interface is satisfied at compile time.
var _ GraphRepository = (*GormGraphRepository)(nil)
