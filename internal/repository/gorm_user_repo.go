package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/pkg/database"
)

// GormUserRepository implements UserRepository and CounterHook using GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based user repository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Create inserts a new user. An empty ID gets a fresh uuid.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}

	model := domain.UserToModel(user)
	model.FollowersCount, model.FollowingCount, model.ShillsCount = 0, 0, 0

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return r.classifyDuplicate(ctx, user.ID)
		}
		return err
	}

	*user = *model.ToDomain()
	return nil
}

// classifyDuplicate tells an id collision from a handle collision.
func (r *GormUserRepository) classifyDuplicate(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.UserModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrUserExists
	}
	return ErrHandleExists
}

// GetByID retrieves a user by ID.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model domain.UserModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// IsRole reports whether the user holds role.
func (r *GormUserRepository) IsRole(ctx context.Context, id string, role domain.Role) (bool, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return user.Role == role, nil
}

// UpdateProfile applies the non-nil fields and returns the updated user.
func (r *GormUserRepository) UpdateProfile(ctx context.Context, id string, picture *string, role *domain.Role) (*domain.User, error) {
	var updated domain.UserModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		changes := map[string]interface{}{}
		if picture != nil {
			changes["profile_picture"] = *picture
		}
		if role != nil {
			changes["role"] = string(*role)
		}
		if len(changes) == 0 {
			return nil
		}

		if err := tx.Model(&domain.UserModel{}).Where("id = ?", id).Updates(changes).Error; err != nil {
			return err
		}
		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return updated.ToDomain(), nil
}

// IncrementShills bumps the shill counter of a shiller.
func (r *GormUserRepository) IncrementShills(ctx context.Context, id string) (*domain.User, error) {
	var updated domain.UserModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.UserModel{}).
			Where("id = ? AND role = ?", id, string(domain.RoleShiller)).
			UpdateColumn("shills_count", gorm.Expr("shills_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return ErrRoleMismatch
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.ToDomain(), nil
}

// ListNewest returns users by registration recency, most recent first.
func (r *GormUserRepository) ListNewest(ctx context.Context, limit int) ([]domain.User, error) {
	var models []domain.UserModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toUsers(models), nil
}

// LockUsers locks the rows of userIDs in id order. It fails with
// ErrUserNotFound unless every id exists.
func (r *GormUserRepository) LockUsers(tx *gorm.DB, userIDs ...string) error {
	distinct := make(map[string]struct{}, len(userIDs))
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, seen := distinct[id]; seen {
			continue
		}
		distinct[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	var locked []string
	err := tx.Model(&domain.UserModel{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Pluck("id", &locked).Error
	if err != nil {
		return err
	}
	if len(locked) != len(ids) {
		return ErrUserNotFound
	}
	return nil
}

// ApplyEdgeDelta moves followingID's follower counter and followerID's
// following counter by delta. Decrements clamp at zero.
func (r *GormUserRepository) ApplyEdgeDelta(tx *gorm.DB, followerID, followingID string, delta int64) error {
	if err := adjustCounter(tx, followingID, "followers_count", delta); err != nil {
		return err
	}
	return adjustCounter(tx, followerID, "following_count", delta)
}

func adjustCounter(tx *gorm.DB, userID, column string, delta int64) error {
	var expr clause.Expr
	if delta >= 0 {
		expr = gorm.Expr(column+" + ?", delta)
	} else {
		expr = gorm.Expr("CASE WHEN "+column+" >= ? THEN "+column+" - ? ELSE 0 END", -delta, -delta)
	}

	res := tx.Model(&domain.UserModel{}).Where("id = ?", userID).UpdateColumn(column, expr)
	if res.Error != nil {
		return fmt.Errorf("adjust %s: %w", column, res.Error)
	}
	// MySQL reports zero affected rows when a clamped decrement changes
	// nothing, so only increments can prove the row is missing.
	if delta > 0 && res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func toUsers(models []domain.UserModel) []domain.User {
	users := make([]domain.User, 0, len(models))
	for i := range models {
		users = append(users, *models[i].ToDomain())
	}
	return users
}

// Ensure interfaces are satisfied at compile time.
var (
	_ UserRepository = (*GormUserRepository)(nil)
	_ CounterHook    = (*GormUserRepository)(nil)
)
