package repository

import (
	"gorm.io/gorm"

	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/pkg/database"
)

// Models lists every table owned by this service.
func Models() []interface{} {
	return []interface{}{
		&domain.UserModel{},
		&domain.FollowModel{},
		&domain.FollowRequestModel{},
	}
}

// Migrate creates or updates the users, follows and follow_requests tables
// with their unique indexes.
func Migrate(db *gorm.DB) error {
	return database.AutoMigrate(db, Models()...)
}
