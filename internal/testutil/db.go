// Package testutil holds helpers shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chandlergims/shillster/internal/repository"
	"github.com/chandlergims/shillster/pkg/database"
)

// NewDB opens a migrated sqlite database in a per-test temp directory.
// A single connection keeps sqlite from returning SQLITE_BUSY when tests
// hammer it from several goroutines.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     filepath.Join(t.TempDir(), "shillster.db"),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
