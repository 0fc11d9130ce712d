// Package testdb opens throwaway in-memory databases for repository and
// engine tests.
package testdb

import (
	"fmt"
	"testing"

	"bioai-workspace-be/pkg/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.NewSQLiteDB(dsn, logger.Silent)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Remote returns a database migrated with the remote store schema.
func Remote(t *testing.T) *gorm.DB {
	t.Helper()
	db := open(t)
	require.NoError(t, database.MigrateRemote(db))
	return db
}

// Journal returns a database migrated with the operation journal schema.
func Journal(t *testing.T) *gorm.DB {
	t.Helper()
	db := open(t)
	require.NoError(t, database.MigrateJournal(db))
	return db
}
