package database

import (
	"bioai-workspace-be/internal/model"

	"gorm.io/gorm"
)

// RemoteModels are the tables owned by the remote store.
func RemoteModels() []interface{} {
	return []interface{}{
		&model.Session{},
		&model.Message{},
		&model.ViewerState{},
		&model.WorkflowContext{},
		&model.Snapshot{},
		&model.UserPreference{},
	}
}

func MigrateRemote(db *gorm.DB) error {
	return db.AutoMigrate(RemoteModels()...)
}

func MigrateJournal(db *gorm.DB) error {
	return db.AutoMigrate(&model.SyncOperation{})
}
