package specification

import (
	"time"

	"gorm.io/gorm"
)

// ByStatuses filters on a status column value set.
type ByStatuses struct {
	Statuses []string
}

func (s ByStatuses) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("status IN ?", s.Statuses)
}

type ExpiredAt struct {
	Now time.Time
}

func (s ExpiredAt) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("expires_at IS NOT NULL AND expires_at <= ?", s.Now)
}

type SnapshotOfType struct {
	Type string
}

func (s SnapshotOfType) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("snapshot_type = ?", s.Type)
}
