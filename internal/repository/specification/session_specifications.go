package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BySessionID struct {
	SessionID uuid.UUID
}

func (s BySessionID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("session_id = ?", s.SessionID)
}

// ActiveSessions matches sessions flagged active.
type ActiveSessions struct{}

func (s ActiveSessions) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("is_active = ?", true)
}

type OrderByTimestamp struct {
	Desc bool
}

func (s OrderByTimestamp) Apply(db *gorm.DB) *gorm.DB {
	return OrderBy{Field: "timestamp", Desc: s.Desc}.Apply(db)
}
