package data

import (
	"time"

	"gorm.io/gorm"
)

// AuditLog records a moderation action taken by one account against another.
type AuditLog struct {
	ID       uint64 `gorm:"primaryKey"`
	ActorID  uint64 `gorm:"not null"`
	TargetID uint64 `gorm:"index; not null"`
	Action   string `gorm:"not null"`
	Detail   string
	Time     time.Time
}

// InsertAuditLog persists a moderation log entry, stamping the current time.
func InsertAuditLog(db *gorm.DB, actorID, targetID uint64, action, detail string) error {
	return db.Create(&AuditLog{
		ActorID:  actorID,
		TargetID: targetID,
		Action:   action,
		Detail:   detail,
		Time:     time.Now(),
	}).Error
}
