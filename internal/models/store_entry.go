package models

import (
	"time"
)

// StoreEntry is a single key/value record of the SQL-backed persistent store.
// A nil ExpiresAt means the entry never expires.
type StoreEntry struct {
	Key       string     `gorm:"column:store_key;primaryKey;size:191"`
	Value     []byte     `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name independently of gorm naming strategies.
func (StoreEntry) TableName() string {
	return "store_entries"
}

// Expired reports whether the entry is past its expiry at the supplied instant.
func (e StoreEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
