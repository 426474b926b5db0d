// Package domain contains persistence models for API caller identities.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Identity is a caller of the gateway: a user or a service holding an API key.
// The quota ledger mutates CallsUsedToday and LastResetDate; nothing else in
// this subsystem writes identity rows.
type Identity struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	APIKey         string       `gorm:"column:api_key;type:text;not null;uniqueIndex" json:"-"`
	Name           string       `gorm:"type:text;not null;default:''" json:"name"`
	Tier           string       `gorm:"type:text;not null;default:'free'" json:"tier"`
	CallsUsedToday int          `gorm:"not null;default:0" json:"calls_used_today"`
	// LastResetDate is an ISO calendar date (UTC). Stored as text so the
	// day-rollover comparison behaves identically on every dialect.
	LastResetDate string    `gorm:"type:text;not null;default:'1970-01-01'" json:"last_reset_date"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Identity) TableName() string { return "identities" }
