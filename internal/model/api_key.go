package model

import (
	"time"
)

// APIKeyStatus represents an API key's lifecycle state
type APIKeyStatus string

const (
	APIKeyStatusActive  APIKeyStatus = "active"
	APIKeyStatusRevoked APIKeyStatus = "revoked"
)

// APIKey is a machine credential for the HTTP API. Only a bcrypt hash of
// the secret is stored; the plaintext is shown once at creation time.
type APIKey struct {
	BaseModel
	Name       string       `gorm:"type:varchar(128);not null" json:"name"`
	Prefix     string       `gorm:"type:varchar(16);uniqueIndex;not null" json:"prefix"`
	KeyHash    string       `gorm:"type:varchar(255);not null" json:"-"`
	Role       string       `gorm:"type:varchar(32);default:'viewer'" json:"role"`
	Status     APIKeyStatus `gorm:"type:varchar(16);default:'active'" json:"status"`
	LastUsedAt *time.Time   `json:"last_used_at"`
}

// TableName specifies the table name for APIKey model
func (APIKey) TableName() string {
	return "api_keys"
}
