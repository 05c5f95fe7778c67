package dto

import (
	"encoding/json"
	"time"

	"pgplane/internal/model"
)

// AuditLogDTO represents an audit record in API responses
type AuditLogDTO struct {
	ID         int             `json:"id"`
	RequestID  string          `json:"requestId"`
	EntityType string          `json:"entityType"`
	EntityID   int             `json:"entityId"`
	Action     string          `json:"action"`
	ActorID    int             `json:"actorId"`
	ActorName  string          `json:"actorName"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewAuditLogDTO converts an AuditLog to its API representation
func NewAuditLogDTO(a *model.AuditLog) AuditLogDTO {
	return AuditLogDTO{
		ID:         a.ID,
		RequestID:  a.RequestID,
		EntityType: string(a.EntityType),
		EntityID:   a.EntityID,
		Action:     string(a.Action),
		ActorID:    a.ActorID,
		ActorName:  a.ActorName,
		Before:     json.RawMessage(a.Before),
		After:      json.RawMessage(a.After),
		CreatedAt:  a.CreatedAt,
	}
}

// APIKeyDTO represents an API key in list responses. The key itself is
// never included; only the lookup prefix identifies it.
type APIKeyDTO struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Role       string     `json:"role"`
	Status     string     `json:"status"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// NewAPIKeyDTO converts an APIKey to its API representation
func NewAPIKeyDTO(k *model.APIKey) APIKeyDTO {
	return APIKeyDTO{
		ID:         k.ID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		Role:       k.Role,
		Status:     string(k.Status),
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// CreatedAPIKeyDTO carries the plaintext key exactly once, at creation
type CreatedAPIKeyDTO struct {
	APIKeyDTO
	Key string `json:"key"`
}
