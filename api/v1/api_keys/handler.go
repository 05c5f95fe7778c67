package api_keys

import (
	"errors"
	"fmt"

	"pgplane/api/v1/middleware"
	"pgplane/internal/audit"
	"pgplane/internal/auth"
	"pgplane/internal/dto"
	"pgplane/internal/httpx"
	"pgplane/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ListRequest represents list API keys request
type ListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
	Status   string `form:"status"`
}

// ListResponse represents list API keys response
type ListResponse struct {
	Items    []dto.APIKeyDTO `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

// CreateRequest represents create API key request
type CreateRequest struct {
	Name string `json:"name" binding:"required"`
	Role string `json:"role"`
}

// DeleteRequest represents revoke API key request
type DeleteRequest struct {
	ID int `json:"id" binding:"required"`
}

// Handler handles API keys API
type Handler struct {
	db      *gorm.DB
	auditor *audit.Recorder
}

// NewHandler creates a new API keys handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{
		db:      db,
		auditor: audit.NewRecorder(db),
	}
}

// List handles GET /api/v1/api-keys
func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	// Set defaults
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 15
	}

	query := h.db.Model(&model.APIKey{})
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count API keys", err))
		return
	}

	var keys []model.APIKey
	offset := (req.Page - 1) * req.PageSize
	if err := query.
		Offset(offset).
		Limit(req.PageSize).
		Order("id DESC").
		Find(&keys).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch API keys", err))
		return
	}

	items := make([]dto.APIKeyDTO, len(keys))
	for i := range keys {
		items[i] = dto.NewAPIKeyDTO(&keys[i])
	}

	httpx.OK(c, ListResponse{
		Items:    items,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// Create handles POST /api/v1/api-keys/create. The plaintext key appears
// in this response and nowhere else; only its hash is stored.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	role := auth.RoleViewer
	if req.Role != "" {
		if !auth.ValidRole(req.Role) {
			httpx.FailErr(c, httpx.ErrParamIllegal(fmt.Sprintf("unknown role %q", req.Role)))
			return
		}
		role = req.Role
	}

	plaintext, prefix, hash, err := auth.NewAPIKey()
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to generate API key", err))
		return
	}

	actor := middleware.Actor(c)
	key := model.APIKey{
		Name:    req.Name,
		Prefix:  prefix,
		KeyHash: hash,
		Role:    role,
		Status:  model.APIKeyStatusActive,
	}

	txErr := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&key).Error; err != nil {
			return fmt.Errorf("failed to create API key: %w", err)
		}
		return h.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityAPIKey,
			EntityID:   key.ID,
			Action:     model.AuditActionCreate,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			After:      audit.APIKeySnapshot(&key),
		})
	})
	if txErr != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create API key", txErr))
		return
	}

	httpx.OK(c, dto.CreatedAPIKeyDTO{
		APIKeyDTO: dto.NewAPIKeyDTO(&key),
		Key:       plaintext,
	})
}

// Delete handles POST /api/v1/api-keys/delete. The key is revoked rather
// than removed so past audit entries keep their attribution.
func (h *Handler) Delete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	var key model.APIKey
	if err := h.db.First(&key, req.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("API key not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch API key", err))
		return
	}

	if key.Status == model.APIKeyStatusRevoked {
		httpx.OK(c, dto.NewAPIKeyDTO(&key))
		return
	}

	before := audit.APIKeySnapshot(&key)
	actor := middleware.Actor(c)

	txErr := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&key).Update("status", model.APIKeyStatusRevoked).Error; err != nil {
			return fmt.Errorf("failed to revoke API key: %w", err)
		}
		key.Status = model.APIKeyStatusRevoked
		return h.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityAPIKey,
			EntityID:   key.ID,
			Action:     model.AuditActionDelete,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     before,
			After:      audit.APIKeySnapshot(&key),
		})
	})
	if txErr != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to revoke API key", txErr))
		return
	}

	httpx.OK(c, dto.NewAPIKeyDTO(&key))
}
