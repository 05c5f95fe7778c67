package audit

import (
	"pgplane/internal/dto"
	"pgplane/internal/httpx"
	"pgplane/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ListRequest represents list audit records request
type ListRequest struct {
	Page       int    `form:"page"`
	PageSize   int    `form:"pageSize"`
	EntityType string `form:"entityType"`
	EntityID   int    `form:"entityId"`
	Action     string `form:"action"`
	ActorName  string `form:"actorName"`
}

// ListResponse represents list audit records response
type ListResponse struct {
	Items    []dto.AuditLogDTO `json:"items"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

// Handler handles audit API
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new audit handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// List handles GET /api/v1/audit
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

	query := h.db.Model(&model.AuditLog{})
	if req.EntityType != "" {
		query = query.Where("entity_type = ?", req.EntityType)
	}
	if req.EntityID > 0 {
		query = query.Where("entity_id = ?", req.EntityID)
	}
	if req.Action != "" {
		query = query.Where("action = ?", req.Action)
	}
	if req.ActorName != "" {
		query = query.Where("actor_name = ?", req.ActorName)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count audit records", err))
		return
	}

	var records []model.AuditLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.
		Offset(offset).
		Limit(req.PageSize).
		Order("id DESC").
		Find(&records).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch audit records", err))
		return
	}

	items := make([]dto.AuditLogDTO, len(records))
	for i := range records {
		items[i] = dto.NewAuditLogDTO(&records[i])
	}

	httpx.OK(c, ListResponse{
		Items:    items,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}
