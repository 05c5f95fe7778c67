package orgs

import (
	"errors"
	"fmt"

	"pgplane/api/v1/middleware"
	"pgplane/internal/audit"
	"pgplane/internal/dto"
	"pgplane/internal/httpx"
	"pgplane/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ListRequest represents list organizations request
type ListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
	Name     string `form:"name"`
}

// ListResponse represents list organizations response
type ListResponse struct {
	Items    []dto.OrganizationDTO `json:"items"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"pageSize"`
}

// CreateRequest represents create organization request
type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// UpdateRequest represents update organization request
type UpdateRequest struct {
	ID          int     `json:"id" binding:"required"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// DeleteRequest represents delete organization request
type DeleteRequest struct {
	ID int `json:"id" binding:"required"`
}

// Handler handles organizations API
type Handler struct {
	db      *gorm.DB
	auditor *audit.Recorder
}

// NewHandler creates a new organizations handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{
		db:      db,
		auditor: audit.NewRecorder(db),
	}
}

// List handles GET /api/v1/orgs
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

	query := h.db.Model(&model.Organization{})
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count organizations", err))
		return
	}

	var orgs []model.Organization
	offset := (req.Page - 1) * req.PageSize
	if err := query.
		Preload("Projects").
		Offset(offset).
		Limit(req.PageSize).
		Order("id DESC").
		Find(&orgs).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch organizations", err))
		return
	}

	items := make([]dto.OrganizationDTO, len(orgs))
	for i := range orgs {
		items[i] = dto.NewOrganizationDTO(&orgs[i])
	}

	httpx.OK(c, ListResponse{
		Items:    items,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// Create handles POST /api/v1/orgs/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	// Check name uniqueness
	var count int64
	if err := h.db.Model(&model.Organization{}).Where("name = ?", req.Name).Count(&count).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to check name uniqueness", err))
		return
	}
	if count > 0 {
		httpx.FailErr(c, httpx.ErrAlreadyExists("organization name already exists"))
		return
	}

	actor := middleware.Actor(c)
	org := model.Organization{
		Name:        req.Name,
		Description: req.Description,
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&org).Error; err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}
		return h.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityOrg,
			EntityID:   org.ID,
			Action:     model.AuditActionCreate,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			After:      audit.OrgSnapshot(&org),
		})
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create organization", err))
		return
	}

	httpx.OK(c, dto.NewOrganizationDTO(&org))
}

// Update handles POST /api/v1/orgs/update
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	var org model.Organization
	if err := h.db.First(&org, req.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("organization not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch organization", err))
		return
	}

	before := audit.OrgSnapshot(&org)
	updates := map[string]interface{}{}

	if req.Name != nil && *req.Name != org.Name {
		if *req.Name == "" {
			httpx.FailErr(c, httpx.ErrParamInvalid("name cannot be empty"))
			return
		}
		var count int64
		if err := h.db.Model(&model.Organization{}).
			Where("name = ? AND id <> ?", *req.Name, org.ID).
			Count(&count).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to check name uniqueness", err))
			return
		}
		if count > 0 {
			httpx.FailErr(c, httpx.ErrAlreadyExists("organization name already exists"))
			return
		}
		updates["name"] = *req.Name
	}
	if req.Description != nil && *req.Description != org.Description {
		updates["description"] = *req.Description
	}

	if len(updates) == 0 {
		httpx.OK(c, dto.NewOrganizationDTO(&org))
		return
	}

	actor := middleware.Actor(c)
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&org).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		if err := tx.First(&org, org.ID).Error; err != nil {
			return fmt.Errorf("failed to reload organization: %w", err)
		}
		return h.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityOrg,
			EntityID:   org.ID,
			Action:     model.AuditActionUpdate,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     before,
			After:      audit.OrgSnapshot(&org),
		})
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update organization", err))
		return
	}

	httpx.OK(c, dto.NewOrganizationDTO(&org))
}

// Delete handles POST /api/v1/orgs/delete. An organization that still
// owns projects cannot be deleted; the projects go first.
func (h *Handler) Delete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	var org model.Organization
	if err := h.db.First(&org, req.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("organization not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch organization", err))
		return
	}

	var projectCount int64
	if err := h.db.Model(&model.Project{}).Where("org_id = ?", org.ID).Count(&projectCount).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count projects", err))
		return
	}
	if projectCount > 0 {
		httpx.FailErr(c, httpx.ErrStateConflict(fmt.Sprintf("organization still has %d projects", projectCount)))
		return
	}

	actor := middleware.Actor(c)
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&org).Error; err != nil {
			return fmt.Errorf("failed to delete organization: %w", err)
		}
		return h.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityOrg,
			EntityID:   org.ID,
			Action:     model.AuditActionDelete,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     audit.OrgSnapshot(&org),
		})
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete organization", err))
		return
	}

	httpx.OK(c, gin.H{"id": org.ID})
}
