package projects

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

// ListRequest represents list projects request
type ListRequest struct {
	Page        int    `form:"page"`
	PageSize    int    `form:"pageSize"`
	OrgID       int    `form:"orgId"`
	Name        string `form:"name"`
	Environment string `form:"environment"`
}

// ListResponse represents list projects response
type ListResponse struct {
	Items    []dto.ProjectDTO `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

// CreateRequest represents create project request
type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	OrgID       int    `json:"orgId" binding:"required"`
	Environment string `json:"environment"`
	Description string `json:"description"`
}

// UpdateRequest represents update project request
type UpdateRequest struct {
	ID          int     `json:"id" binding:"required"`
	Name        *string `json:"name"`
	Environment *string `json:"environment"`
	Description *string `json:"description"`
}

// DeleteRequest represents delete project request
type DeleteRequest struct {
	ID int `json:"id" binding:"required"`
}

// Handler handles projects API
type Handler struct {
	db      *gorm.DB
	auditor *audit.Recorder
}

// NewHandler creates a new projects handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{
		db:      db,
		auditor: audit.NewRecorder(db),
	}
}

func validEnvironment(env string) bool {
	switch model.ProjectEnvironment(env) {
	case model.ProjectEnvProduction, model.ProjectEnvStaging, model.ProjectEnvDevelopment:
		return true
	}
	return false
}

// List handles GET /api/v1/projects
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

	query := h.db.Model(&model.Project{})
	if req.OrgID > 0 {
		query = query.Where("org_id = ?", req.OrgID)
	}
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.Environment != "" {
		query = query.Where("environment = ?", req.Environment)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count projects", err))
		return
	}

	var projects []model.Project
	offset := (req.Page - 1) * req.PageSize
	if err := query.
		Offset(offset).
		Limit(req.PageSize).
		Order("id DESC").
		Find(&projects).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch projects", err))
		return
	}

	items := make([]dto.ProjectDTO, len(projects))
	for i := range projects {
		items[i] = dto.NewProjectDTO(&projects[i])
	}

	httpx.OK(c, ListResponse{
		Items:    items,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// Create handles POST /api/v1/projects/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	environment := model.ProjectEnvDevelopment
	if req.Environment != "" {
		if !validEnvironment(req.Environment) {
			httpx.FailErr(c, httpx.ErrParamIllegal(fmt.Sprintf("unknown environment %q", req.Environment)))
			return
		}
		environment = model.ProjectEnvironment(req.Environment)
	}

	var org model.Organization
	if err := h.db.First(&org, req.OrgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("organization not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch organization", err))
		return
	}

	// Name is unique within the organization
	var count int64
	if err := h.db.Model(&model.Project{}).
		Where("org_id = ? AND name = ?", req.OrgID, req.Name).
		Count(&count).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to check name uniqueness", err))
		return
	}
	if count > 0 {
		httpx.FailErr(c, httpx.ErrAlreadyExists("project name already exists in this organization"))
		return
	}

	actor := middleware.Actor(c)
	project := model.Project{
		Name:        req.Name,
		OrgID:       req.OrgID,
		Environment: environment,
		Description: req.Description,
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		return h.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityProject,
			EntityID:   project.ID,
			Action:     model.AuditActionCreate,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			After:      audit.ProjectSnapshot(&project),
		})
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create project", err))
		return
	}

	httpx.OK(c, dto.NewProjectDTO(&project))
}

// Update handles POST /api/v1/projects/update
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	var project model.Project
	if err := h.db.First(&project, req.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("project not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch project", err))
		return
	}

	before := audit.ProjectSnapshot(&project)
	updates := map[string]interface{}{}

	if req.Name != nil && *req.Name != project.Name {
		if *req.Name == "" {
			httpx.FailErr(c, httpx.ErrParamInvalid("name cannot be empty"))
			return
		}
		var count int64
		if err := h.db.Model(&model.Project{}).
			Where("org_id = ? AND name = ? AND id <> ?", project.OrgID, *req.Name, project.ID).
			Count(&count).Error; err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to check name uniqueness", err))
			return
		}
		if count > 0 {
			httpx.FailErr(c, httpx.ErrAlreadyExists("project name already exists in this organization"))
			return
		}
		updates["name"] = *req.Name
	}
	if req.Environment != nil && *req.Environment != string(project.Environment) {
		if !validEnvironment(*req.Environment) {
			httpx.FailErr(c, httpx.ErrParamIllegal(fmt.Sprintf("unknown environment %q", *req.Environment)))
			return
		}
		updates["environment"] = *req.Environment
	}
	if req.Description != nil && *req.Description != project.Description {
		updates["description"] = *req.Description
	}

	if len(updates) == 0 {
		httpx.OK(c, dto.NewProjectDTO(&project))
		return
	}

	actor := middleware.Actor(c)
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&project).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		if err := tx.First(&project, project.ID).Error; err != nil {
			return fmt.Errorf("failed to reload project: %w", err)
		}
		return h.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityProject,
			EntityID:   project.ID,
			Action:     model.AuditActionUpdate,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     before,
			After:      audit.ProjectSnapshot(&project),
		})
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to update project", err))
		return
	}

	httpx.OK(c, dto.NewProjectDTO(&project))
}

// Delete handles POST /api/v1/projects/delete. A project that still owns
// clusters cannot be deleted; clusters go through their own delete flow.
func (h *Handler) Delete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	var project model.Project
	if err := h.db.First(&project, req.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("project not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch project", err))
		return
	}

	var clusterCount int64
	if err := h.db.Model(&model.Cluster{}).Where("project_id = ?", project.ID).Count(&clusterCount).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count clusters", err))
		return
	}
	if clusterCount > 0 {
		httpx.FailErr(c, httpx.ErrStateConflict(fmt.Sprintf("project still has %d clusters", clusterCount)))
		return
	}

	actor := middleware.Actor(c)
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&project).Error; err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		return h.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityProject,
			EntityID:   project.ID,
			Action:     model.AuditActionDelete,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     audit.ProjectSnapshot(&project),
		})
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete project", err))
		return
	}

	httpx.OK(c, gin.H{"id": project.ID})
}
