package dto

import (
	"time"

	"pgplane/internal/model"
)

// OrganizationDTO represents an organization in API responses
type OrganizationDTO struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ProjectCount int       `json:"projectCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewOrganizationDTO converts an Organization to its API representation
func NewOrganizationDTO(o *model.Organization) OrganizationDTO {
	return OrganizationDTO{
		ID:           o.ID,
		Name:         o.Name,
		Description:  o.Description,
		ProjectCount: len(o.Projects),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

// ProjectDTO represents a project in API responses
type ProjectDTO struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	OrgID       int       `json:"orgId"`
	Environment string    `json:"environment"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewProjectDTO converts a Project to its API representation
func NewProjectDTO(p *model.Project) ProjectDTO {
	return ProjectDTO{
		ID:          p.ID,
		Name:        p.Name,
		OrgID:       p.OrgID,
		Environment: string(p.Environment),
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
