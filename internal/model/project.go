package model

// ProjectEnvironment tags a project with its deployment stage
type ProjectEnvironment string

const (
	ProjectEnvProduction  ProjectEnvironment = "production"
	ProjectEnvStaging     ProjectEnvironment = "staging"
	ProjectEnvDevelopment ProjectEnvironment = "development"
)

// Project groups clusters under an organization
type Project struct {
	BaseModel
	Name        string             `gorm:"type:varchar(128);not null;uniqueIndex:idx_projects_org_name" json:"name"`
	OrgID       int                `gorm:"not null;uniqueIndex:idx_projects_org_name;index" json:"org_id"`
	Environment ProjectEnvironment `gorm:"type:varchar(16);default:'development'" json:"environment"`
	Description string             `gorm:"type:varchar(512)" json:"description"`
	Clusters    []Cluster          `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"clusters,omitempty"`
}

// TableName specifies the table name for Project model
func (Project) TableName() string {
	return "projects"
}
