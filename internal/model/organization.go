package model

// Organization is the top-level tenant owning projects and clusters.
type Organization struct {
	BaseModel
	Name        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:varchar(512)" json:"description"`
	Projects    []Project `gorm:"foreignKey:OrgID;constraint:OnDelete:CASCADE" json:"projects,omitempty"`
}

// TableName specifies the table name for Organization model
func (Organization) TableName() string {
	return "organizations"
}
