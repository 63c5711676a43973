package models

import (
	"time"

	"gorm.io/datatypes"
)

// DefinitionMetadata is the locally stored half of a job definition:
// the parameter schema, descriptions, and analysis levels supplied at
// registration time. It is joined with the backend registration record
// by (Name, Ref, Revision) when definitions are described.
type DefinitionMetadata struct {
	ID                 uint              `gorm:"primaryKey" json:"-"`
	Name               string            `gorm:"index;not null" json:"name"`
	Ref                string            `gorm:"uniqueIndex;not null" json:"ref"`
	Revision           int               `gorm:"not null" json:"revision"`
	Parameters         datatypes.JSONMap `gorm:"type:json" json:"parameters"`
	Descriptions       datatypes.JSONMap `gorm:"type:json" json:"descriptions"`
	ParametersMetadata datatypes.JSONMap `gorm:"type:json" json:"parameters_metadata"`
	AnalysisLevels     datatypes.JSON    `gorm:"type:json" json:"analysis_levels"`
	CreatedAt          time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null" json:"updated_at"`
}
