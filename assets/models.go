package assets

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Model is a 3D asset record. FileType is always derived from FilePath.
type Model struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	FilePath      string    `gorm:"size:512;not null" json:"filePath"`
	FileType      string    `gorm:"size:32;not null" json:"fileType"`
	ThumbnailPath *string   `gorm:"size:512" json:"thumbnailPath"`
	Size          *string   `gorm:"size:64" json:"size"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

func (Model) TableName() string {
	return "models"
}

// Material is a structured definition scoped to one parent Model. The parent link is a
// plain indexed column: Materials may outlive their Model under the retain policy.
type Material struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	ModelID       uint64         `gorm:"not null;index" json:"modelId"`
	Name          string         `gorm:"size:255;not null" json:"name"`
	Data          datatypes.JSON `gorm:"not null" json:"data"`
	ThumbnailPath *string        `gorm:"size:512" json:"thumbnailPath"`
	CreatedAt     time.Time      `gorm:"index" json:"createdAt"`
}

func (Material) TableName() string {
	return "materials"
}

// BeforeCreate assigns the opaque identifier and the empty default document.
func (m *Material) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if len(m.Data) == 0 {
		m.Data = datatypes.JSON("{}")
	}
	return nil
}

// AutoMigrate creates or updates the tables backing Models and Materials.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Model{}, &Material{})
}
