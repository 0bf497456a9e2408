package roadmap

import (
	"encoding/json"
	"time"

	"github.com/ksred/skyline-api/internal/gateway"
	"gorm.io/gorm"
)

// Roadmap is a roadmap document saved by a client
type Roadmap struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Owner     string    `gorm:"not null" json:"-"`
	Domain    string    `gorm:"not null" json:"domain"`
	Role      string    `gorm:"not null" json:"role"`
	Title     string    `json:"title"`
	Body      string    `gorm:"type:text;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Document gateway.RoadmapDocument `gorm:"-" json:"document"`
}

// TableName overrides the table name
func (Roadmap) TableName() string {
	return "roadmaps"
}

// BeforeSave serializes the document into Body
func (r *Roadmap) BeforeSave(*gorm.DB) error {
	body, err := json.Marshal(r.Document)
	if err != nil {
		return err
	}
	r.Body = string(body)
	return nil
}

// AfterFind restores the document from Body
func (r *Roadmap) AfterFind(*gorm.DB) error {
	if r.Body == "" {
		return nil
	}
	return json.Unmarshal([]byte(r.Body), &r.Document)
}

// GenerateRequest asks for a new roadmap
type GenerateRequest struct {
	Domain string `json:"domain" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// SaveRequest stores a generated (or edited) roadmap
type SaveRequest struct {
	Domain   string                  `json:"domain" binding:"required"`
	Role     string                  `json:"role" binding:"required"`
	Document gateway.RoadmapDocument `json:"document"`
}
