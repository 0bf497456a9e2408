package migrations

import (
	"github.com/ksred/skyline-api/internal/roadmap"
	"gorm.io/gorm"
)

// AddRoadmaps creates the saved roadmap table
func AddRoadmaps(db *gorm.DB) error {
	if err := db.AutoMigrate(&roadmap.Roadmap{}); err != nil {
		return err
	}

	// Saved roadmaps are listed newest first per owner
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_roadmaps_owner_created
		ON roadmaps(owner, created_at)`).Error
}
