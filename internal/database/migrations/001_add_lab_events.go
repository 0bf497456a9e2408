package migrations

import (
	"github.com/ksred/skyline-api/internal/events"
	"gorm.io/gorm"
)

// AddLabEvents creates the lab event audit table and its lookup indexes
func AddLabEvents(db *gorm.DB) error {
	if err := db.AutoMigrate(&events.Record{}); err != nil {
		return err
	}

	indexes := []string{
		// Session history is read in occurrence order
		`CREATE INDEX IF NOT EXISTS idx_lab_events_session_occurred
		 ON lab_events(session_id, occurred_at)`,

		`CREATE INDEX IF NOT EXISTS idx_lab_events_owner
		 ON lab_events(owner)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
