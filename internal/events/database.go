package events

import (
	"slices"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateRecord(record *Record) error {
	return d.db.Create(record).Error
}

// ListBySession returns the most recent limit events of a session (0 = all),
// oldest first
func (d *Database) ListBySession(sessionID, owner string, limit int) ([]Record, error) {
	var records []Record
	q := d.db.Where("session_id = ? AND owner = ?", sessionID, owner).Order("occurred_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	slices.Reverse(records)
	return records, nil
}
