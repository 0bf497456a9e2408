package lab

import (
	"errors"

	"gorm.io/gorm"
)

// ErrReportNotFound is returned when no report exists for a run
var ErrReportNotFound = errors.New("report not found")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveReport stores a report and its lines in one transaction.
// Saving a run that is already stored is a no-op.
func (d *Database) SaveReport(report *Report) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var count int64
	if err := tx.Model(&Report{}).Where("run_id = ?", report.RunID).Count(&count).Error; err != nil {
		tx.Rollback()
		return err
	}
	if count > 0 {
		return tx.Rollback().Error
	}

	// lines are created through the association
	if err := tx.Create(report).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// ListReports returns an owner's reports newest first, without lines
func (d *Database) ListReports(owner string) ([]Report, error) {
	var reports []Report
	if err := d.db.Where("owner = ?", owner).Order("finished_at DESC").Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}

// GetReport returns one report with its lines
func (d *Database) GetReport(owner, runID string) (*Report, error) {
	var report Report
	err := d.db.Preload("Lines").Where("run_id = ? AND owner = ?", runID, owner).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return &report, nil
}
