package migrations

import (
	"github.com/ksred/skyline-api/internal/lab"
	"gorm.io/gorm"
)

// AddEODReports creates the end-of-day report tables
func AddEODReports(db *gorm.DB) error {
	if err := db.AutoMigrate(&lab.Report{}); err != nil {
		return err
	}
	return db.AutoMigrate(&lab.ReportLine{})
}
