package roadmap

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateRoadmap(r *Roadmap) error {
	return d.db.Create(r).Error
}

// ListRoadmaps returns an owner's roadmaps newest first
func (d *Database) ListRoadmaps(owner string) ([]Roadmap, error) {
	var roadmaps []Roadmap
	if err := d.db.Where("owner = ?", owner).Order("created_at DESC").Find(&roadmaps).Error; err != nil {
		return nil, err
	}
	return roadmaps, nil
}

func (d *Database) GetRoadmap(owner, id string) (*Roadmap, error) {
	var r Roadmap
	if err := d.db.Where("id = ? AND owner = ?", id, owner).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoadmapNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (d *Database) DeleteRoadmap(owner, id string) error {
	result := d.db.Where("id = ? AND owner = ?", id, owner).Delete(&Roadmap{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoadmapNotFound
	}
	return nil
}
