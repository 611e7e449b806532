package database

import (
	"time"

	"gorm.io/gorm"
)

// PiconetRepository handles piconet database operations
type PiconetRepository struct {
	db *gorm.DB
}

// NewPiconetRepository creates a new piconet repository
func NewPiconetRepository(db *gorm.DB) *PiconetRepository {
	return &PiconetRepository{db: db}
}

// Upsert creates or updates a piconet record
func (r *PiconetRepository) Upsert(p *Piconet) error {
	if p.FirstSeen.IsZero() {
		p.FirstSeen = time.Now()
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = p.FirstSeen
	}
	return r.db.Save(p).Error
}

// GetByLAP retrieves a piconet by its LAP
func (r *PiconetRepository) GetByLAP(lap uint32) (*Piconet, error) {
	var p Piconet
	err := r.db.Where("lap = ?", lap).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAll returns every piconet, most recently seen first
func (r *PiconetRepository) GetAll() ([]Piconet, error) {
	var piconets []Piconet
	err := r.db.Order("last_seen DESC").Find(&piconets).Error
	return piconets, err
}

// GetSeenSince returns piconets seen at or after since
func (r *PiconetRepository) GetSeenSince(since time.Time) ([]Piconet, error) {
	var piconets []Piconet
	err := r.db.Where("last_seen >= ?", since).Order("last_seen DESC").Find(&piconets).Error
	return piconets, err
}

// Count returns the total number of piconets in the database
func (r *PiconetRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&Piconet{}).Count(&count).Error
	return count, err
}

// DeleteAll removes all piconets from the database
func (r *PiconetRepository) DeleteAll() error {
	return r.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Piconet{}).Error
}
