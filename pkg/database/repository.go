package database

import (
	"time"

	"gorm.io/gorm"
)

// PacketRepository handles decoded packet database operations
type PacketRepository struct {
	db *gorm.DB
}

// NewPacketRepository creates a new packet repository
func NewPacketRepository(db *gorm.DB) *PacketRepository {
	return &PacketRepository{db: db}
}

// Create adds a new packet record
func (r *PacketRepository) Create(p *DecodedPacket) error {
	return r.db.Create(p).Error
}

// GetRecent retrieves the most recent N packets
func (r *PacketRepository) GetRecent(limit int) ([]DecodedPacket, error) {
	var packets []DecodedPacket
	err := r.db.Order("received_at DESC, id DESC").Limit(limit).Find(&packets).Error
	return packets, err
}

// GetRecentPaginated retrieves packets with pagination
func (r *PacketRepository) GetRecentPaginated(page, perPage int) ([]DecodedPacket, int64, error) {
	var packets []DecodedPacket
	var total int64

	if err := r.db.Model(&DecodedPacket{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	err := r.db.Order("received_at DESC, id DESC").
		Offset(offset).
		Limit(perPage).
		Find(&packets).Error

	return packets, total, err
}

// GetByLAP retrieves packets of one piconet
func (r *PacketRepository) GetByLAP(lap uint32, limit int) ([]DecodedPacket, error) {
	var packets []DecodedPacket
	err := r.db.Where("lap = ?", lap).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Find(&packets).Error
	return packets, err
}

// GetBySession retrieves packets captured in one session
func (r *PacketRepository) GetBySession(sessionID string, limit int) ([]DecodedPacket, error) {
	var packets []DecodedPacket
	err := r.db.Where("session_id = ?", sessionID).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Find(&packets).Error
	return packets, err
}

// TypeCount is the number of packets of one type
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// CountByType returns packet counts grouped by type name
func (r *PacketRepository) CountByType() ([]TypeCount, error) {
	var counts []TypeCount
	err := r.db.Model(&DecodedPacket{}).
		Select("type, count(*) as count").
		Group("type").
		Order("count DESC, type").
		Scan(&counts).Error
	return counts, err
}

// DeleteOlderThan deletes packets received before the specified time
func (r *PacketRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.Where("received_at < ?", before).Delete(&DecodedPacket{})
	return result.RowsAffected, result.Error
}
