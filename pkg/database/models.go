package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DecodedPacket is one decoded baseband packet
type DecodedPacket struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	SessionID  string    `gorm:"index;size:36" json:"session_id"`
	LAP        uint32    `gorm:"index;not null" json:"lap"`
	UAP        uint8     `json:"uap"`
	UAPKnown   bool      `json:"uap_known"`
	Channel    int       `json:"channel"`
	CLKN       uint32    `json:"clkn"`
	Clock      uint32    `json:"clock"`
	TypeCode   uint8     `gorm:"index" json:"type_code"`
	Type       string    `gorm:"size:16" json:"type"`
	LTAddr     uint8     `json:"lt_addr"`
	LLID       uint8     `json:"llid"`
	Flow       bool      `json:"flow"`
	Length     int       `json:"length"`
	Confidence string    `gorm:"size:8" json:"confidence"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `gorm:"index;not null" json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for DecodedPacket
func (DecodedPacket) TableName() string {
	return "packets"
}

// BeforeCreate hook to ensure ReceivedAt is set
func (p *DecodedPacket) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = p.CreatedAt
	}
	return nil
}

// Piconet is what has been learned about one piconet, keyed by its LAP
type Piconet struct {
	LAP         uint32    `gorm:"primarykey;autoIncrement:false" json:"lap"`
	UAP         uint8     `json:"uap"`
	UAPKnown    bool      `json:"uap_known"`
	NAP         uint16    `json:"nap"`
	NAPKnown    bool      `json:"nap_known"`
	Clock       uint32    `json:"clock"`
	PacketCount int64     `gorm:"default:0" json:"packet_count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `gorm:"index" json:"last_seen"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for Piconet
func (Piconet) TableName() string {
	return "piconets"
}

// Address formats the known part of the master's device address with
// unknown parts shown as ??
func (p *Piconet) Address() string {
	nap := "??:??"
	if p.NAPKnown {
		nap = fmt.Sprintf("%02x:%02x", p.NAP>>8, p.NAP&0xff)
	}
	uap := "??"
	if p.UAPKnown {
		uap = fmt.Sprintf("%02x", p.UAP)
	}
	return fmt.Sprintf("%s:%s:%02x:%02x:%02x", nap, uap, (p.LAP>>16)&0xff, (p.LAP>>8)&0xff, p.LAP&0xff)
}
