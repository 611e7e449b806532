package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})
	db, err := NewDB(Config{Path: filepath.Join(t.TempDir(), "test.db")}, log)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDB(t *testing.T) {
	db := newTestDB(t)

	if db.db == nil {
		t.Error("Expected non-nil database connection")
	}
}

func TestNewDB_DefaultPath(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	defer func() { _ = os.Remove(DefaultPath) }()

	db, err := NewDB(Config{}, log)
	if err != nil {
		t.Fatalf("Failed to create database with default path: %v", err)
	}
	defer func() { _ = db.Close() }()

	if db.db == nil {
		t.Error("Expected non-nil database connection")
	}
}

func TestNewDB_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "packets.db")
	db, err := NewDB(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected database file to exist: %v", err)
	}
}

func TestDB_Repositories(t *testing.T) {
	db := newTestDB(t)

	if err := db.Packets().Create(&DecodedPacket{LAP: 0x9e8b33, Type: "DM1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := db.Piconets().Upsert(&Piconet{LAP: 0x9e8b33}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	packets, err := db.Packets().GetByLAP(0x9e8b33, 10)
	if err != nil || len(packets) != 1 {
		t.Errorf("Expected 1 stored packet, got %d (%v)", len(packets), err)
	}
	if n, _ := db.Piconets().Count(); n != 1 {
		t.Errorf("Expected 1 piconet, got %d", n)
	}
}

func TestDB_Prune(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	for _, age := range []time.Duration{72 * time.Hour, 30 * time.Hour, time.Hour} {
		if err := db.Packets().Create(&DecodedPacket{LAP: 1, ReceivedAt: now.Add(-age)}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	deleted, err := db.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
	left, _ := db.Packets().GetRecent(10)
	if len(left) != 1 {
		t.Errorf("Expected 1 packet left, got %d", len(left))
	}
}

func TestNewDB_RetentionPrunesOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packets.db")
	db, err := NewDB(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	if err := db.Packets().Create(&DecodedPacket{LAP: 1, ReceivedAt: time.Now().Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = db.Close()

	db, err = NewDB(Config{Path: path, Retention: 24 * time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer func() { _ = db.Close() }()

	left, _ := db.Packets().GetRecent(10)
	if len(left) != 0 {
		t.Errorf("Expected old packet pruned on open, %d left", len(left))
	}
}

func TestDecodedPacket_BeforeCreate(t *testing.T) {
	db := newTestDB(t)
	repo := NewPacketRepository(db.GetDB())

	p := &DecodedPacket{LAP: 0x9e8b33, Type: "DM1", TypeCode: 3}
	if err := repo.Create(p); err != nil {
		t.Fatalf("Failed to create packet: %v", err)
	}

	if p.ID == 0 {
		t.Error("Expected non-zero ID after creation")
	}
	if p.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set by hook")
	}
	if p.ReceivedAt.IsZero() {
		t.Error("Expected ReceivedAt to be set by hook")
	}
}

func TestPacketRepository_GetRecent(t *testing.T) {
	db := newTestDB(t)
	repo := NewPacketRepository(db.GetDB())

	now := time.Now()
	for i := 0; i < 5; i++ {
		p := &DecodedPacket{
			LAP:        0x9e8b33,
			Type:       "DH1",
			Length:     i + 3,
			ReceivedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(p); err != nil {
			t.Fatalf("Failed to create packet: %v", err)
		}
	}

	packets, err := repo.GetRecent(3)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(packets) != 3 {
		t.Fatalf("Expected 3 packets, got %d", len(packets))
	}
	if packets[0].Length != 7 {
		t.Errorf("Expected newest packet first, got length %d", packets[0].Length)
	}

	page, total, err := repo.GetRecentPaginated(2, 2)
	if err != nil {
		t.Fatalf("GetRecentPaginated: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected total 5, got %d", total)
	}
	if len(page) != 2 || page[0].Length != 5 {
		t.Errorf("Unexpected second page: %+v", page)
	}
}

func TestPacketRepository_Filters(t *testing.T) {
	db := newTestDB(t)
	repo := NewPacketRepository(db.GetDB())

	records := []DecodedPacket{
		{SessionID: "a", LAP: 0x9e8b33, Type: "DM1", Payload: []byte{0x01, 0x02}},
		{SessionID: "a", LAP: 0x9e8b33, Type: "FHS"},
		{SessionID: "b", LAP: 0x123456, Type: "DM1"},
	}
	for i := range records {
		if err := repo.Create(&records[i]); err != nil {
			t.Fatalf("Failed to create packet: %v", err)
		}
	}

	byLAP, err := repo.GetByLAP(0x9e8b33, 10)
	if err != nil {
		t.Fatalf("GetByLAP: %v", err)
	}
	if len(byLAP) != 2 {
		t.Errorf("Expected 2 packets for LAP, got %d", len(byLAP))
	}

	bySession, err := repo.GetBySession("b", 10)
	if err != nil {
		t.Fatalf("GetBySession: %v", err)
	}
	if len(bySession) != 1 || bySession[0].LAP != 0x123456 {
		t.Errorf("Unexpected session packets: %+v", bySession)
	}

	counts, err := repo.CountByType()
	if err != nil {
		t.Fatalf("CountByType: %v", err)
	}
	if len(counts) != 2 || counts[0].Type != "DM1" || counts[0].Count != 2 {
		t.Errorf("Unexpected counts: %+v", counts)
	}
}

func TestPacketRepository_DeleteOlderThan(t *testing.T) {
	db := newTestDB(t)
	repo := NewPacketRepository(db.GetDB())

	now := time.Now()
	old := &DecodedPacket{LAP: 1, ReceivedAt: now.Add(-48 * time.Hour)}
	recent := &DecodedPacket{LAP: 2, ReceivedAt: now}
	for _, p := range []*DecodedPacket{old, recent} {
		if err := repo.Create(p); err != nil {
			t.Fatalf("Failed to create packet: %v", err)
		}
	}

	deleted, err := repo.DeleteOlderThan(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
}

func TestPiconetRepository_Upsert(t *testing.T) {
	db := newTestDB(t)
	repo := NewPiconetRepository(db.GetDB())

	p := &Piconet{LAP: 0x9e8b33, PacketCount: 1}
	if err := repo.Upsert(p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if p.FirstSeen.IsZero() || p.LastSeen.IsZero() {
		t.Error("Expected FirstSeen and LastSeen to be set")
	}

	p.UAP = 0x47
	p.UAPKnown = true
	p.PacketCount = 5
	if err := repo.Upsert(p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.GetByLAP(0x9e8b33)
	if err != nil {
		t.Fatalf("GetByLAP: %v", err)
	}
	if !got.UAPKnown || got.UAP != 0x47 || got.PacketCount != 5 {
		t.Errorf("Unexpected piconet: %+v", got)
	}

	count, err := repo.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 piconet, got %d", count)
	}

	if _, err := repo.GetByLAP(0x123456); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestPiconetRepository_GetSeenSince(t *testing.T) {
	db := newTestDB(t)
	repo := NewPiconetRepository(db.GetDB())

	now := time.Now()
	for i, lap := range []uint32{0x000001, 0x000002, 0x000003} {
		seen := now.Add(-time.Duration(i) * time.Hour)
		if err := repo.Upsert(&Piconet{LAP: lap, FirstSeen: seen, LastSeen: seen}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	recent, err := repo.GetSeenSince(now.Add(-90 * time.Minute))
	if err != nil {
		t.Fatalf("GetSeenSince: %v", err)
	}
	if len(recent) != 2 || recent[0].LAP != 0x000001 {
		t.Errorf("Unexpected piconets: %+v", recent)
	}

	if err := repo.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	all, _ := repo.GetAll()
	if len(all) != 0 {
		t.Errorf("Expected no piconets after DeleteAll, got %d", len(all))
	}
}

func TestPiconet_Address(t *testing.T) {
	tests := []struct {
		name     string
		piconet  Piconet
		expected string
	}{
		{"lap only", Piconet{LAP: 0x9e8b33}, "??:??:??:9e:8b:33"},
		{"with uap", Piconet{LAP: 0x9e8b33, UAP: 0x47, UAPKnown: true}, "??:??:47:9e:8b:33"},
		{"full", Piconet{LAP: 0x9e8b33, UAP: 0x47, UAPKnown: true, NAP: 0x0123, NAPKnown: true}, "01:23:47:9e:8b:33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.piconet.Address(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}
