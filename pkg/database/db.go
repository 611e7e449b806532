package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// Use modernc.org/sqlite (pure Go, no CGO)
	"gorm.io/driver/sqlite"
	_ "modernc.org/sqlite"
)

// DefaultPath is used when no database path is configured
const DefaultPath = "btbb-nexus.db"

// pragmas are applied to every connection. Packets are written by the
// decode pipeline while the web API reads.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// DB holds the decoded packet store
type DB struct {
	db       *gorm.DB
	logger   *logger.Logger
	packets  *PacketRepository
	piconets *PiconetRepository
}

// Config holds database configuration
type Config struct {
	Path string
	// Retention is how long decoded packets are kept; zero keeps them forever
	Retention time.Duration
}

// NewDB opens or creates the packet store and migrates its tables
func NewDB(cfg Config, log *logger.Logger) (*DB, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}
	log = log.WithComponent("database")

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: cfg.Path}, &gorm.Config{
		Logger: gormlogger.New(&gormLogAdapter{log: log}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.AutoMigrate(&DecodedPacket{}, &Piconet{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	d := &DB{
		db:       db,
		logger:   log,
		packets:  NewPacketRepository(db),
		piconets: NewPiconetRepository(db),
	}
	log.Info("Database initialized", logger.String("path", cfg.Path))

	if cfg.Retention > 0 {
		if _, err := d.Prune(cfg.Retention); err != nil {
			log.Warn("Failed to prune old packets", logger.Error(err))
		}
	}
	return d, nil
}

// Packets returns the decoded packet repository
func (d *DB) Packets() *PacketRepository {
	return d.packets
}

// Piconets returns the piconet repository
func (d *DB) Piconets() *PiconetRepository {
	return d.piconets
}

// Prune deletes packets received more than maxAge ago
func (d *DB) Prune(maxAge time.Duration) (int64, error) {
	deleted, err := d.packets.DeleteOlderThan(time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		d.logger.Info("Pruned old packets",
			logger.Int64("deleted", deleted),
			logger.String("max_age", maxAge.String()))
	}
	return deleted, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the underlying GORM database instance
func (d *DB) GetDB() *gorm.DB {
	return d.db
}

// gormLogAdapter routes GORM warnings to the component logger
type gormLogAdapter struct {
	log *logger.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
