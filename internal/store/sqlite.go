// Package store – SQLite backend.
//
// This file contains the GORM-backed implementation of Store on top of the
// pure-Go SQLite driver, plus database bootstrapping (PRAGMAs, pooling,
// schema migration). WAL journaling gives per-key atomicity and durability
// across process termination without fsync tuning.
package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// record is the GORM model for one stored key-value pair. The value column is
// TEXT so the persisted JSON stays inspectable with any sqlite shell.
type record struct {
	Key       string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Value     string    `gorm:"type:TEXT NOT NULL"`
	UpdatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (record) TableName() string { return "records" }

// SQLiteStore is a Store backed by a local SQLite database. Writes are
// serialized through a mutex in addition to SQLite's own locking, enforcing
// the single-writer discipline at one chokepoint.
type SQLiteStore struct {
	db *gorm.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the cache database at path and migrates the
// schema. The returned store is ready for concurrent use.
func OpenSQLite(path string) (*SQLiteStore, error) {
	// Fail early if the parent directory does not exist (instead of a cryptic
	// sqlite "out of memory (14)" on some platforms).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool: a single writer plus status readers; keep it small.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	// Trace record reads/writes alongside the engine and service spans.
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var rec record
	err := s.db.Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(rec.Value), nil
}

// Set durably writes value under key. The row replace runs in a transaction,
// so a reader sees either the old or the new value in full.
func (s *SQLiteStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Save(&record{Key: key, Value: string(value), UpdatedAt: time.Now().UTC()}).Error
	})
}

// Delete removes the record under key; missing keys are a no-op.
func (s *SQLiteStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Where("key = ?", key).Delete(&record{}).Error
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
