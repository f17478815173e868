// Package database persists targets, session history, and captured loot in a
// local SQLite file. The store is an explicit instance owned by the
// application, not a package singleton.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the gorm handle.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&Target{},
		&SessionRecord{},
		&LootEntry{},
		&EscalationAttempt{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Target is a host we have connected to at least once.
type Target struct {
	ID        string `gorm:"primaryKey"`
	Addr      string `gorm:"index"`
	Hostname  string
	Username  string
	OS        string
	Kernel    string
	CreatedAt int64 `gorm:"autoCreateTime"`
	UpdatedAt int64 `gorm:"autoUpdateTime"`
}

// BeforeCreate hook to generate UUID
func (t *Target) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().Unix()
	}
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// SessionRecord is one session against a target: when it opened, when it
// closed, and how it was established.
type SessionRecord struct {
	ID        string `gorm:"primaryKey"`
	TargetID  string `gorm:"index"`
	Transport string // tcp, ssh
	OpenedAt  int64
	ClosedAt  int64
	CreatedAt int64 `gorm:"autoCreateTime"`
}

// BeforeCreate hook
func (r *SessionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}
	return nil
}

// LootEntry records a file pulled from a target and where it landed locally.
type LootEntry struct {
	ID         string `gorm:"primaryKey"`
	SessionID  string `gorm:"index"`
	RemotePath string
	LocalPath  string
	Size       int64
	Method     string // the transfer method used, for the record
	CreatedAt  int64  `gorm:"autoCreateTime"`
}

// BeforeCreate hook
func (l *LootEntry) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt == 0 {
		l.CreatedAt = time.Now().Unix()
	}
	return nil
}

// EscalationAttempt records one privilege escalation try and its outcome.
type EscalationAttempt struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index"`
	Technique string // suid, sudo
	Binary    string
	Success   bool
	Detail    string
	CreatedAt int64 `gorm:"autoCreateTime"`
}

// SaveTarget upserts a target by address.
func (s *Store) SaveTarget(target *Target) error {
	var existing Target
	err := s.db.Where("addr = ?", target.Addr).First(&existing).Error
	if err == nil {
		target.ID = existing.ID
		target.CreatedAt = existing.CreatedAt
	}
	return s.db.Save(target).Error
}

// GetTargets retrieves all known targets, newest first.
func (s *Store) GetTargets() ([]*Target, error) {
	var targets []*Target
	err := s.db.Order("updated_at DESC").Find(&targets).Error
	return targets, err
}

// GetTargetByAddr retrieves a target by its connect address.
func (s *Store) GetTargetByAddr(addr string) (*Target, error) {
	var target Target
	if err := s.db.Where("addr = ?", addr).First(&target).Error; err != nil {
		return nil, err
	}
	return &target, nil
}

// SaveSession records a session open or update.
func (s *Store) SaveSession(record *SessionRecord) error {
	return s.db.Save(record).Error
}

// CloseSession stamps the session's close time.
func (s *Store) CloseSession(id string) error {
	return s.db.Model(&SessionRecord{}).Where("id = ?", id).
		Update("closed_at", time.Now().Unix()).Error
}

// GetSessions retrieves session history for a target, newest first.
func (s *Store) GetSessions(targetID string) ([]*SessionRecord, error) {
	var records []*SessionRecord
	err := s.db.Where("target_id = ?", targetID).
		Order("created_at DESC").Find(&records).Error
	return records, err
}

// SaveLoot records a captured file.
func (s *Store) SaveLoot(entry *LootEntry) error {
	return s.db.Save(entry).Error
}

// GetLoot retrieves loot for a session, newest first.
func (s *Store) GetLoot(sessionID string) ([]*LootEntry, error) {
	var entries []*LootEntry
	err := s.db.Where("session_id = ?", sessionID).
		Order("created_at DESC").Find(&entries).Error
	return entries, err
}

// SaveEscalation records a privilege escalation attempt.
func (s *Store) SaveEscalation(attempt *EscalationAttempt) error {
	return s.db.Create(attempt).Error
}

// GetEscalations retrieves escalation history for a session.
func (s *Store) GetEscalations(sessionID string) ([]*EscalationAttempt, error) {
	var attempts []*EscalationAttempt
	err := s.db.Where("session_id = ?", sessionID).
		Order("created_at DESC").Find(&attempts).Error
	return attempts, err
}
