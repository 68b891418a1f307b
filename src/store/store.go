package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a profile or session record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrNameConflict is returned on a duplicate profile name.
var ErrNameConflict = errors.New("profile name already exists")

// Store wraps the SQLite database holding profiles and session records.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates the tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&SessionProfile{}, &SessionRecord{})
}

// EnsureSessionColumns adds the lifecycle columns to the sessions table when
// upgrading from a schema that predates them. Additive only.
func (s *Store) EnsureSessionColumns() error {
	migrator := s.db.Migrator()
	for _, column := range []string{"status", "finished_at", "exit_code"} {
		if migrator.HasColumn(&SessionRecord{}, column) {
			continue
		}
		if err := migrator.AddColumn(&SessionRecord{}, column); err != nil {
			return fmt.Errorf("failed to add sessions.%s: %w", column, err)
		}
	}
	return nil
}

// MarkOrphanSessions converts every record still marked running to
// interrupted. Runs once at process start; this is the only place the
// interrupted status is assigned.
func (s *Store) MarkOrphanSessions() error {
	now := time.Now().UTC()
	result := s.db.Model(&SessionRecord{}).
		Where("status = ?", StatusRunning).
		Updates(map[string]interface{}{
			"status":      StatusInterrupted,
			"finished_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		logrus.Infof("Marked %d orphaned sessions as interrupted", result.RowsAffected)
	}
	return nil
}

// SeedDefaultProfile inserts the default profile unless a profile with the
// same name already exists.
func (s *Store) SeedDefaultProfile(name, command, cwd string) error {
	var count int64
	if err := s.db.Model(&SessionProfile{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	profile := &SessionProfile{
		Name:    name,
		Command: command,
		Args:    "[]",
		Cwd:     &cwd,
		EnvJSON: "{}",
	}
	return s.db.Create(profile).Error
}

// ListProfiles returns all profiles ordered by id.
func (s *Store) ListProfiles() ([]SessionProfile, error) {
	var profiles []SessionProfile
	err := s.db.Order("id").Find(&profiles).Error
	return profiles, err
}

// GetProfile looks up a profile by id.
func (s *Store) GetProfile(id int) (*SessionProfile, error) {
	var profile SessionProfile
	if err := s.db.First(&profile, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// CreateProfile inserts a profile, mapping the unique-name violation to
// ErrNameConflict.
func (s *Store) CreateProfile(profile *SessionProfile) error {
	if err := s.db.Create(profile).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrNameConflict
		}
		return err
	}
	return nil
}

// SaveProfile persists updates to an existing profile.
func (s *Store) SaveProfile(profile *SessionProfile) error {
	if err := s.db.Save(profile).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrNameConflict
		}
		return err
	}
	return nil
}

// DeleteProfile removes a profile by id.
func (s *Store) DeleteProfile(id int) error {
	result := s.db.Delete(&SessionProfile{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSessionRecord inserts the durable row for a freshly created session.
func (s *Store) CreateSessionRecord(record *SessionRecord) error {
	return s.db.Create(record).Error
}

// GetSession looks up a session record by id.
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	var record SessionRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ListSessions returns all session records with their profiles preloaded,
// newest first.
func (s *Store) ListSessions() ([]SessionRecord, error) {
	var records []SessionRecord
	err := s.db.Preload("Profile").Order("created_at DESC").Find(&records).Error
	return records, err
}

// DeleteSession removes a session record by id.
func (s *Store) DeleteSession(id string) error {
	result := s.db.Delete(&SessionRecord{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishSession moves a running record into a terminal status, stamping
// finished_at and recording the exit code when known. Records already in a
// terminal state, or already deleted by the CRUD layer, are a no-op, which
// keeps status transitions monotonic.
func (s *Store) FinishSession(id string, status string, exitCode *int) error {
	updates := map[string]interface{}{"status": status}
	if IsTerminalStatus(status) {
		updates["finished_at"] = time.Now().UTC()
	}
	if exitCode != nil {
		updates["exit_code"] = *exitCode
	}
	return s.db.Model(&SessionRecord{}).
		Where("id = ? AND status = ?", id, StatusRunning).
		Updates(updates).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
