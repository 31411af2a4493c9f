package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/balkashynov/tracker/internal/models"
)

// Store is the single persistent store shared by the CLI, the scheduler
// and the board. Every mutation runs in its own transaction.
type Store struct {
	db  *gorm.DB
	now func() time.Time

	pingIntervalMinutes int
	agentTimeoutMinutes int
}

// dsnParams makes every transaction BEGIN IMMEDIATE and waits up to five
// seconds for a lock held by another process
const dsnParams = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for every timestamp the store writes
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDefaults sets the ping interval for new tasks and the timeout for
// new agents when a request leaves them unset
func WithDefaults(pingIntervalMinutes, agentTimeoutMinutes int) Option {
	return func(s *Store) {
		if pingIntervalMinutes > 0 {
			s.pingIntervalMinutes = pingIntervalMinutes
		}
		if agentTimeoutMinutes > 0 {
			s.agentTimeoutMinutes = agentTimeoutMinutes
		}
	}
}

// Open sets up the database connection and runs migrations
func Open(dbPath string, opts ...Option) (*Store, error) {
	s := &Store{
		now:                 time.Now,
		pingIntervalMinutes: 30,
		agentTimeoutMinutes: 30,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Ensure the directory exists
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath+dsnParams), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent), // Quiet by default
		NowFunc: s.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	// One connection serializes writers inside this process. Other processes
	// sharing the file (CLI next to a running daemon) are serialized by SQLite:
	// transactions take the write lock up front and wait on busy_timeout
	// instead of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	s.db = db
	if err := s.runMigrations(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// DefaultPath returns the path to the SQLite database file
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".tracker", "tracker.db"), nil
}

// runMigrations creates/updates the database schema
func (s *Store) runMigrations() error {
	return s.db.AutoMigrate(
		&models.Task{},
		&models.Phase{},
		&models.Todo{},
		&models.Comment{},
		&models.Agent{},
		&models.TaskAssignment{},
		&models.Notification{},
	)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Now returns the store's current time in UTC
func (s *Store) Now() time.Time {
	return s.clock()
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}
