package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jobflow/jobflow/pkg/models"
)

// Store wraps the relational database holding workflows, tasks and
// submissions.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the store. databaseURL selects a postgres DSN when
// set; otherwise path names the SQLite file on the shared filesystem.
// The SQLite connection takes a generous busy timeout so bulk task
// start/end writes queue behind each other instead of failing.
func Open(path, databaseURL string, log *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector

	if databaseURL != "" {
		dialector = postgres.Open(databaseURL)
	} else {
		dsn := path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

// Migrate initializes the schema. Invoked only by the make and submit
// operations.
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.InfoContext(ctx, "initializing store schema")

	err := s.db.WithContext(ctx).AutoMigrate(
		&models.Workflow{},
		&models.CommandGroup{},
		&models.VariableDefinition{},
		&models.Task{},
		&models.Submission{},
		&models.Jobscript{},
		&models.CommandWriting{},
		&models.Iteration{},
		&models.ArchiveOperation{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}

// EnsureSchema fails fast when the schema is absent. Every operation
// other than make and submit calls this before touching the store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if !s.db.WithContext(ctx).Migrator().HasTable(&models.Workflow{}) {
		return ErrSchemaMissing
	}

	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database connection: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

// HealthCheck verifies the connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database connection: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping store: %w", err)
	}

	return nil
}

// transact runs fn in a short transaction, retrying with bounded
// exponential backoff while the database reports lock contention. This
// keeps hundreds of concurrent array-task writers queuing instead of
// surfacing serialization failures.
func (s *Store) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
	), 8), ctx)

	return backoff.Retry(func() error {
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}

		if isLockError(err) {
			return err
		}

		return backoff.Permanent(err)
	}, policy)
}

func isLockError(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "deadlock detected")
}
