package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/timebox/internal/storage"
)

// Store implements storage.Store on any GORM connection. The PostgreSQL
// backend and the SQLite backend both return one.
type Store struct {
	db     *gorm.DB
	runs   *RunRepository
	driver string
}

// NewGormStore wraps an open GORM connection. driver is reported by Driver.
func NewGormStore(db *gorm.DB, driver string) *Store {
	return &Store{
		db:     db,
		runs:   NewRunRepository(db),
		driver: driver,
	}
}

// Runs returns the run history repository.
func (s *Store) Runs() storage.RunStore { return s.runs }

// Migrate creates or updates the run history tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&RunModel{}); err != nil {
		return fmt.Errorf("migrating %s schema: %w", s.driver, err)
	}
	return nil
}

// Ping checks the connection for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Driver() string { return s.driver }

// GormDB returns the underlying connection.
func (s *Store) GormDB() *gorm.DB { return s.db }

// NewLogger routes GORM warnings and slow queries to slogger.
func NewLogger(slogger *slog.Logger) logger.Interface {
	return logger.New(
		slogWriter{slogger.With(slog.String("component", "gorm"))},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// slogWriter adapts *slog.Logger to GORM's logger.Writer.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Warn(fmt.Sprintf(format, args...))
}

var _ storage.Store = (*Store)(nil)
