// Package sqlite keeps run history in a single SQLite file. It uses the
// pure-Go glebarez/sqlite driver (no CGO) and the GORM store shared with the
// PostgreSQL backend.
package sqlite

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/jkaninda/timebox/internal/storage"
	pgstore "github.com/jkaninda/timebox/internal/storage/postgres"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // Default: wal
}

// Store is the shared GORM store opened on a SQLite file.
type Store struct {
	*pgstore.Store
	path string
}

// Open creates the database file and its directory if needed.
// Call Migrate before first use.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if slogger == nil {
		slogger = slog.New(slog.DiscardHandler)
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	db, err := gorm.Open(sqlite.Open(dsn(cfg.Path, journalMode)), &gorm.Config{
		Logger:  pgstore.NewLogger(slogger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", cfg.Path, err)
	}

	slogger.Debug("sqlite store opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", journalMode),
	)
	return &Store{
		Store: pgstore.NewGormStore(db, storage.DriverSQLite),
		path:  cfg.Path,
	}, nil
}

// dsn appends the connection pragmas to path.
func dsn(path, journalMode string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("journal_mode(%s)", journalMode))
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(ON)")
	return path + "?" + q.Encode()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

var _ storage.Store = (*Store)(nil)
