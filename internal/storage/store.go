// Package storage defines the run history interfaces shared by the storage
// backends. Two backends are provided: SQLite (default, zero-config) and
// PostgreSQL.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/timebox/internal/sandbox"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

const (
	// DriverSQLite is the SQLite driver name.
	DriverSQLite = "sqlite"
	// DriverPostgres is the PostgreSQL driver name.
	DriverPostgres = "postgres"
)

// RunRecord is one persisted sandbox invocation.
type RunRecord struct {
	ID         uuid.UUID    `json:"id"`
	Work       string       `json:"work"`
	Suite      string       `json:"suite,omitempty"` // Empty for ad-hoc runs.
	Outcome    sandbox.Kind `json:"outcome"`
	ExitCode   int          `json:"exit_code"`
	Signal     string       `json:"signal,omitempty"` // e.g. "SIGKILL"
	TimeoutMS  int64        `json:"timeout_ms"`
	DurationMS int64        `json:"duration_ms"`
	PID        int          `json:"pid"`
	Narration  string       `json:"narration"`
	StartedAt  time.Time    `json:"started_at"`
}

// RunFromOutcome converts a sandbox outcome into a record.
func RunFromOutcome(o *sandbox.Outcome, suite string) *RunRecord {
	return &RunRecord{
		ID:         o.ID,
		Work:       o.Work,
		Suite:      suite,
		Outcome:    o.Kind,
		ExitCode:   o.ExitCode,
		Signal:     o.SignalName(),
		TimeoutMS:  o.Timeout.Milliseconds(),
		DurationMS: o.Duration.Milliseconds(),
		PID:        o.PID,
		Narration:  o.Narration(),
		StartedAt:  o.StartedAt,
	}
}

// RunFilter narrows List results. Zero values match everything.
type RunFilter struct {
	Work    string
	Suite   string
	Outcome *sandbox.Kind
	Since   time.Time
	Limit   int // Default: 100
}

// RunStats counts runs per outcome.
type RunStats map[sandbox.Kind]int

// Total returns the number of runs across all outcomes.
func (s RunStats) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// RunStore persists sandbox run history. Records are append-only.
type RunStore interface {
	Record(ctx context.Context, run *RunRecord) error
	Get(ctx context.Context, id uuid.UUID) (*RunRecord, error)
	List(ctx context.Context, filter RunFilter) ([]RunRecord, error)
	Stats(ctx context.Context, since time.Time) (RunStats, error)
}

// Store is the persistence facade implemented by both backends.
type Store interface {
	Runs() RunStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}
