package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/timebox/internal/sandbox"
	"github.com/jkaninda/timebox/internal/storage"
)

const defaultListLimit = 100

// RunRepository implements storage.RunStore with GORM. It is shared by the
// PostgreSQL and SQLite backends.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Record persists a finished run. A zero ID is replaced with a fresh one.
func (r *RunRepository) Record(ctx context.Context, run *storage.RunRecord) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	model := toRunModel(run)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// Get retrieves a run by ID.
func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*storage.RunRecord, error) {
	var model RunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("getting run %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	return toRunRecord(&model), nil
}

// List returns runs matching filter, newest first.
func (r *RunRepository) List(ctx context.Context, filter storage.RunFilter) ([]storage.RunRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := r.db.WithContext(ctx).Model(&RunModel{})
	if filter.Work != "" {
		q = q.Where("work = ?", filter.Work)
	}
	if filter.Suite != "" {
		q = q.Where("suite = ?", filter.Suite)
	}
	if filter.Outcome != nil {
		q = q.Where("outcome = ?", filter.Outcome.String())
	}
	if !filter.Since.IsZero() {
		q = q.Where("started_at >= ?", filter.Since.UTC())
	}

	var models []RunModel
	if err := q.Order("started_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]storage.RunRecord, len(models))
	for i := range models {
		runs[i] = *toRunRecord(&models[i])
	}
	return runs, nil
}

// Stats counts runs per outcome started at or after since.
func (r *RunRepository) Stats(ctx context.Context, since time.Time) (storage.RunStats, error) {
	var rows []struct {
		Outcome string
		Count   int
	}
	q := r.db.WithContext(ctx).Model(&RunModel{}).Select("outcome, COUNT(*) AS count")
	if !since.IsZero() {
		q = q.Where("started_at >= ?", since.UTC())
	}
	if err := q.Group("outcome").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("computing run stats: %w", err)
	}

	stats := make(storage.RunStats, len(rows))
	for _, row := range rows {
		kind, err := sandbox.ParseKind(row.Outcome)
		if err != nil {
			continue
		}
		stats[kind] = row.Count
	}
	return stats, nil
}

var _ storage.RunStore = (*RunRepository)(nil)
