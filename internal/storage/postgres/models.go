package postgres

import (
	"time"

	"github.com/google/uuid"
)

// RunModel maps to the "sandbox_runs" table.
type RunModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Work       string    `gorm:"not null;index:idx_runs_work_started"`
	Suite      string    `gorm:"not null;default:'';index"`
	Outcome    string    `gorm:"not null;index"`
	ExitCode   int       `gorm:"not null;default:0"`
	Signal     string    `gorm:"not null;default:''"`
	TimeoutMS  int64     `gorm:"not null"`
	DurationMS int64     `gorm:"not null"`
	PID        int       `gorm:"not null;default:0"`
	Narration  string    `gorm:"type:text;not null"`
	StartedAt  time.Time `gorm:"not null;index:idx_runs_work_started"`
	CreatedAt  time.Time
}

func (RunModel) TableName() string { return "sandbox_runs" }
