package postgres

import (
	"github.com/jkaninda/timebox/internal/sandbox"
	"github.com/jkaninda/timebox/internal/storage"
)

func toRunModel(r *storage.RunRecord) RunModel {
	return RunModel{
		ID:         r.ID,
		Work:       r.Work,
		Suite:      r.Suite,
		Outcome:    r.Outcome.String(),
		ExitCode:   r.ExitCode,
		Signal:     r.Signal,
		TimeoutMS:  r.TimeoutMS,
		DurationMS: r.DurationMS,
		PID:        r.PID,
		Narration:  r.Narration,
		StartedAt:  r.StartedAt.UTC(),
	}
}

func toRunRecord(m *RunModel) *storage.RunRecord {
	// Rows are only written through toRunModel, so the outcome always parses.
	kind, _ := sandbox.ParseKind(m.Outcome)
	return &storage.RunRecord{
		ID:         m.ID,
		Work:       m.Work,
		Suite:      m.Suite,
		Outcome:    kind,
		ExitCode:   m.ExitCode,
		Signal:     m.Signal,
		TimeoutMS:  m.TimeoutMS,
		DurationMS: m.DurationMS,
		PID:        m.PID,
		Narration:  m.Narration,
		StartedAt:  m.StartedAt,
	}
}
