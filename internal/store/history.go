package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is one replay run.
type RunRecord struct {
	ID         string     `json:"id"`
	Backend    string     `json:"backend"`
	Speed      int        `json:"speed"`
	Total      int        `json:"total"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Tallies, filled by ListRuns.
	Delivered int `json:"delivered"`
	NotFound  int `json:"not_found"`
	Errors    int `json:"errors"`
}

// OutcomeRecord is the decided outcome of one key of a run.
type OutcomeRecord struct {
	RunID   string `json:"run_id"`
	Index   int    `json:"index"`
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Fixed-width so lexical order is chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// BeginRun inserts a run row. Re-inserting an existing ID is a no-op.
func (s *Store) BeginRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, backend, speed, total, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.Backend, r.Speed, r.Total, r.State, r.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordOutcome stores a key's outcome. The first write for (run, index)
// wins; later writes are silently ignored.
func (s *Store) RecordOutcome(ctx context.Context, o OutcomeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (run_id, idx, doc_key, outcome, detail)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, o.RunID, o.Index, o.Key, o.Outcome, o.Detail)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// FinishRun sets the terminal state of a run.
func (s *Store) FinishRun(ctx context.Context, runID, state string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET state = ?, finished_at = ? WHERE id = ?
	`, state, at.UTC().Format(timeLayout), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first, with outcome tallies.
// A limit <= 0 returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.backend, r.speed, r.total, r.state, r.started_at, r.finished_at,
		       COALESCE(SUM(o.outcome = 'delivered'), 0),
		       COALESCE(SUM(o.outcome = 'not_found'), 0),
		       COALESCE(SUM(o.outcome = 'attempt_error'), 0)
		FROM runs r
		LEFT JOIN outcomes o ON o.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var (
			r        RunRecord
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Backend, &r.Speed, &r.Total, &r.State, &started, &finished,
			&r.Delivered, &r.NotFound, &r.Errors); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if finished.Valid {
			t, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// RunOutcomes returns a run's outcomes in key order.
func (s *Store) RunOutcomes(ctx context.Context, runID string) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, idx, doc_key, outcome, detail
		FROM outcomes
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := []OutcomeRecord{}
	for rows.Next() {
		var o OutcomeRecord
		if err := rows.Scan(&o.RunID, &o.Index, &o.Key, &o.Outcome, &o.Detail); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}
