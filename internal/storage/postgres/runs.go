package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
)

// Run statuses stored in the runs table.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// StartRun records a run as running.
func (s *Store) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE
SET status = EXCLUDED.status`, s.runsTable)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, RunRunning); err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and status of a run.
func (s *Store) FinishRun(ctx context.Context, summary catalog.RunSummary, status string) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	finished_at = $2,
	status = $3,
	accepted = $4,
	cleaned = $5,
	filtered = $6,
	malformed = $7,
	parse_errors = $8,
	pages_fetched = $9,
	pages_failed = $10
WHERE run_id = $1`, s.runsTable)
	_, err := s.pool.Exec(ctx, query,
		summary.RunID,
		summary.FinishedAt,
		status,
		summary.Accepted,
		summary.Cleaned,
		summary.Filtered,
		summary.Malformed,
		summary.ParseErrors,
		summary.PagesFetched,
		summary.PagesFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}
