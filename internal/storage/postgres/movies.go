package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
)

// SaveRecords inserts every record of a run in one transaction. Rows already
// present for the same run and title are left untouched.
func (s *Store) SaveRecords(ctx context.Context, runID string, records []catalog.CleanRecord) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("movie store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (run_id, seq, title, director, year, country, rating, votes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (run_id, title) DO NOTHING`, s.table)

	for _, cr := range records {
		if _, err = tx.Exec(ctx, query, movieArgs(runID, cr)...); err != nil {
			return fmt.Errorf("insert movie %q: %w", cr.Record.Title, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit movies: %w", err)
	}
	return nil
}

func movieArgs(runID string, cr catalog.CleanRecord) []any {
	var year any
	if cr.Record.HasYear {
		year = cr.Record.Year
	}
	var country any
	if cr.Record.Country != "" {
		country = cr.Record.Country
	}
	var votes any
	if cr.Votes != nil {
		votes = *cr.Votes
	}
	return []any{
		runID,
		cr.Seq,
		cr.Record.Title,
		cr.Record.DirectorLabel(),
		year,
		country,
		cr.Record.Rating,
		votes,
	}
}
