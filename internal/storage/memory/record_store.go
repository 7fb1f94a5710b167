package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
)

// RecordStore keeps cleaned records per run.
type RecordStore struct {
	mu   sync.RWMutex
	runs map[string][]catalog.CleanRecord
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{runs: make(map[string][]catalog.CleanRecord)}
}

// SaveRecords appends records for runID, skipping titles already stored for it.
func (s *RecordStore) SaveRecords(_ context.Context, runID string, records []catalog.CleanRecord) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(s.runs[runID]))
	for _, r := range s.runs[runID] {
		seen[r.Record.Title] = struct{}{}
	}
	for _, r := range records {
		if _, dup := seen[r.Record.Title]; dup {
			continue
		}
		seen[r.Record.Title] = struct{}{}
		s.runs[runID] = append(s.runs[runID], r)
	}
	return nil
}

// Records returns a copy of the records stored for runID.
func (s *RecordStore) Records(runID string) []catalog.CleanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]catalog.CleanRecord(nil), s.runs[runID]...)
}
