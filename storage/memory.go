package storage

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/Vidura-Wijekoon/fitassist/model"
)

// MemoryStore implements RecordStore with in-memory slices.
// Data is lost when the process terminates.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string][]model.QueryRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string][]model.QueryRecord),
	}
}

// Insert appends a record to the user's list.
func (s *MemoryStore) Insert(ctx context.Context, rec model.QueryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[rec.UserID] = append(s.users[rec.UserID], rec)
	return nil
}

// Last returns the most recently inserted record for a user.
func (s *MemoryStore) Last(ctx context.Context, userID string) (model.QueryRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.QueryRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.users[userID]
	if len(records) == 0 {
		return model.QueryRecord{}, false, nil
	}
	return records[len(records)-1], true, nil
}

// Recent returns up to limit records, newest first.
func (s *MemoryStore) Recent(ctx context.Context, userID string, limit int) ([]model.QueryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.users[userID]
	n := min(limit, len(records))
	out := make([]model.QueryRecord, 0, n)
	for i := len(records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// Stats computes usage stats over every record of a user.
func (s *MemoryStore) Stats(ctx context.Context, userID string) (model.UsageStats, error) {
	if err := ctx.Err(); err != nil {
		return model.UsageStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.users[userID]
	if len(records) == 0 {
		return model.UsageStats{}, nil
	}

	var queryChars, responseChars int
	for _, r := range records {
		queryChars += utf8.RuneCountInString(r.Query)
		responseChars += utf8.RuneCountInString(r.Response)
	}
	first := records[0].Timestamp
	last := records[len(records)-1].Timestamp
	n := float64(len(records))
	return model.UsageStats{
		TotalQueries:      len(records),
		AvgQueryLength:    float64(queryChars) / n,
		AvgResponseLength: float64(responseChars) / n,
		FirstQuery:        &first,
		LastQuery:         &last,
	}, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
