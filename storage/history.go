package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// userState is the write cursor for one user. Guarded by mu.
type userState struct {
	mu      sync.Mutex
	loaded  bool
	lastSeq int64
	lastAt  time.Time
}

// History is the append-only per-user query log. Writes for one user are
// serialised; different users never contend. Safe for concurrent use.
type History struct {
	store  RecordStore
	users  sync.Map // userID -> *userState
	now    func() time.Time
	logger *zap.Logger
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) HistoryOption {
	return func(h *History) { h.now = now }
}

// WithHistoryLogger sets the logger.
func WithHistoryLogger(l *zap.Logger) HistoryOption {
	return func(h *History) { h.logger = logger.OrNop(l) }
}

// NewHistory wraps a record store.
func NewHistory(store RecordStore, opts ...HistoryOption) *History {
	h := &History{
		store:  store,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *History) state(userID string) *userState {
	if st, ok := h.users.Load(userID); ok {
		return st.(*userState)
	}
	st, _ := h.users.LoadOrStore(userID, &userState{})
	return st.(*userState)
}

// Append records one completed query. The timestamp is max(now, previous
// timestamp for the user), so a user's timestamps never decrease.
func (h *History) Append(ctx context.Context, userID, query, response string, isError bool) (model.QueryRecord, error) {
	st := h.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.loaded {
		last, ok, err := h.store.Last(ctx, userID)
		if err != nil {
			return model.QueryRecord{}, fmt.Errorf("%w: %w", model.ErrStorage, err)
		}
		if ok {
			st.lastSeq = last.Seq
			st.lastAt = last.Timestamp
		}
		st.loaded = true
	}

	// Wall time only: a monotonic reading would hide a clock stepping back.
	at := h.now().Round(0)
	if at.Before(st.lastAt) {
		at = st.lastAt
	}
	rec := model.QueryRecord{
		UserID:    userID,
		Seq:       st.lastSeq + 1,
		Query:     query,
		Response:  response,
		IsError:   isError,
		Timestamp: at,
	}
	if err := h.store.Insert(ctx, rec); err != nil {
		h.logger.Error("failed to append query record",
			zap.String("user_id", userID),
			zap.Error(err))
		return model.QueryRecord{}, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}

	st.lastSeq = rec.Seq
	st.lastAt = rec.Timestamp
	return rec, nil
}

// Recent returns at most limit records for a user, newest first.
func (h *History) Recent(ctx context.Context, userID string, limit int) ([]model.QueryRecord, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", model.ErrInvalidLimit, limit)
	}
	records, err := h.store.Recent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	return records, nil
}

// Stats summarises a user's history. A user with no records gets zero stats.
func (h *History) Stats(ctx context.Context, userID string) (model.UsageStats, error) {
	stats, err := h.store.Stats(ctx, userID)
	if err != nil {
		return model.UsageStats{}, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	return stats, nil
}

// Close closes the underlying store.
func (h *History) Close() error {
	return h.store.Close()
}
