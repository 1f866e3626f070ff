package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Vidura-Wijekoon/fitassist/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type backend struct {
	name string
	open func(t *testing.T) RecordStore
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) RecordStore { return NewMemoryStore() }},
		{"sqlite", func(t *testing.T) RecordStore {
			s, err := NewSqliteInMemory()
			if err != nil {
				t.Fatalf("Failed to create storage: %v", err)
			}
			return s
		}},
	}
}

func newTestHistory(t *testing.T, b backend, opts ...HistoryOption) *History {
	t.Helper()
	h := NewHistory(b.open(t), opts...)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHistoryRecentOrderAndBound(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			h := newTestHistory(t, b)
			ctx := context.Background()

			for i := 1; i <= 5; i++ {
				if _, err := h.Append(ctx, "alice", fmt.Sprintf("q%d", i), fmt.Sprintf("r%d", i), false); err != nil {
					t.Fatalf("Append failed: %v", err)
				}
			}

			recent, err := h.Recent(ctx, "alice", 3)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(recent) != 3 {
				t.Fatalf("expected 3 records, got %d", len(recent))
			}
			for i, want := range []string{"q5", "q4", "q3"} {
				if recent[i].Query != want {
					t.Errorf("record %d: expected %s, got %s", i, want, recent[i].Query)
				}
			}

			all, err := h.Recent(ctx, "alice", 100)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(all) != 5 {
				t.Errorf("expected 5 records, got %d", len(all))
			}
		})
	}
}

func TestHistoryRecentUnknownUser(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			h := newTestHistory(t, b)

			recent, err := h.Recent(context.Background(), "nobody", 10)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(recent) != 0 {
				t.Errorf("expected no records, got %d", len(recent))
			}
		})
	}
}

func TestHistoryRecentInvalidLimit(t *testing.T) {
	h := NewHistory(NewMemoryStore())

	for _, limit := range []int{0, -1} {
		_, err := h.Recent(context.Background(), "alice", limit)
		if !errors.Is(err, model.ErrInvalidLimit) {
			t.Errorf("limit %d: expected ErrInvalidLimit, got %v", limit, err)
		}
	}
}

func TestHistoryAppendAssignsSeqAndErrorFlag(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			h := newTestHistory(t, b)
			ctx := context.Background()

			first, err := h.Append(ctx, "alice", "q1", "r1", false)
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			second, err := h.Append(ctx, "alice", "q2", "sorry", true)
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if first.Seq != 1 || second.Seq != 2 {
				t.Errorf("expected seq 1,2, got %d,%d", first.Seq, second.Seq)
			}

			recent, err := h.Recent(ctx, "alice", 1)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if !recent[0].IsError {
				t.Error("expected error flag to round-trip")
			}
			if recent[0].UserID != "alice" || recent[0].Response != "sorry" {
				t.Errorf("unexpected record: %+v", recent[0])
			}
		})
	}
}

// backwardsClock returns a time one second earlier on every call.
func backwardsClock() func() time.Time {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(-time.Duration(n.Add(1)) * time.Second)
	}
}

func TestHistoryTimestampsNeverDecrease(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			h := newTestHistory(t, b, WithClock(backwardsClock()))
			ctx := context.Background()

			const writers = 20
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, err := h.Append(ctx, "alice", fmt.Sprintf("q%d", i), "r", false); err != nil {
						errs <- err
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("Append failed: %v", err)
			}

			recent, err := h.Recent(ctx, "alice", writers)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(recent) != writers {
				t.Fatalf("expected %d records, got %d", writers, len(recent))
			}
			// Newest first: seq strictly decreasing, timestamps non-increasing.
			for i := 1; i < len(recent); i++ {
				if recent[i].Seq != recent[i-1].Seq-1 {
					t.Errorf("seq gap at %d: %d then %d", i, recent[i-1].Seq, recent[i].Seq)
				}
				if recent[i].Timestamp.After(recent[i-1].Timestamp) {
					t.Errorf("timestamp decreased between seq %d and %d", recent[i].Seq, recent[i-1].Seq)
				}
			}
		})
	}
}

func TestHistoryTimestampsCarryWallTimeOnly(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			h := newTestHistory(t, b, WithClock(time.Now))
			ctx := context.Background()

			for i := 0; i < 2; i++ {
				rec, err := h.Append(ctx, "alice", fmt.Sprintf("q%d", i), "r", false)
				if err != nil {
					t.Fatalf("Append failed: %v", err)
				}
				if strings.Contains(rec.Timestamp.String(), "m=") {
					t.Errorf("timestamp %v keeps a monotonic clock reading", rec.Timestamp)
				}
			}

			recent, err := h.Recent(ctx, "alice", 2)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			for _, rec := range recent {
				if strings.Contains(rec.Timestamp.String(), "m=") {
					t.Errorf("stored timestamp %v keeps a monotonic clock reading", rec.Timestamp)
				}
			}
		})
	}
}

func TestHistoryUsersAreIndependent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			h := newTestHistory(t, b)
			ctx := context.Background()

			var wg sync.WaitGroup
			for _, user := range []string{"alice", "bob"} {
				wg.Add(1)
				go func(user string) {
					defer wg.Done()
					for i := 0; i < 10; i++ {
						if _, err := h.Append(ctx, user, user+"-q", "r", false); err != nil {
							t.Errorf("Append failed: %v", err)
							return
						}
					}
				}(user)
			}
			wg.Wait()

			for _, user := range []string{"alice", "bob"} {
				recent, err := h.Recent(ctx, user, 100)
				if err != nil {
					t.Fatalf("Recent failed: %v", err)
				}
				if len(recent) != 10 {
					t.Errorf("%s: expected 10 records, got %d", user, len(recent))
				}
				for _, r := range recent {
					if r.Query != user+"-q" {
						t.Errorf("%s: got record of another user: %+v", user, r)
					}
				}
				if recent[0].Seq != 10 {
					t.Errorf("%s: expected newest seq 10, got %d", user, recent[0].Seq)
				}
			}
		})
	}
}

// blockingStore blocks inserts for one user until release is closed.
type blockingStore struct {
	*MemoryStore
	user    string
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Insert(ctx context.Context, rec model.QueryRecord) error {
	if rec.UserID == s.user {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Insert(ctx, rec)
}

func TestHistorySlowUserDoesNotBlockOthers(t *testing.T) {
	store := &blockingStore{
		MemoryStore: NewMemoryStore(),
		user:        "slow",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	h := NewHistory(store)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.Append(ctx, "slow", "q", "r", false)
		done <- err
	}()
	<-store.entered

	if _, err := h.Append(ctx, "fast", "q", "r", false); err != nil {
		t.Fatalf("Append for another user failed: %v", err)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("slow Append failed: %v", err)
	}
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Insert(context.Context, model.QueryRecord) error {
	return errors.New("disk full")
}

func (failingStore) Recent(context.Context, string, int) ([]model.QueryRecord, error) {
	return nil, errors.New("disk gone")
}

func TestHistoryStorageFailure(t *testing.T) {
	h := NewHistory(failingStore{NewMemoryStore()})
	ctx := context.Background()

	if _, err := h.Append(ctx, "alice", "q", "r", false); !errors.Is(err, model.ErrStorage) {
		t.Errorf("Append: expected ErrStorage, got %v", err)
	}
	if _, err := h.Recent(ctx, "alice", 1); !errors.Is(err, model.ErrStorage) {
		t.Errorf("Recent: expected ErrStorage, got %v", err)
	}

	// A failed write must not advance the sequence.
	h.store = NewMemoryStore()
	rec, err := h.Append(ctx, "alice", "q", "r", false)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if rec.Seq != 1 {
		t.Errorf("expected seq 1 after failed write, got %d", rec.Seq)
	}
}

func TestHistoryStats(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			h := newTestHistory(t, b)
			ctx := context.Background()

			empty, err := h.Stats(ctx, "alice")
			if err != nil {
				t.Fatalf("Stats failed: %v", err)
			}
			if empty.TotalQueries != 0 || empty.FirstQuery != nil || empty.LastQuery != nil {
				t.Errorf("expected zero stats, got %+v", empty)
			}

			if _, err := h.Append(ctx, "alice", "abcd", "123456", false); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if _, err := h.Append(ctx, "alice", "ab", "12", true); err != nil {
				t.Fatalf("Append failed: %v", err)
			}

			stats, err := h.Stats(ctx, "alice")
			if err != nil {
				t.Fatalf("Stats failed: %v", err)
			}
			if stats.TotalQueries != 2 {
				t.Errorf("expected 2 queries, got %d", stats.TotalQueries)
			}
			if stats.AvgQueryLength != 3 {
				t.Errorf("expected avg query length 3, got %v", stats.AvgQueryLength)
			}
			if stats.AvgResponseLength != 4 {
				t.Errorf("expected avg response length 4, got %v", stats.AvgResponseLength)
			}
			if stats.FirstQuery == nil || stats.LastQuery == nil {
				t.Fatal("expected first and last timestamps")
			}
			if stats.LastQuery.Before(*stats.FirstQuery) {
				t.Error("last query before first query")
			}
		})
	}
}

func TestSqliteHistorySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fitassist.db")
	ctx := context.Background()

	store, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	h := NewHistory(store)
	first, err := h.Append(ctx, "alice", "q1", "r1", false)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store, err = OpenSqlite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	// A clock behind the persisted timestamp must not move time backwards.
	h = NewHistory(store, WithClock(func() time.Time { return first.Timestamp.Add(-time.Hour) }))
	defer h.Close()

	second, err := h.Append(ctx, "alice", "q2", "r2", false)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if second.Seq != 2 {
		t.Errorf("expected seq 2 after reopen, got %d", second.Seq)
	}
	if second.Timestamp.UnixNano() < first.Timestamp.UnixNano() {
		t.Error("timestamp went backwards after reopen")
	}

	recent, err := h.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Query != "q2" {
		t.Errorf("unexpected records after reopen: %+v", recent)
	}
}
