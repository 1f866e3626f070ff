// SQLite-backed query history.
//
// Information Hiding:
// - SQLite connection management hidden behind RecordStore
// - Schema details encapsulated
// - Timestamps stored as Unix nanoseconds so ordering survives round trips

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Vidura-Wijekoon/fitassist/model"
)

// SqliteStore implements RecordStore using SQLite.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return newSqliteStore(db)
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *sql.DB) (*SqliteStore, error) {
	// Each :memory: connection is a separate database.
	db.SetMaxOpenConns(1)

	s := &SqliteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS query_records (
			user_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			query TEXT NOT NULL,
			response TEXT NOT NULL,
			is_error INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_query_records_created
		ON query_records(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert appends one record.
func (s *SqliteStore) Insert(ctx context.Context, rec model.QueryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_records (user_id, seq, query, response, is_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID,
		rec.Seq,
		rec.Query,
		rec.Response,
		rec.IsError,
		rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}
	return nil
}

// Last returns the record with the highest seq for a user.
func (s *SqliteStore) Last(ctx context.Context, userID string) (model.QueryRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, seq, query, response, is_error, created_at
		FROM query_records
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT 1`,
		userID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return model.QueryRecord{}, false, nil
	}
	if err != nil {
		return model.QueryRecord{}, false, fmt.Errorf("failed to load last record: %w", err)
	}
	return rec, true, nil
}

// Recent returns up to limit records, newest first.
func (s *SqliteStore) Recent(ctx context.Context, userID string, limit int) ([]model.QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, seq, query, response, is_error, created_at
		FROM query_records
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []model.QueryRecord{} // Start with empty slice, not nil
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// Stats aggregates lengths and first/last timestamps in one query.
// LENGTH counts characters for TEXT values.
func (s *SqliteStore) Stats(ctx context.Context, userID string) (model.UsageStats, error) {
	var (
		count             int
		avgQuery, avgResp sql.NullFloat64
		first, last       sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(LENGTH(query)), AVG(LENGTH(response)),
		       MIN(created_at), MAX(created_at)
		FROM query_records
		WHERE user_id = ?`,
		userID).Scan(&count, &avgQuery, &avgResp, &first, &last)
	if err != nil {
		return model.UsageStats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	if count == 0 {
		return model.UsageStats{}, nil
	}

	firstAt := time.Unix(0, first.Int64).UTC()
	lastAt := time.Unix(0, last.Int64).UTC()
	return model.UsageStats{
		TotalQueries:      count,
		AvgQueryLength:    avgQuery.Float64,
		AvgResponseLength: avgResp.Float64,
		FirstQuery:        &firstAt,
		LastQuery:         &lastAt,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (model.QueryRecord, error) {
	var (
		rec     model.QueryRecord
		created int64
	)
	if err := sc.Scan(&rec.UserID, &rec.Seq, &rec.Query, &rec.Response, &rec.IsError, &created); err != nil {
		return model.QueryRecord{}, err
	}
	rec.Timestamp = time.Unix(0, created).UTC()
	return rec, nil
}
