// Package report provides PostgreSQL-backed storage for user reports. Each
// row captures who reported whom, the session it happened in, and the last
// few relayed texts for moderator review.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/strangertalk/relay/internal/moderation"
)

// Store manages user reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: ping: %w", err)
	}
	return db, nil
}

// Create inserts a report. The transcript is stored as JSONB, or NULL when
// there is none.
func (s *Store) Create(ctx context.Context, r moderation.Report) error {
	var transcript []byte
	if len(r.Transcript) > 0 {
		var err error
		transcript, err = json.Marshal(r.Transcript)
		if err != nil {
			return fmt.Errorf("report: marshal transcript: %w", err)
		}
	}

	const query = `
		INSERT INTO user_reports (id, reporter_id, reported_id, session_id, transcript, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.ReporterID,
		r.ReportedID,
		r.SessionID,
		transcript,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountSince returns the number of reports filed against reportedID at or
// after since.
func (s *Store) CountSince(ctx context.Context, reportedID string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM user_reports
		WHERE reported_id = $1
		  AND created_at >= $2`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count since: %w", err)
	}
	return count, nil
}

// Recent returns up to limit reports against reportedID, newest first.
func (s *Store) Recent(ctx context.Context, reportedID string, limit int) ([]moderation.Report, error) {
	const query = `
		SELECT id, reporter_id, reported_id, session_id, transcript, created_at
		FROM user_reports
		WHERE reported_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, reportedID, limit)
	if err != nil {
		return nil, fmt.Errorf("report: query recent: %w", err)
	}
	defer rows.Close()

	var out []moderation.Report
	for rows.Next() {
		var (
			r          moderation.Report
			transcript []byte
		)
		if err := rows.Scan(&r.ID, &r.ReporterID, &r.ReportedID, &r.SessionID, &transcript, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("report: scan: %w", err)
		}
		if len(transcript) > 0 {
			if err := json.Unmarshal(transcript, &r.Transcript); err != nil {
				return nil, fmt.Errorf("report: decode transcript %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: rows: %w", err)
	}
	return out, nil
}
