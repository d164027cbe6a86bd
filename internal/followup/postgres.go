package followup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists follow-ups in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS completion_followups (
			id TEXT PRIMARY KEY,
			attempt_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			completion JSONB NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			resolved_at TIMESTAMPTZ
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_followups_open_attempt
			ON completion_followups (attempt_id) WHERE resolved_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_followups_created ON completion_followups (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) (Record, error) {
	record.LastError = scrubError(record.LastError)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(record.Completion)
	if err != nil {
		return Record{}, fmt.Errorf("encode completion: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO completion_followups (id, attempt_id, session_id, completion, last_error, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6)
		 ON CONFLICT (attempt_id) WHERE resolved_at IS NULL
		 DO UPDATE SET attempts = completion_followups.attempts + 1,
		               last_error = EXCLUDED.last_error,
		               completion = EXCLUDED.completion
		 RETURNING id, attempts, created_at`,
		record.ID,
		record.AttemptID,
		record.SessionID,
		payload,
		record.LastError,
		record.CreatedAt,
	)
	if err := row.Scan(&record.ID, &record.Attempts, &record.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("save follow-up: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE completion_followups SET resolved_at = COALESCE(resolved_at, now()) WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolve follow-up: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, attempt_id, session_id, completion, last_error, attempts, created_at, resolved_at
		 FROM completion_followups
		 WHERE $1 OR resolved_at IS NULL
		 ORDER BY created_at ASC LIMIT $2`,
		opts.IncludeResolved,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query follow-ups: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			r       Record
			payload []byte
		)
		if err := rows.Scan(&r.ID, &r.AttemptID, &r.SessionID, &payload, &r.LastError, &r.Attempts, &r.CreatedAt, &r.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan follow-up row: %w", err)
		}
		if err := json.Unmarshal(payload, &r.Completion); err != nil {
			return nil, fmt.Errorf("decode completion %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follow-up rows: %w", err)
	}
	return out, nil
}

// Get loads a single follow-up by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	var (
		r       Record
		payload []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, attempt_id, session_id, completion, last_error, attempts, created_at, resolved_at
		 FROM completion_followups WHERE id = $1`, id,
	).Scan(&r.ID, &r.AttemptID, &r.SessionID, &payload, &r.LastError, &r.Attempts, &r.CreatedAt, &r.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get follow-up: %w", err)
	}
	if err := json.Unmarshal(payload, &r.Completion); err != nil {
		return Record{}, fmt.Errorf("decode completion %s: %w", r.ID, err)
	}
	return r, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
