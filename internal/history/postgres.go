package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	insertRetryAttempts = 3
	insertRetryDelay    = 100 * time.Millisecond
)

// PostgresStore persists session history in PostgreSQL.
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
		`CREATE TABLE IF NOT EXISTS realtime_sessions (
			id TEXT PRIMARY KEY,
			frontend_id TEXT NOT NULL,
			modality TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS realtime_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES realtime_sessions (id),
			role TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			channel TEXT NOT NULL,
			meta JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_realtime_messages_session_created
			ON realtime_messages (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, frontendID, modality string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO realtime_sessions (id, frontend_id, modality) VALUES ($1, $2, $3)`,
		id, frontendID, modality,
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) LogMessage(ctx context.Context, record MessageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var meta []byte
	if len(record.Meta) > 0 {
		encoded, err := json.Marshal(record.Meta)
		if err != nil {
			return fmt.Errorf("encode message meta: %w", err)
		}
		meta = encoded
	}

	// Inserts retry a few times on transient pool errors; callers treat
	// persistence as best-effort either way.
	err := retry.Do(
		func() error {
			_, execErr := s.pool.Exec(ctx,
				`INSERT INTO realtime_messages (id, session_id, role, type, content, channel, meta, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				record.ID,
				record.SessionID,
				record.Role,
				record.Type,
				record.Content,
				record.Channel,
				meta,
				record.CreatedAt,
			)
			return execErr
		},
		retry.Context(ctx),
		retry.Attempts(insertRetryAttempts),
		retry.Delay(insertRetryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	return nil
}

func (s *PostgresStore) EndSession(ctx context.Context, dbSessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE realtime_sessions SET ended_at = now() WHERE id = $1 AND ended_at IS NULL`,
		dbSessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
