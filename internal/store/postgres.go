package store

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexiqai/scribe-gateway/internal/extraction"
)

const schema = `
CREATE TABLE IF NOT EXISTS "sessions" (
	"id" TEXT PRIMARY KEY,
	"language" TEXT NOT NULL,
	"transport" TEXT NOT NULL,
	"patientName" TEXT NOT NULL DEFAULT '',
	"startedAt" TIMESTAMPTZ NOT NULL,
	"endedAt" TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS "utterances" (
	"sessionId" TEXT NOT NULL REFERENCES "sessions" ("id") ON DELETE CASCADE,
	"seq" INTEGER NOT NULL,
	"speaker" TEXT NOT NULL,
	"role" TEXT NOT NULL,
	"text" TEXT NOT NULL,
	"startTime" DOUBLE PRECISION NOT NULL,
	"endTime" DOUBLE PRECISION NOT NULL,
	"createdAt" TIMESTAMPTZ NOT NULL,
	PRIMARY KEY ("sessionId", "seq")
);

CREATE TABLE IF NOT EXISTS "forms" (
	"sessionId" TEXT PRIMARY KEY REFERENCES "sessions" ("id") ON DELETE CASCADE,
	"data" JSONB NOT NULL,
	"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// execer is the subset of pgxpool.Pool used for writes
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists sessions in Postgres through a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
	db   execer
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL and creates the schema
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, db: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveSession upserts the session row
func (s *PostgresStore) SaveSession(ctx context.Context, session SessionRecord) error {
	_, err := s.db.Exec(ctx, `INSERT INTO "sessions" ("id", "language", "transport", "patientName", "startedAt", "endedAt")
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ("id") DO UPDATE SET "patientName" = EXCLUDED."patientName", "endedAt" = EXCLUDED."endedAt"`,
		session.ID, session.Language, session.Transport, session.PatientName, session.StartedAt, session.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// SaveUtterance inserts one utterance
func (s *PostgresStore) SaveUtterance(ctx context.Context, u UtteranceRecord) error {
	_, err := s.db.Exec(ctx, `INSERT INTO "utterances" ("sessionId", "seq", "speaker", "role", "text", "startTime", "endTime", "createdAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.SessionID, u.Seq, u.Speaker, u.Role, u.Text, u.StartTime, u.EndTime, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save utterance %s/%d: %w", u.SessionID, u.Seq, err)
	}
	return nil
}

// SaveForm stores the form as JSONB, replacing any previous version
func (s *PostgresStore) SaveForm(ctx context.Context, sessionID string, form *extraction.FormData) error {
	if form == nil {
		return nil
	}
	data, err := sonic.Marshal(form)
	if err != nil {
		return fmt.Errorf("failed to encode form: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO "forms" ("sessionId", "data", "updatedAt")
		VALUES ($1, $2, now())
		ON CONFLICT ("sessionId") DO UPDATE SET "data" = EXCLUDED."data", "updatedAt" = now()`,
		sessionID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save form for %s: %w", sessionID, err)
	}
	return nil
}

// Ping checks the connection pool
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
