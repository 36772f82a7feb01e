package chat

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

// PostgresStore persists chat sessions in PostgreSQL, one row per session
// with the message log in a JSONB array.
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
		`CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			messages JSONB NOT NULL DEFAULT '[]'::jsonb
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_created ON chats (created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, created_at, messages) VALUES ($1, $2, '[]'::jsonb)`,
		id,
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	return id, nil
}

// Append pushes msg onto the session's array in one row update, so concurrent
// appends to the same session are serialized by the row lock.
func (s *PostgresStore) Append(ctx context.Context, id string, msg Message) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("marshal message: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET messages = messages || jsonb_build_array($2::jsonb) WHERE id = $1`,
		id,
		string(payload),
	)
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrNotFound
	}

	var (
		sess Session
		raw  []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, created_at, messages FROM chats WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.CreatedAt, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get chat: %w", err)
	}
	if err := json.Unmarshal(raw, &sess.Messages); err != nil {
		return Session{}, fmt.Errorf("decode messages: %w", err)
	}
	if sess.Messages == nil {
		sess.Messages = []Message{}
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	return sess, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text, created_at FROM chats ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete chat: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
