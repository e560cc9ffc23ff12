package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"arena/internal/arena"
)

// PostgresStore is the durable battle store. The whole battle document is
// kept as jsonb so the persisted record mirrors the domain shape exactly and
// round-trips without loss.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) DB() *sql.DB  { return s.db }
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS battles (
    id         TEXT PRIMARY KEY,
    doc        JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS battles_updated_at_idx ON battles (updated_at DESC);`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*arena.Battle, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM battles WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var b arena.Battle
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, fmt.Errorf("store: decode battle %s: %w", id, err)
	}
	return &b, nil
}

// Put upserts, but never lets an older document overwrite a newer one; a
// stale retry losing to a fresher write is the desired outcome.
func (s *PostgresStore) Put(ctx context.Context, b *arena.Battle) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("store: encode battle %s: %w", b.ID, err)
	}
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO battles (id, doc, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
WHERE battles.updated_at <= EXCLUDED.updated_at`,
		b.ID, doc, updatedAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM battles WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]*arena.Battle, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM battles ORDER BY updated_at DESC LIMIT 200`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*arena.Battle
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var b arena.Battle
		if err := json.Unmarshal(doc, &b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
