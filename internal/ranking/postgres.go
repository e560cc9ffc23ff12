package ranking

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"arena/internal/arena"
)

// PostgresStore persists rankings in postgres. Counter updates are row-level
// `SET x = x + delta` increments inside one transaction with the signal
// barrier, so replays and concurrent battles cannot double-count.
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

// NewPostgresStoreDB wraps an existing handle, sharing the battle store's pool.
func NewPostgresStoreDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS rankings (
    model_id              TEXT NOT NULL,
    category              TEXT NOT NULL,
    wins                  INTEGER NOT NULL DEFAULT 0,
    losses                INTEGER NOT NULL DEFAULT 0,
    ties                  INTEGER NOT NULL DEFAULT 0,
    vote_count            INTEGER NOT NULL DEFAULT 0,
    judge_agreement_count INTEGER NOT NULL DEFAULT 0,
    judge_score_count     INTEGER NOT NULL DEFAULT 0,
    avg_judge_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (model_id, category)
);
CREATE TABLE IF NOT EXISTS ranking_signals (
    battle_id  TEXT NOT NULL,
    signal     TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (battle_id, signal)
);`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Apply(ctx context.Context, battleID string, signal SignalType, deltas []Delta) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ranking_signals (battle_id, signal) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		battleID, string(signal))
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		// Signal already applied; nothing to do.
		return false, nil
	}

	for _, d := range deltas {
		score := 0
		hasScore := 0
		if d.JudgeScore != nil {
			score = *d.JudgeScore
			hasScore = 1
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO rankings (model_id, category, wins, losses, ties, vote_count, judge_agreement_count, judge_score_count, avg_judge_score)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (model_id, category) DO UPDATE SET
    wins                  = rankings.wins + EXCLUDED.wins,
    losses                = rankings.losses + EXCLUDED.losses,
    ties                  = rankings.ties + EXCLUDED.ties,
    vote_count            = rankings.vote_count + EXCLUDED.vote_count,
    judge_agreement_count = rankings.judge_agreement_count + EXCLUDED.judge_agreement_count,
    judge_score_count     = rankings.judge_score_count + EXCLUDED.judge_score_count,
    avg_judge_score       = CASE WHEN EXCLUDED.judge_score_count > 0
        THEN rankings.avg_judge_score + (EXCLUDED.avg_judge_score - rankings.avg_judge_score) / (rankings.judge_score_count + 1)
        ELSE rankings.avg_judge_score END`,
			d.ModelID, d.Category, d.Wins, d.Losses, d.Ties, d.VoteCount, d.JudgeAgreement,
			hasScore, float64(score))
		if err != nil {
			return false, fmt.Errorf("ranking: apply delta for %s/%s: %w", d.ModelID, d.Category, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) Query(ctx context.Context, category string) ([]arena.RankingEntry, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	query := `SELECT model_id, category, wins, losses, ties, vote_count, judge_agreement_count, judge_score_count, avg_judge_score
FROM rankings`
	var args []any
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY wins DESC, avg_judge_score DESC, model_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []arena.RankingEntry
	for rows.Next() {
		var e arena.RankingEntry
		if err := rows.Scan(&e.ModelID, &e.Category, &e.Wins, &e.Losses, &e.Ties,
			&e.VoteCount, &e.JudgeAgreementCount, &e.JudgeScoreCount, &e.AvgJudgeScore); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
