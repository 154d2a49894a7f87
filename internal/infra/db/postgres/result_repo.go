package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
)

// result_json is JSON rather than JSONB: JSONB reorders object keys, and report
// sections must come back in the order the plugin wrote them.
const schema = `
CREATE TABLE IF NOT EXISTS fp16_analyses (
  id                TEXT        PRIMARY KEY,
  original_filename TEXT        NOT NULL,
  success           BOOLEAN     NOT NULL,
  error_message     TEXT        NOT NULL,
  result_json       JSON        NOT NULL,
  created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fp16_analyses_created ON fp16_analyses (created_at DESC);`

type ResultRepository struct{ db *sql.DB }

func NewResultRepository(db *sql.DB) *ResultRepository { return &ResultRepository{db: db} }

// Migrate creates the results table if it does not exist.
func (r *ResultRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save upserts a result.
func (r *ResultRepository) Save(ctx context.Context, res *domain.Result) error {
	const q = `
INSERT INTO fp16_analyses
  (id, original_filename, success, error_message, result_json, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  success = EXCLUDED.success,
  error_message = EXCLUDED.error_message,
  result_json = EXCLUDED.result_json;`

	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", res.ID, err)
	}
	name := res.OriginalFilename
	if strings.TrimSpace(name) == "" {
		name = "-"
	}
	created := res.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, q, res.ID, name, res.Success, res.Error, string(body), created)
	return err
}

// Get by ID.
func (r *ResultRepository) Get(ctx context.Context, id domain.AnalysisID) (*domain.Result, error) {
	const q = `SELECT result_json FROM fp16_analyses WHERE id=$1 LIMIT 1;`
	var body []byte
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return decode(body)
}

// Latest results, newest first.
func (r *ResultRepository) Latest(ctx context.Context, limit int) ([]*domain.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	const q = `SELECT result_json FROM fp16_analyses ORDER BY created_at DESC, id DESC LIMIT $1;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Result{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		res, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func decode(body []byte) (*domain.Result, error) {
	var res domain.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}
	return &res, nil
}
