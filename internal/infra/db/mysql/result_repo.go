package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS fp16_analyses (
  id                VARCHAR(64)  NOT NULL PRIMARY KEY,
  original_filename VARCHAR(255) NOT NULL,
  success           BOOLEAN      NOT NULL,
  error_message     TEXT         NOT NULL,
  result_json       LONGTEXT     NOT NULL,
  created_at        DATETIME(3)  NOT NULL,
  INDEX idx_fp16_analyses_created (created_at)
)`

type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

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
VALUES (?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  success=VALUES(success), error_message=VALUES(error_message), result_json=VALUES(result_json);
`
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", res.ID, err)
	}
	created := res.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, q,
		res.ID, stringOrDash(res.OriginalFilename), res.Success, res.Error, string(body), created,
	)
	return err
}

// Get by ID.
func (r *ResultRepository) Get(ctx context.Context, id domain.AnalysisID) (*domain.Result, error) {
	const q = `SELECT result_json FROM fp16_analyses WHERE id=? LIMIT 1;`
	var body string
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
	const q = `SELECT result_json FROM fp16_analyses ORDER BY created_at DESC, id DESC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Result{}
	for rows.Next() {
		var body string
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

func decode(body string) (*domain.Result, error) {
	var res domain.Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}
	return &res, nil
}
