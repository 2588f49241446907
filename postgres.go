package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// connectDB opens Postgres from DATABASE_URL or the DB_* variables. It
// returns an error when neither is set so the caller can fall back to memory.
func connectDB(ctx context.Context) (*sql.DB, error) {
	dsn := strings.TrimSpace(env("DATABASE_URL", ""))
	if dsn == "" {
		host := env("DB_HOST", "")
		if host == "" {
			return nil, errors.New("missing DATABASE_URL or DB_HOST")
		}
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			env("DB_USER", "postgres"), env("DB_PASSWORD", "postgres"),
			host, env("DB_PORT", "5432"), env("DB_NAME", "crossword_shop"),
			env("DB_SSLMODE", "disable"))
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(intEnv("DB_MAX_OPEN_CONNS", 20))
	db.SetMaxIdleConns(intEnv("DB_MAX_IDLE_CONNS", 5))
	db.SetConnMaxIdleTime(durationEnv("DB_CONN_MAX_IDLE", 5*time.Minute))
	db.SetConnMaxLifetime(durationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS crossword_puzzles (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_puzzles_created ON crossword_puzzles (created_at DESC, id DESC)`,
		`CREATE TABLE IF NOT EXISTS crossword_orders (
			id TEXT PRIMARY KEY,
			storefront_order_id TEXT NOT NULL,
			puzzle_id TEXT NOT NULL,
			email TEXT,
			product TEXT NOT NULL,
			storefront_variant_id TEXT NOT NULL,
			provider_variant_id INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending','submitted','in_production','shipped','delivered','cancelled','failed')),
			provider_order_id TEXT,
			tracking_number TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_storefront ON crossword_orders (storefront_order_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) insertPuzzle(ctx context.Context, p *Puzzle) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode puzzle: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO crossword_puzzles (id, data, created_at) VALUES ($1, $2, $3)`,
		p.ID, data, p.CreatedAt); err != nil {
		return fmt.Errorf("insert puzzle: %w", err)
	}
	return nil
}

func decodePuzzle(data []byte) (*Puzzle, error) {
	var p Puzzle
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode puzzle: %w", err)
	}
	p.restore()
	return &p, nil
}

func (s *Store) selectPuzzle(ctx context.Context, id string) (*Puzzle, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM crossword_puzzles WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("puzzle %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select puzzle: %w", err)
	}
	return decodePuzzle(data)
}

func (s *Store) selectPuzzles(ctx context.Context, limit int) ([]*Puzzle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM crossword_puzzles ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select puzzles: %w", err)
	}
	defer rows.Close()

	list := make([]*Puzzle, 0, limit)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan puzzle: %w", err)
		}
		p, err := decodePuzzle(data)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (s *Store) updatePuzzleUpload(ctx context.Context, id string, up *Upload) (*Puzzle, error) {
	upload, err := json.Marshal(up)
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	var data []byte
	err = s.db.QueryRowContext(ctx,
		`UPDATE crossword_puzzles SET data = jsonb_set(data, '{upload}', $2::jsonb) WHERE id = $1 RETURNING data`,
		id, string(upload)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("puzzle %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update puzzle upload: %w", err)
	}
	return decodePuzzle(data)
}

const orderColumns = `id, storefront_order_id, puzzle_id, email, product, storefront_variant_id,
	provider_variant_id, quantity, status, provider_order_id, tracking_number, error, created_at, updated_at`

func (s *Store) insertOrder(ctx context.Context, o *Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crossword_orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.StorefrontOrderID, o.PuzzleID, nilIfEmpty(o.Email), o.Product, o.StorefrontVariantID,
		o.ProviderVariantID, o.Quantity, o.Status, nilIfEmpty(o.ProviderOrderID),
		nilIfEmpty(o.TrackingNumber), nilIfEmpty(o.Error), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) selectOrder(ctx context.Context, q querier, id string, forUpdate bool) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM crossword_orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var o Order
	var email, providerOrderID, tracking, errText sql.NullString
	err := q.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.StorefrontOrderID, &o.PuzzleID, &email, &o.Product, &o.StorefrontVariantID,
		&o.ProviderVariantID, &o.Quantity, &o.Status, &providerOrderID, &tracking, &errText,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	o.Email = email.String
	o.ProviderOrderID = providerOrderID.String
	o.TrackingNumber = tracking.String
	o.Error = errText.String
	return &o, nil
}

func (s *Store) updateOrderTx(ctx context.Context, id string, fn func(*Order) error) (*Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	o, err := s.selectOrder(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	o.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE crossword_orders SET status = $2, provider_order_id = $3, tracking_number = $4,
			error = $5, updated_at = $6 WHERE id = $1`,
		o.ID, o.Status, nilIfEmpty(o.ProviderOrderID), nilIfEmpty(o.TrackingNumber),
		nilIfEmpty(o.Error), o.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}
	return o, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
