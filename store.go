package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown puzzle or order IDs.
var ErrNotFound = errors.New("not found")

// Store holds puzzles and orders. With a database it persists to Postgres;
// without one it keeps everything in memory.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	puzzles map[string]*Puzzle
	orders  map[string]*Order
}

// NewStore creates a store. db may be nil for memory mode.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:      db,
		puzzles: make(map[string]*Puzzle),
		orders:  make(map[string]*Order),
	}
}

// Mode reports "postgres" or "memory".
func (s *Store) Mode() string {
	if s.db == nil {
		return "memory"
	}
	return "postgres"
}

// SavePuzzle assigns an ID and creation time and persists p.
func (s *Store) SavePuzzle(ctx context.Context, p *Puzzle) error {
	p.ID = generateID("pz")
	p.CreatedAt = time.Now().UTC()
	if s.db != nil {
		return s.insertPuzzle(ctx, p)
	}

	s.mu.Lock()
	s.puzzles[p.ID] = p
	s.mu.Unlock()
	return nil
}

// GetPuzzle returns a puzzle by ID.
func (s *Store) GetPuzzle(ctx context.Context, id string) (*Puzzle, error) {
	if s.db != nil {
		return s.selectPuzzle(ctx, id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.puzzles[id]
	if !ok {
		return nil, fmt.Errorf("puzzle %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// ListPuzzles returns up to limit puzzles, most recent first.
func (s *Store) ListPuzzles(ctx context.Context, limit int) ([]*Puzzle, error) {
	if s.db != nil {
		return s.selectPuzzles(ctx, limit)
	}

	s.mu.RLock()
	list := make([]*Puzzle, 0, len(s.puzzles))
	for _, p := range s.puzzles {
		list = append(list, p)
	}
	s.mu.RUnlock()

	slices.SortFunc(list, func(a, b *Puzzle) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID > b.ID {
			return -1
		}
		return 1
	})
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// SetUpload records the provider upload for a puzzle.
func (s *Store) SetUpload(ctx context.Context, id string, up *Upload) (*Puzzle, error) {
	if s.db != nil {
		return s.updatePuzzleUpload(ctx, id, up)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.puzzles[id]
	if !ok {
		return nil, fmt.Errorf("puzzle %s: %w", id, ErrNotFound)
	}
	cp := *p
	cp.Upload = up
	s.puzzles[id] = &cp
	return &cp, nil
}

// CreateOrder assigns an ID and timestamps and persists o.
func (s *Store) CreateOrder(ctx context.Context, o *Order) error {
	now := time.Now().UTC()
	o.ID = generateID("ord")
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = statusPending
	}
	if s.db != nil {
		return s.insertOrder(ctx, o)
	}

	cp := *o
	s.mu.Lock()
	s.orders[o.ID] = &cp
	s.mu.Unlock()
	return nil
}

// GetOrder returns a copy of an order.
func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	if s.db != nil {
		return s.selectOrder(ctx, s.db, id, false)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

// UpdateOrder applies fn to the order atomically and returns the result. If
// fn fails nothing is written.
func (s *Store) UpdateOrder(ctx context.Context, id string, fn func(*Order) error) (*Order, error) {
	if s.db != nil {
		return s.updateOrderTx(ctx, id, fn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now().UTC()
	s.orders[id] = &cp
	out := cp
	return &out, nil
}

func generateID(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return prefix + "_" + hex.EncodeToString(b)
}
