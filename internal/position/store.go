// Package position holds the authoritative in-memory table of open
// positions, keyed by instrument.
package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// ErrSizeIncreased is returned when an update would grow a position. Size is
// set once at entry and afterwards only shrinks.
var ErrSizeIncreased = errors.New("position size may only decrease")

// Store is safe for concurrent use. Positions go in and come out as
// copies, so a caller never holds a pointer into the table.
type Store struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{positions: make(map[string]domain.Position)}
}

// Get returns a copy of the position for instrument.
func (s *Store) Get(instrument string) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[instrument]
	return p, ok
}

// Insert adds a new position. It fails if one is already open.
func (s *Store) Insert(p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.Instrument]; ok {
		return fmt.Errorf("position: insert %s: %w", p.Instrument, domain.ErrPositionExists)
	}
	s.positions[p.Instrument] = p
	return nil
}

// Replace inserts or overwrites the position. Reconciliation uses it to
// install state recovered from the exchange.
func (s *Store) Replace(p domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Instrument] = p
}

// Update applies fn to a copy of the stored position and writes the result
// back. fn must not change the instrument or grow the size.
func (s *Store) Update(instrument string, fn func(p *domain.Position)) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.positions[instrument]
	if !ok {
		return domain.Position{}, fmt.Errorf("position: update %s: %w", instrument, domain.ErrNoPosition)
	}
	next := cur
	fn(&next)
	if next.Size > cur.Size {
		return cur, fmt.Errorf("position: update %s: %w (%.8g -> %.8g)", instrument, ErrSizeIncreased, cur.Size, next.Size)
	}
	next.Instrument = instrument
	s.positions[instrument] = next
	return next, nil
}

// Delete removes and returns the position for instrument.
func (s *Store) Delete(instrument string) (domain.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[instrument]
	if ok {
		delete(s.positions, instrument)
	}
	return p, ok
}

// List returns copies of all positions sorted by instrument.
func (s *Store) List() []domain.Position {
	s.mu.RLock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Len returns the number of open positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Exposure sums the entry notional of all open positions.
func (s *Store) Exposure() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, p := range s.positions {
		total += p.Notional()
	}
	return total
}
