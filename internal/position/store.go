// Package position holds the in-memory position table and its snapshot
// persistence. The table is the single source of truth for open positions;
// everything else (journal, cache, events) is derived.
package position

import (
	"sync"
	"time"

	"github.com/driftline/riskbot/internal/domain"
)

// Store is a concurrency-safe table of open positions keyed by symbol,
// plus a per-symbol realized-return history.
//
// Two locks guard the two tables. When both are needed, the position
// lock is always acquired before the return lock; no code path takes
// them in the other order.
type Store struct {
	maxPositions int

	posMu     sync.RWMutex
	positions map[string]*domain.Position

	retMu   sync.RWMutex
	returns map[string][]domain.ReturnRecord

	dirtyMu sync.Mutex
	dirty   bool
}

// NewStore creates an empty Store that admits at most maxPositions
// concurrently open positions.
func NewStore(maxPositions int) *Store {
	return &Store{
		maxPositions: maxPositions,
		positions:    make(map[string]*domain.Position),
		returns:      make(map[string][]domain.ReturnRecord),
	}
}

// TryOpen inserts pos if its symbol is absent and the table has free
// capacity. Both checks and the insert happen in one lock section, so a
// successful TryOpen is a reservation other callers observe immediately.
func (s *Store) TryOpen(pos domain.Position) bool {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	if _, exists := s.positions[pos.Symbol]; exists {
		return false
	}
	if len(s.positions) >= s.maxPositions {
		return false
	}
	p := pos
	s.positions[pos.Symbol] = &p
	s.markDirty()
	return true
}

// Get returns a copy of the position for symbol.
func (s *Store) Get(symbol string) (domain.Position, bool) {
	s.posMu.RLock()
	defer s.posMu.RUnlock()

	p, ok := s.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Mutate applies fn to the live position under the lock. It returns
// false when the symbol has no open position. fn must not block.
func (s *Store) Mutate(symbol string, fn func(*domain.Position)) bool {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	p, ok := s.positions[symbol]
	if !ok {
		return false
	}
	fn(p)
	s.markDirty()
	return true
}

// Close atomically removes and returns the position for symbol. Exactly
// one of several concurrent callers wins; the rest observe a miss.
func (s *Store) Close(symbol string) (domain.Position, bool) {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	p, ok := s.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	delete(s.positions, symbol)
	s.markDirty()
	return *p, true
}

// Has reports whether symbol has an open position.
func (s *Store) Has(symbol string) bool {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	_, ok := s.positions[symbol]
	return ok
}

// Count returns the number of open positions.
func (s *Store) Count() int {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	return len(s.positions)
}

// List returns copies of all open positions.
func (s *Store) List() []domain.Position {
	s.posMu.RLock()
	defer s.posMu.RUnlock()

	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// RecordReturn appends a realized-return observation for symbol.
func (s *Store) RecordReturn(symbol string, pnl float64, ts time.Time) {
	s.retMu.Lock()
	defer s.retMu.Unlock()

	s.returns[symbol] = append(s.returns[symbol], domain.ReturnRecord{Timestamp: ts, PnL: pnl})
	s.markDirty()
}

// ReturnsSince returns the return records for symbol at or after cutoff,
// oldest first.
func (s *Store) ReturnsSince(symbol string, cutoff time.Time) []domain.ReturnRecord {
	s.retMu.RLock()
	defer s.retMu.RUnlock()

	recs := s.returns[symbol]
	out := make([]domain.ReturnRecord, 0, len(recs))
	for _, r := range recs {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// AllReturnsSince returns every symbol's return records at or after
// cutoff, merged, oldest first within each symbol.
func (s *Store) AllReturnsSince(cutoff time.Time) []domain.ReturnRecord {
	s.retMu.RLock()
	defer s.retMu.RUnlock()

	var out []domain.ReturnRecord
	for _, recs := range s.returns {
		for _, r := range recs {
			if !r.Timestamp.Before(cutoff) {
				out = append(out, r)
			}
		}
	}
	return out
}

// PruneReturns discards return records older than cutoff and reports how
// many were dropped.
func (s *Store) PruneReturns(cutoff time.Time) int {
	s.retMu.Lock()
	defer s.retMu.Unlock()

	dropped := 0
	for sym, recs := range s.returns {
		kept := recs[:0]
		for _, r := range recs {
			if r.Timestamp.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.returns, sym)
		} else {
			s.returns[sym] = kept
		}
	}
	if dropped > 0 {
		s.markDirty()
	}
	return dropped
}

// markDirty flags the store as needing persistence. Callers hold posMu
// or retMu; dirtyMu is separate so either path can flag safely.
func (s *Store) markDirty() {
	s.dirtyMu.Lock()
	s.dirty = true
	s.dirtyMu.Unlock()
}

// consumeDirty returns the dirty flag and clears it.
func (s *Store) consumeDirty() bool {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	d := s.dirty
	s.dirty = false
	return d
}

// restoreDirty re-flags the store after a failed persist so the next
// attempt retries.
func (s *Store) restoreDirty() {
	s.dirtyMu.Lock()
	s.dirty = true
	s.dirtyMu.Unlock()
}
