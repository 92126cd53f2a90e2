package position

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/driftline/riskbot/internal/domain"
)

// snapshotVersion guards against loading snapshots written by an
// incompatible build.
const snapshotVersion = 1

// snapshot is the on-disk representation of the store.
type snapshot struct {
	Version   int                              `json:"version"`
	SavedAt   time.Time                        `json:"saved_at"`
	Positions []domain.Position                `json:"positions"`
	Returns   map[string][]domain.ReturnRecord `json:"returns"`
}

// Persister writes store snapshots to a local JSON file. Snapshots are
// taken under the store locks; file I/O happens outside them. Writes go
// through a temp file and rename, so the snapshot at Path is always a
// complete document.
type Persister struct {
	store    *Store
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSave time.Time
}

// NewPersister creates a Persister that throttles writes to at most one
// per interval unless forced.
func NewPersister(store *Store, path string, interval time.Duration, logger *slog.Logger) *Persister {
	return &Persister{
		store:    store,
		path:     path,
		interval: interval,
		logger:   logger.With(slog.String("component", "persister")),
	}
}

// Persist writes a snapshot when the store is dirty, subject to the
// throttle interval. force bypasses both the dirty check and the
// throttle (used at shutdown). It reports whether a write happened.
func (p *Persister) Persist(force bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !force {
		if time.Since(p.lastSave) < p.interval {
			return false, nil
		}
		if !p.store.consumeDirty() {
			return false, nil
		}
	} else {
		p.store.consumeDirty()
	}

	snap := p.capture()
	if err := p.write(snap); err != nil {
		p.store.restoreDirty()
		return false, err
	}
	p.lastSave = time.Now()
	p.logger.Debug("persister: snapshot written",
		slog.Int("positions", len(snap.Positions)),
		slog.String("path", p.path))
	return true, nil
}

// capture copies store state under the locks, position lock first.
func (p *Persister) capture() snapshot {
	s := p.store

	s.posMu.RLock()
	positions := make([]domain.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		positions = append(positions, *pos)
	}

	s.retMu.RLock()
	returns := make(map[string][]domain.ReturnRecord, len(s.returns))
	for sym, recs := range s.returns {
		cp := make([]domain.ReturnRecord, len(recs))
		copy(cp, recs)
		returns[sym] = cp
	}
	s.retMu.RUnlock()
	s.posMu.RUnlock()

	return snapshot{
		Version:   snapshotVersion,
		SavedAt:   time.Now().UTC(),
		Positions: positions,
		Returns:   returns,
	}
}

// write serializes the snapshot to a temp file in the target directory
// and renames it over the destination.
func (p *Persister) write(snap snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("position: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("position: create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("position: create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("position: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("position: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("position: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("position: rename snapshot: %w", err)
	}
	return nil
}

// Restore loads the snapshot at Path into the store. A missing file is
// not an error; the store starts empty. A file that fails to parse is
// corruption (renames are atomic, so torn writes never land at Path) and
// aborts startup. Entries with an empty symbol or non-positive size are
// skipped with a warning.
func (p *Persister) Restore() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Info("persister: no snapshot found, starting empty",
				slog.String("path", p.path))
			return nil
		}
		return fmt.Errorf("position: read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("position: %w: %v", domain.ErrCorruptSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("position: %w: unsupported version %d", domain.ErrCorruptSnapshot, snap.Version)
	}

	s := p.store
	s.posMu.Lock()
	loaded, skipped := 0, 0
	for _, pos := range snap.Positions {
		if pos.Symbol == "" || pos.Size <= 0 {
			skipped++
			p.logger.Warn("persister: skipping invalid snapshot entry",
				slog.String("symbol", pos.Symbol),
				slog.Float64("size", pos.Size))
			continue
		}
		if len(s.positions) >= s.maxPositions {
			skipped++
			p.logger.Warn("persister: snapshot exceeds capacity, dropping entry",
				slog.String("symbol", pos.Symbol))
			continue
		}
		cp := pos
		s.positions[pos.Symbol] = &cp
		loaded++
	}
	s.retMu.Lock()
	for sym, recs := range snap.Returns {
		if sym == "" || len(recs) == 0 {
			continue
		}
		cp := make([]domain.ReturnRecord, len(recs))
		copy(cp, recs)
		s.returns[sym] = cp
	}
	s.retMu.Unlock()
	s.posMu.Unlock()

	p.logger.Info("persister: snapshot restored",
		slog.Int("positions", loaded),
		slog.Int("skipped", skipped),
		slog.Time("saved_at", snap.SavedAt))
	return nil
}
