package position

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/riskbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPersistAndRestoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore(5)
	require.True(t, s.TryOpen(newPosition("BTCUSD")))
	require.True(t, s.Mutate("BTCUSD", func(p *domain.Position) {
		p.StopLoss = 96
		p.TakeProfit = 106
		p.HighestPrice = 103
	}))
	s.RecordReturn("BTCUSD", 12.5, time.Now())

	p := NewPersister(s, path, time.Minute, testLogger())
	wrote, err := p.Persist(true)
	require.NoError(t, err)
	require.True(t, wrote)

	restored := NewStore(5)
	rp := NewPersister(restored, path, time.Minute, testLogger())
	require.NoError(t, rp.Restore())

	got, ok := restored.Get("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, 96.0, got.StopLoss)
	assert.Equal(t, 106.0, got.TakeProfit)
	assert.Equal(t, 103.0, got.HighestPrice)
	assert.Len(t, restored.ReturnsSince("BTCUSD", time.Time{}), 1)
}

func TestPersistSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(5)
	p := NewPersister(s, path, time.Minute, testLogger())

	wrote, err := p.Persist(false)
	require.NoError(t, err)
	assert.False(t, wrote)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPersistThrottles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(5)
	p := NewPersister(s, path, time.Hour, testLogger())

	require.True(t, s.TryOpen(newPosition("BTCUSD")))
	wrote, err := p.Persist(false)
	require.NoError(t, err)
	require.True(t, wrote)

	// A second dirty write inside the interval is deferred, not lost.
	require.True(t, s.Mutate("BTCUSD", func(pos *domain.Position) { pos.StopLoss = 90 }))
	wrote, err = p.Persist(false)
	require.NoError(t, err)
	assert.False(t, wrote)

	// Force bypasses the throttle.
	wrote, err = p.Persist(true)
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestRestoreMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(5)
	p := NewPersister(s, path, time.Minute, testLogger())

	require.NoError(t, p.Restore())
	assert.Zero(t, s.Count())
}

func TestRestoreCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewStore(5)
	p := NewPersister(s, path, time.Minute, testLogger())

	err := p.Restore()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCorruptSnapshot)
}

func TestRestoreSkipsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	payload := `{
  "version": 1,
  "saved_at": "2026-08-01T00:00:00Z",
  "positions": [
    {"symbol": "", "side": "long", "size": 1, "entry_price": 10},
    {"symbol": "ETHUSD", "side": "short", "size": 0, "entry_price": 10},
    {"symbol": "BTCUSD", "side": "long", "size": 2, "entry_price": 100, "unknown_field": true}
  ],
  "returns": {}
}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	s := NewStore(5)
	p := NewPersister(s, path, time.Minute, testLogger())
	require.NoError(t, p.Restore())

	assert.Equal(t, 1, s.Count())
	got, ok := s.Get("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Size)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "positions": [], "returns": {}}`), 0o644))

	s := NewStore(5)
	p := NewPersister(s, path, time.Minute, testLogger())

	assert.ErrorIs(t, p.Restore(), domain.ErrCorruptSnapshot)
}
