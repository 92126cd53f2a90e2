package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/driftline/riskbot/internal/domain"
)

// journalReader is the slice of the trade journal the archiver needs.
type journalReader interface {
	ListClosedTrades(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.ClosedTrade, error)
	ListDailyStats(ctx context.Context, opts domain.ListOpts) ([]domain.DailyStats, error)
}

// Archiver uploads periodic exports of the trade journal and copies of
// the engine state snapshot to object storage. Nothing is deleted from
// the primary store; exports are additive.
type Archiver struct {
	writer  domain.BlobWriter
	journal journalReader
}

// NewArchiver creates an Archiver writing through w and reading from j.
func NewArchiver(w domain.BlobWriter, j journalReader) *Archiver {
	return &Archiver{writer: w, journal: j}
}

// ArchiveTrades exports closed trades from the window [from, to) as
// JSONL under archive/trades/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveTrades(ctx context.Context, from, to time.Time) (int64, error) {
	trades, err := a.journal.ListClosedTrades(ctx, "", domain.ListOpts{
		Since: &from,
		Until: &to,
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", to)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return int64(len(trades)), nil
}

// ArchiveDailyStats exports daily rollups from the window [from, to) as
// JSONL under archive/daily_stats/YYYY-MM.jsonl.
func (a *Archiver) ArchiveDailyStats(ctx context.Context, from, to time.Time) (int64, error) {
	stats, err := a.journal.ListDailyStats(ctx, domain.ListOpts{
		Since: &from,
		Until: &to,
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive daily stats query: %w", err)
	}
	if len(stats) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(stats)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive daily stats marshal: %w", err)
	}

	path := archivePath("daily_stats", to)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive daily stats upload: %w", err)
	}
	return int64(len(stats)), nil
}

// ArchiveSnapshot uploads a copy of the engine state snapshot file under
// archive/snapshots/, keyed by upload time. A missing snapshot file is
// not an error.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, statePath string, now time.Time) error {
	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("s3blob: read snapshot %s: %w", statePath, err)
	}

	path := fmt.Sprintf("archive/snapshots/%s.json", now.UTC().Format("2006-01-02T15-04-05"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}
	return nil
}

// archivePath builds the object key for an export, partitioned by the
// year-month of the window end.
func archivePath(kind string, to time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, to.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
