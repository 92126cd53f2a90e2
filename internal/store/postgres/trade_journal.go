package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftline/riskbot/internal/domain"
)

// TradeJournal implements domain.TradeJournal using PostgreSQL.
type TradeJournal struct {
	pool *pgxpool.Pool
}

// NewTradeJournal creates a TradeJournal backed by the given connection pool.
func NewTradeJournal(pool *pgxpool.Pool) *TradeJournal {
	return &TradeJournal{pool: pool}
}

const closedTradeCols = `id, symbol, side, size, entry_price, exit_price,
	pnl, reason, opened_at, closed_at`

func scanClosedTradeRows(rows pgx.Rows) ([]domain.ClosedTrade, error) {
	var trades []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Side, &t.Size,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &t.Reason,
			&t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertClosedTrade writes one closed trade. An empty ID is assigned a
// fresh UUID; a duplicate ID is silently skipped so a retried close
// never double-journals.
func (j *TradeJournal) InsertClosedTrade(ctx context.Context, t domain.ClosedTrade) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	const query = `
		INSERT INTO closed_trades (
			id, symbol, side, size, entry_price, exit_price,
			pnl, reason, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	if _, err := j.pool.Exec(ctx, query,
		t.ID, t.Symbol, t.Side, t.Size,
		t.EntryPrice, t.ExitPrice, t.PnL, t.Reason,
		t.OpenedAt, t.ClosedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert closed trade %s: %w", t.Symbol, err)
	}
	return nil
}

// ListClosedTrades returns closed trades, newest first. An empty symbol
// matches all symbols.
func (j *TradeJournal) ListClosedTrades(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	query := `SELECT ` + closedTradeCols + ` FROM closed_trades WHERE 1=1`
	var args []any
	argIdx := 1

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, symbol)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanClosedTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

// SumPnL returns total realized PnL for trades closed at or after since.
func (j *TradeJournal) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	var sum *float64
	err := j.pool.QueryRow(ctx,
		"SELECT SUM(pnl) FROM closed_trades WHERE closed_at >= $1", since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// InsertDailyStats upserts the rollup row for its day.
func (j *TradeJournal) InsertDailyStats(ctx context.Context, s domain.DailyStats) error {
	const query = `
		INSERT INTO daily_stats (day, trades, win_rate, avg_pnl, total_pnl, max_drawdown)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (day) DO UPDATE SET
			trades = EXCLUDED.trades,
			win_rate = EXCLUDED.win_rate,
			avg_pnl = EXCLUDED.avg_pnl,
			total_pnl = EXCLUDED.total_pnl,
			max_drawdown = EXCLUDED.max_drawdown`

	if _, err := j.pool.Exec(ctx, query,
		s.Day, s.Trades, s.WinRate, s.AvgPnL, s.TotalPnL, s.MaxDrawdown,
	); err != nil {
		return fmt.Errorf("postgres: insert daily stats %s: %w", s.Day.Format("2006-01-02"), err)
	}
	return nil
}

// ListDailyStats returns daily rollups, newest first.
func (j *TradeJournal) ListDailyStats(ctx context.Context, opts domain.ListOpts) ([]domain.DailyStats, error) {
	query := `SELECT day, trades, win_rate, avg_pnl, total_pnl, max_drawdown
		FROM daily_stats WHERE 1=1`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND day >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND day <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY day DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list daily stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.DailyStats
	for rows.Next() {
		var s domain.DailyStats
		if err := rows.Scan(&s.Day, &s.Trades, &s.WinRate, &s.AvgPnL, &s.TotalPnL, &s.MaxDrawdown); err != nil {
			return nil, fmt.Errorf("postgres: scan daily stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list daily stats: %w", err)
	}
	return stats, nil
}

// Compile-time interface check.
var _ domain.TradeJournal = (*TradeJournal)(nil)
