package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRunIDRequired = errors.New("run id is required")
	ErrNotFound      = errors.New("record not found")
)

const runColumns = `
	id, created_at, state, error, initial_capital, final_value, cash,
	total_return, max_drawdown, realized_pnl, unrealized_pnl, commission,
	market_events, signals, signals_dropped, orders, fills,
	closed_trades, winning_trades, win_rate, duration_ms, config`

// SaveRun writes a run with its strategies, fills, positions and equity
// curve in one transaction.
func (d *Database) SaveRun(ctx context.Context, rec RunRecord) (err error) {
	r := rec.Run
	if r.ID == "" {
		return ErrRunIDRequired
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Config == "" {
		r.Config = "{}"
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UnixMilli(), r.State, r.Error, r.InitialCapital, r.FinalValue, r.Cash,
		r.TotalReturn, r.MaxDrawdown, r.RealizedPnL, r.UnrealizedPnL, r.Commission,
		r.MarketEvents, r.Signals, r.SignalsDropped, r.Orders, r.Fills,
		r.ClosedTrades, r.WinningTrades, r.WinRate, r.DurationMs, r.Config,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}

	for i, name := range r.Strategies {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_strategies (run_id, seq, name) VALUES (?, ?, ?)`,
			r.ID, i, name,
		); err != nil {
			return fmt.Errorf("insert strategy %s: %w", name, err)
		}
	}

	if len(rec.Fills) > 0 {
		var stmt *sql.Stmt
		stmt, err = tx.PrepareContext(ctx, `
			INSERT INTO fills (run_id, seq, order_id, symbol, side, qty, price, fee, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare fills: %w", err)
		}
		defer stmt.Close()
		for i, f := range rec.Fills {
			if _, err = stmt.ExecContext(ctx, r.ID, i, f.OrderID, f.Symbol, f.Side, f.Qty, f.Price, f.Fee, f.Timestamp); err != nil {
				return fmt.Errorf("insert fill %s: %w", f.OrderID, err)
			}
		}
	}

	for _, p := range rec.Positions {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO positions (run_id, symbol, qty, avg_price, realized_pnl, last_price)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, p.Symbol, p.Qty, p.AvgPrice, p.RealizedPnL, p.LastPrice,
		); err != nil {
			return fmt.Errorf("insert position %s: %w", p.Symbol, err)
		}
	}

	if len(rec.Equity) > 0 {
		var stmt *sql.Stmt
		stmt, err = tx.PrepareContext(ctx, `INSERT INTO equity_curve (run_id, ts, equity) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare equity: %w", err)
		}
		defer stmt.Close()
		for _, pt := range rec.Equity {
			if _, err = stmt.ExecContext(ctx, r.ID, pt.Timestamp, pt.Equity); err != nil {
				return fmt.Errorf("insert equity point %d: %w", pt.Timestamp, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun loads one run with its strategy names.
func (d *Database) GetRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, ErrRunIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	if r.Strategies, err = d.runStrategies(ctx, id); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. Strategy names are not loaded.
func (d *Database) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListFills returns a run's fills in execution order.
func (d *Database) ListFills(ctx context.Context, runID string) ([]Fill, error) {
	if err := d.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT order_id, symbol, side, qty, price, fee, ts
		FROM fills
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	fills := []Fill{}
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.OrderID, &f.Symbol, &f.Side, &f.Qty, &f.Price, &f.Fee, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ListPositions returns a run's final positions ordered by symbol.
func (d *Database) ListPositions(ctx context.Context, runID string) ([]Position, error) {
	if err := d.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, qty, avg_price, realized_pnl, last_price
		FROM positions
		WHERE run_id = ?
		ORDER BY symbol`, runID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	positions := []Position{}
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.AvgPrice, &p.RealizedPnL, &p.LastPrice); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListEquity returns a run's equity curve in timestamp order.
func (d *Database) ListEquity(ctx context.Context, runID string) ([]EquityPoint, error) {
	if err := d.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT ts, equity FROM equity_curve WHERE run_id = ? ORDER BY ts`, runID)
	if err != nil {
		return nil, fmt.Errorf("query equity: %w", err)
	}
	defer rows.Close()

	points := []EquityPoint{}
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.Timestamp, &p.Equity); err != nil {
			return nil, fmt.Errorf("scan equity: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// DeleteRun removes a run and everything stored with it.
func (d *Database) DeleteRun(ctx context.Context, id string) error {
	if id == "" {
		return ErrRunIDRequired
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"equity_curve", "positions", "fills", "run_strategies"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (d *Database) requireRun(ctx context.Context, id string) error {
	if id == "" {
		return ErrRunIDRequired
	}
	var one int
	err := d.DB.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query run %s: %w", id, err)
	}
	return nil
}

func (d *Database) runStrategies(ctx context.Context, id string) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT name FROM run_strategies WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query run strategies: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r       Run
		created int64
	)
	err := s.Scan(
		&r.ID, &created, &r.State, &r.Error, &r.InitialCapital, &r.FinalValue, &r.Cash,
		&r.TotalReturn, &r.MaxDrawdown, &r.RealizedPnL, &r.UnrealizedPnL, &r.Commission,
		&r.MarketEvents, &r.Signals, &r.SignalsDropped, &r.Orders, &r.Fills,
		&r.ClosedTrades, &r.WinningTrades, &r.WinRate, &r.DurationMs, &r.Config,
	)
	if err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, nil
}
