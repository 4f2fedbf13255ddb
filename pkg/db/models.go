package db

import "time"

// Run is one stored backtest with its headline numbers.
type Run struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	Strategies []string  `json:"strategies"`

	InitialCapital float64 `json:"initial_capital"`
	FinalValue     float64 `json:"final_value"`
	Cash           float64 `json:"cash"`
	TotalReturn    float64 `json:"total_return"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	Commission     float64 `json:"commission"`

	MarketEvents   int     `json:"market_events"`
	Signals        int     `json:"signals"`
	SignalsDropped int     `json:"signals_dropped"`
	Orders         int     `json:"orders"`
	Fills          int     `json:"fills"`
	ClosedTrades   int     `json:"closed_trades"`
	WinningTrades  int     `json:"winning_trades"`
	WinRate        float64 `json:"win_rate"`
	DurationMs     int64   `json:"duration_ms"`

	// Config is the engine configuration as JSON.
	Config string `json:"config,omitempty"`
}

// Fill is an executed trade of a run.
type Fill struct {
	OrderID   string  `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Qty       int64   `json:"qty"`
	Price     float64 `json:"price"`
	Fee       float64 `json:"fee"`
	Timestamp int64   `json:"timestamp"`
}

// Position is a run's final holding in one symbol.
type Position struct {
	Symbol      string  `json:"symbol"`
	Qty         int64   `json:"qty"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
	LastPrice   float64 `json:"last_price"`
}

// EquityPoint is the portfolio value at one timestamp.
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

// RunRecord is everything SaveRun writes for one run.
type RunRecord struct {
	Run       Run
	Fills     []Fill
	Positions []Position
	Equity    []EquityPoint
}
