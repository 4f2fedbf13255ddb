// Package data loads market observations from files or generates them, and
// feeds them into an engine.
package data

import "fmt"

// Record is one market observation.
type Record struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
}

// MarketDataSink accepts market observations; *engine.Engine implements it.
type MarketDataSink interface {
	AddMarketData(symbol string, price float64, ts int64, volume int64) error
}

// Feed pushes records into sink in slice order and returns how many were
// accepted. It stops at the first rejected record.
func Feed(sink MarketDataSink, records []Record) (int, error) {
	for i, r := range records {
		if err := sink.AddMarketData(r.Symbol, r.Price, r.Timestamp, r.Volume); err != nil {
			return i, fmt.Errorf("record %d (%s@%d): %w", i, r.Symbol, r.Timestamp, err)
		}
	}
	return len(records), nil
}

// Symbols lists the distinct symbols in first-seen order.
func Symbols(records []Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		if _, ok := seen[r.Symbol]; ok {
			continue
		}
		seen[r.Symbol] = struct{}{}
		out = append(out, r.Symbol)
	}
	return out
}
