// Package errs holds the error kinds surfaced by the backtesting core.
// Callers match them with errors.Is; producers wrap them with context.
package errs

import "errors"

var (
	// ErrInvalidEvent reports an event that failed construction checks.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidConfiguration reports bad strategy, simulator or engine settings.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidState reports an operation attempted in the wrong engine state.
	ErrInvalidState = errors.New("invalid state")
	// ErrStrategyFailed wraps an error or panic raised by a strategy during dispatch.
	ErrStrategyFailed = errors.New("strategy failed")
)
