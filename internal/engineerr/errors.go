// Package engineerr defines the sentinel error kinds shared across the
// backtest engine, following the same "named rejection reason" idiom the
// risk guardrails use for trade intents.
package engineerr

import "errors"

var (
	// ErrInvalidInput covers malformed CSV rows, bad headers, unparseable
	// dates, non-positive prices.
	ErrInvalidInput = errors.New("engine: invalid input")

	// ErrInsufficientData means a rolling window needed more history than
	// was available; callers should treat this as "skip this day", not fail.
	ErrInsufficientData = errors.New("engine: insufficient data")

	// ErrInfeasible names an order that could not be filled (cash, limit, or
	// zero-qty rounding). No package returns it: the broker reports such an
	// order through ExecuteOrderOpen's ok=false result instead.
	ErrInfeasible = errors.New("engine: order infeasible")

	// ErrCancelled marks a cooperative cancellation of a scan or batch job.
	ErrCancelled = errors.New("engine: cancelled")

	// ErrNotFound is returned by the batch task manager for unknown task IDs.
	ErrNotFound = errors.New("engine: task not found")

	// ErrAlreadyCompleted is returned when a terminal task is mutated again.
	ErrAlreadyCompleted = errors.New("engine: task already completed")
)
