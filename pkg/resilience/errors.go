package resilience

import "errors"

var (
	ErrCircuitOpen      = errors.New("resilience: circuit breaker is open")
	ErrBulkheadFull     = errors.New("resilience: bulkhead is full")
	ErrTimeout          = errors.New("resilience: operation timed out")
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")
)
