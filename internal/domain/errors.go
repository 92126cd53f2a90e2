package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrCapacityFull    = errors.New("position capacity full")
	ErrStaleData       = errors.New("market data stale")
	ErrOrderRejected   = errors.New("order rejected")
	ErrRetryExhausted  = errors.New("order retries exhausted")
	ErrInvalidOrder    = errors.New("invalid order parameters")
	ErrCorruptSnapshot = errors.New("state snapshot corrupt")
	ErrEngineStopped   = errors.New("engine not running")
	ErrLockHeld        = errors.New("lock already held")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrContextDone     = errors.New("context cancelled")
)
