package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNoPosition          = errors.New("no active position for alert")
	ErrInvalidRequest      = errors.New("invalid request parameters")
	ErrInsufficientCapital = errors.New("insufficient pool capital")
	ErrInsufficientShares  = errors.New("insufficient shares held")
	ErrInvariantViolation  = errors.New("pool invariant violation")
	ErrConflict            = errors.New("concurrent write detected")
	ErrLockHeld            = errors.New("lock already held")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrRateLimited         = errors.New("rate limited")
)
