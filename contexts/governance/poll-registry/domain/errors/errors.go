package errors

import "errors"

var (
	ErrUnauthorized     = errors.New("caller is not authorized")
	ErrPollNotFound     = errors.New("poll not found")
	ErrPollNotActive    = errors.New("poll is not active")
	ErrPollAlreadyEnded = errors.New("poll has already ended")
	// ErrPollNotEnded is reserved for a finalize-style operation; nothing
	// returns it yet.
	ErrPollNotEnded     = errors.New("poll has not ended")
	ErrInvalidOption    = errors.New("invalid poll option")
	ErrAlreadyVoted     = errors.New("wallet has already voted")
	ErrInvalidTimeRange = errors.New("start time must be before end time")

	ErrInvalidSnapshot        = errors.New("invalid registry snapshot")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key conflict")
	ErrIdempotencyInProgress  = errors.New("request with this idempotency key is still in progress")
	ErrConflict               = errors.New("poll registry conflict")
)
