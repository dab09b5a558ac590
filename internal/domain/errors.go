package domain

import "errors"

var (
	// ErrPriceValidation means the client-submitted total diverged from the
	// server-side recomputation. Never retried, surfaced distinctly so the
	// caller can warn about tampering rather than a generic failure.
	ErrPriceValidation = errors.New("price validation failed")
	// ErrPayment means the escrow hold could not be placed.
	ErrPayment = errors.New("payment failed")
	// ErrSettlement means a release or refund failed inside a sweep; the
	// booking stays as-is for retry on the next tick.
	ErrSettlement = errors.New("settlement failed")

	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
)
