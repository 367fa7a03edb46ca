package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition means a position operation was attempted from the
	// wrong direction state. This is always a logic bug in the caller.
	ErrInvalidTransition = errors.New("invalid position transition")

	// ErrRateLimited marks responses that should back off much longer than a
	// normal transient failure.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthentication is fatal: never retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInsufficientLiquidity means the signal should be skipped and the
	// book stays flat.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrStateCorrupt means neither the primary state file nor its backup
	// could be parsed.
	ErrStateCorrupt = errors.New("state file corrupt")

	// ErrRiskBreach flips the loop to Paused and requires an explicit resume.
	ErrRiskBreach = errors.New("circuit breaker tripped")

	// ErrEndOfSignals is returned by a SignalSource once the sequence is
	// exhausted.
	ErrEndOfSignals = errors.New("end of signals")

	// ErrOrderInFlight rejects a second order while one is still being
	// placed for the same instrument.
	ErrOrderInFlight = errors.New("order already in flight")
)

// OrderAmbiguousError means an order call failed after fills may have
// occurred. The caller must reconcile against the venue's position report
// before taking any further action.
type OrderAmbiguousError struct {
	Asset string
	Side  Side
	Cause error
}

func (e *OrderAmbiguousError) Error() string {
	return fmt.Sprintf("order outcome ambiguous (%s %s): %v", e.Side, e.Asset, e.Cause)
}

func (e *OrderAmbiguousError) Unwrap() error { return e.Cause }
