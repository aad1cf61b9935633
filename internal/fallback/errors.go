package fallback

import (
	"context"
	"errors"
)

// Programmer errors surfaced by the constructor. Provider-level failures
// are never returned as errors from Execute; they are recorded as attempt
// outcomes instead.
var (
	ErrNilRegistry = errors.New("fallback: registry is required")
	ErrNilClient   = errors.New("fallback: provider client is required")
	ErrNilTracker  = errors.New("fallback: health tracker is required")
	ErrNilEngine   = errors.New("fallback: selection engine is required")
)

// ErrRecordNotFound is returned by ReportFeedback for unknown execution ids.
var ErrRecordNotFound = errors.New("fallback: execution record not found")

// classifyOutcome maps a generation error to an attempt outcome. A deadline
// expiry on the attempt context is a timeout; everything else is a
// transport failure. Both are recovered locally by moving to the next
// candidate.
func classifyOutcome(attemptCtx context.Context, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	return OutcomeFailure
}
