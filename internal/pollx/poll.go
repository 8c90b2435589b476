// Package pollx provides bounded polling for asynchronous server-side state
// transitions. A poll runs a fetch-and-judge function at a fixed interval
// until it reports a terminal verdict or the attempt budget is exhausted.
package pollx

import (
	"context"
	"fmt"
	"time"
)

// Verdict is the outcome of a single poll attempt.
type Verdict int

const (
	// Continue means the observed state is not terminal yet.
	Continue Verdict = iota
	// Done means the awaited state was reached.
	Done
	// Skip means the awaited transition already happened earlier and the
	// caller can bypass its next action.
	Skip
	// Failed means the observed state is a terminal failure. The attempt
	// function must return a non-nil error alongside it.
	Failed
)

// TimeoutError is returned when a poll exhausts its attempt budget without
// reaching a terminal verdict. It is distinct from transport failures so
// callers can tell "the server never got there" from "the request broke".
type TimeoutError struct {
	What     string
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s after %d attempts (%s apart)", e.What, e.Attempts, e.Interval)
}

// Poll invokes fn once per interval, up to maxAttempts times.
//
// A Done or Skip verdict stops the poll and is returned with a nil error.
// A Failed verdict stops the poll and returns fn's error. Exhausting the
// budget returns a *TimeoutError. Context cancellation is observed between
// attempts and aborts with ctx.Err().
func Poll(ctx context.Context, what string, interval time.Duration, maxAttempts int, fn func(ctx context.Context) (Verdict, error)) (Verdict, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Failed, ctx.Err()
			case <-time.After(interval):
			}
		}

		v, err := fn(ctx)
		switch v {
		case Done, Skip:
			return v, nil
		case Failed:
			if err == nil {
				err = fmt.Errorf("poll for %s reported failure", what)
			}
			return Failed, err
		case Continue:
			// next attempt
		}
	}
	return Failed, &TimeoutError{What: what, Attempts: maxAttempts, Interval: interval}
}
