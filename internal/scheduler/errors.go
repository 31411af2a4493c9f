package scheduler

import (
	"errors"
	"fmt"
)

// TransientIOError reports a ping that did not reach the agent: the
// endpoint was unreachable, timed out, or answered with a non-success
// status. The scheduler logs it and retries on the next tick.
type TransientIOError struct {
	Endpoint   string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransientIOError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ping %s: unexpected status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("ping %s: %v", e.Endpoint, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientIOError
func IsTransient(err error) bool {
	var target *TransientIOError
	return errors.As(err, &target)
}
