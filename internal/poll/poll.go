package poll

import (
	"context"
	"time"
)

// Until calls check every interval until it reports done, up to maxAttempts
// times. The first call happens immediately. If the attempt budget is
// exhausted, the error of the last check (or ErrBudgetExhausted when the
// last check returned no error) is returned. Cancellation of ctx aborts
// the wait between attempts.
//
// There is deliberately no backoff and no jitter: callers poll cloud and
// shell readiness on a fixed cadence with a hard ceiling.
func Until(ctx context.Context, interval time.Duration, maxAttempts int, check func() (bool, error)) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		var done bool
		if done, err = check(); done {
			return nil
		}
		if i < maxAttempts-1 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err == nil {
		err = ErrBudgetExhausted
	}
	return err
}

// ErrBudgetExhausted is returned by Until when every attempt reported
// "not done" without a distinct error.
var ErrBudgetExhausted = errBudget{}

type errBudget struct{}

func (errBudget) Error() string { return "attempt budget exhausted" }
