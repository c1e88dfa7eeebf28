package application

import (
	"context"
	"time"
)

// RetryUntil calls fetch until isDone accepts the result, up to maxAttempts
// calls in total, sleeping delay between calls. An error from fetch ends the
// loop immediately. When attempts run out the last result is returned with a
// nil error: exhaustion is not a failure, the caller decides what an
// unfinished result means.
//
// It absorbs the short window after a push in which a forge lists zero check
// runs. Open-ended polling belongs to ChecksMonitor, not here.
func RetryUntil[T any](
	ctx context.Context,
	clock Clock,
	fetch func(ctx context.Context) (T, error),
	isDone func(T) bool,
	maxAttempts int,
	delay time.Duration,
) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var result T
	for attempt := 1; ; attempt++ {
		var err error
		result, err = fetch(ctx)
		if err != nil {
			return result, err
		}
		if isDone(result) || attempt >= maxAttempts {
			return result, nil
		}

		if err := clock.Sleep(ctx, delay); err != nil {
			return result, err
		}
	}
}
