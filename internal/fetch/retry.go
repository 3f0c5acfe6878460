package fetch

import (
	"context"
	"math/rand"
	"time"
)

// Retrier runs a task with exponential backoff while its error is retryable.
type Retrier struct {
	// MinSleep is the shortest and initial sleep time to be
	// used during the retry loop.
	MinSleep time.Duration

	// MaxSleep is the longest sleep time to be used during
	// the retry loop.
	MaxSleep time.Duration

	// MaxNumRetries limits the number of attempts after the first one.
	MaxNumRetries int

	// Retryable classifies errors. Defaults to IsRetryable.
	Retryable func(error) bool
}

// Do calls task until it succeeds, fails with a non-retryable error, runs
// out of retries or ctx is done. It returns the last error seen.
func (r *Retrier) Do(ctx context.Context, task func(attempt int) error) error {
	retryable := r.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	maxSleep := r.MaxSleep
	if maxSleep < r.MinSleep {
		maxSleep = r.MinSleep
	}
	backoff := r.MinSleep
	for i := 0; ; i++ {
		err := task(i)
		if err == nil || !retryable(err) || i >= r.MaxNumRetries {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(float64(backoff) * (1.75 + 0.5*rand.Float64()))
		if backoff > maxSleep {
			backoff = maxSleep + time.Duration(float64(r.MinSleep)*rand.Float64())
		}
	}
}

// Fetch is a convenience wrapper retrying f.Fetch.
func (r *Retrier) Fetch(ctx context.Context, f Fetcher, start, end int64) ([]byte, error) {
	var data []byte
	err := r.Do(ctx, func(int) error {
		var err error
		data, err = f.Fetch(ctx, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
