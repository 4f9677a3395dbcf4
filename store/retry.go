package store

import (
	"context"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

// RetryPolicy retries operations that failed on lock contention with
// exponential backoff.
type RetryPolicy struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  5,
		InitialWait: 50 * time.Millisecond,
		MaxWait:     2 * time.Second,
	}
}

// DoWithRetry runs op until it succeeds, fails with a non-transient
// error, or the retries run out. The last error is returned.
func (rp RetryPolicy) DoWithRetry(ctx context.Context, op func() error) error {
	var lastErr error
	wait := rp.InitialWait

	for attempt := 0; attempt <= rp.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusy(err) || attempt == rp.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > rp.MaxWait {
			wait = rp.MaxWait
		}
	}

	return lastErr
}

// isBusy reports SQLITE_BUSY / SQLITE_LOCKED, the only errors worth retrying.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
