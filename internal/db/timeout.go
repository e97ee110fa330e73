package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrQueryTimeout = errors.New("database query timeout")

type QueryTimeoutError struct {
	Bound time.Duration
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("database query timeout after %dms", e.Bound.Milliseconds())
}

func (e *QueryTimeoutError) Is(target error) bool {
	return target == ErrQueryTimeout
}

type queryOutcome[T any] struct {
	value T
	err   error
}

// QueryWithTimeout runs a single-row query and returns at the latest when bound
// elapses. On timeout the query context is cancelled, which lets lib/pq send a
// cancel request, but the server may still finish the statement. The
// connection goes back to the pool only once the query has settled.
func QueryWithTimeout[T any](ctx context.Context, pool *Pool, bound time.Duration, query string, args ...any) (T, error) {
	var zero T

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return zero, err
	}

	queryCtx, cancelQuery := context.WithCancel(ctx)
	done := make(chan queryOutcome[T], 1)

	go func() {
		defer pool.Release(conn)
		defer cancelQuery()

		var out queryOutcome[T]
		out.err = conn.QueryRowxContext(queryCtx, query, args...).Scan(&out.value)
		done <- out
	}()

	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		cancelQuery()
		return zero, &QueryTimeoutError{Bound: bound}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Probe is the SELECT 1 round trip used by health endpoints.
func Probe(ctx context.Context, pool *Pool, bound time.Duration) error {
	_, err := QueryWithTimeout[int](ctx, pool, bound, "SELECT 1")
	return err
}
