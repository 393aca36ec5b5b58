package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// timeoutStore bounds every operation of the wrapped store by a deadline.
type timeoutStore struct {
	next Store
	d    time.Duration
}

// WithTimeout wraps s so each operation fails with ErrTimeout after d. The
// caller is released at the deadline even if the backend is still busy.
func WithTimeout(s Store, d time.Duration) Store {
	return &timeoutStore{next: s, d: d}
}

func bounded[T any](ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			r.err = errors.Mark(errors.Wrap(r.err, op), ErrTimeout)
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, errors.Mark(errors.Wrapf(err, "store %s after %s", op, d), ErrTimeout)
		}
		return zero, err
	}
}

func (t *timeoutStore) Create(ctx context.Context, kind string, fields map[string]any) (*Record, error) {
	return bounded(ctx, t.d, "create", func(ctx context.Context) (*Record, error) {
		return t.next.Create(ctx, kind, fields)
	})
}

func (t *timeoutStore) Get(ctx context.Context, kind string, filter Filter) (*Record, error) {
	return bounded(ctx, t.d, "get", func(ctx context.Context) (*Record, error) {
		return t.next.Get(ctx, kind, filter)
	})
}

func (t *timeoutStore) Query(ctx context.Context, kind string, filter Filter, order []Order, limit int) ([]*Record, error) {
	return bounded(ctx, t.d, "query", func(ctx context.Context) ([]*Record, error) {
		return t.next.Query(ctx, kind, filter, order, limit)
	})
}

func (t *timeoutStore) Save(ctx context.Context, rec *Record) error {
	_, err := bounded(ctx, t.d, "save", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.Save(ctx, rec)
	})
	return err
}

func (t *timeoutStore) Delete(ctx context.Context, rec *Record) error {
	_, err := bounded(ctx, t.d, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.Delete(ctx, rec)
	})
	return err
}

func (t *timeoutStore) Close() error { return t.next.Close() }
