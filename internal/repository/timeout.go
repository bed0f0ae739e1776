package repository

import (
	"context"
	"errors"
	"time"
)

type timeoutRepository struct {
	next    Repository
	timeout time.Duration
}

// WithTimeout bounds every call to next. An expired deadline surfaces as a
// network BackendError so callers report it like any other backend failure.
func WithTimeout(next Repository, d time.Duration) Repository {
	if d <= 0 {
		return next
	}
	return &timeoutRepository{next: next, timeout: d}
}

func (t *timeoutRepository) call(ctx context.Context, op, collection string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var be *BackendError
		if !errors.As(err, &be) {
			return &BackendError{Op: op, Collection: collection, Kind: KindNetwork, Err: err}
		}
		if be.Kind != KindNetwork {
			return &BackendError{Op: op, Collection: collection, Kind: KindNetwork, Err: be.Err}
		}
	}
	return err
}

func (t *timeoutRepository) FetchOne(ctx context.Context, collection string, filters ...Filter) (row Row, err error) {
	err = t.call(ctx, "fetch_one", collection, func(ctx context.Context) error {
		row, err = t.next.FetchOne(ctx, collection, filters...)
		return err
	})
	return row, err
}

func (t *timeoutRepository) FetchMany(ctx context.Context, collection string, q Query) (rows []Row, err error) {
	err = t.call(ctx, "fetch_many", collection, func(ctx context.Context) error {
		rows, err = t.next.FetchMany(ctx, collection, q)
		return err
	})
	return rows, err
}

func (t *timeoutRepository) Insert(ctx context.Context, collection string, row Row) (out Row, err error) {
	err = t.call(ctx, "insert", collection, func(ctx context.Context) error {
		out, err = t.next.Insert(ctx, collection, row)
		return err
	})
	return out, err
}

func (t *timeoutRepository) Update(ctx context.Context, collection, id string, patch Row) error {
	return t.call(ctx, "update", collection, func(ctx context.Context) error {
		return t.next.Update(ctx, collection, id, patch)
	})
}

func (t *timeoutRepository) UpdateMany(ctx context.Context, collection string, patch Row, filters ...Filter) (n int64, err error) {
	err = t.call(ctx, "update_many", collection, func(ctx context.Context) error {
		n, err = t.next.UpdateMany(ctx, collection, patch, filters...)
		return err
	})
	return n, err
}

func (t *timeoutRepository) Upsert(ctx context.Context, collection string, row Row) (out Row, err error) {
	err = t.call(ctx, "upsert", collection, func(ctx context.Context) error {
		out, err = t.next.Upsert(ctx, collection, row)
		return err
	})
	return out, err
}

func (t *timeoutRepository) DeleteOne(ctx context.Context, collection, id string) error {
	return t.call(ctx, "delete_one", collection, func(ctx context.Context) error {
		return t.next.DeleteOne(ctx, collection, id)
	})
}

func (t *timeoutRepository) DeleteMany(ctx context.Context, collection string, ids []string) error {
	return t.call(ctx, "delete_many", collection, func(ctx context.Context) error {
		return t.next.DeleteMany(ctx, collection, ids)
	})
}

func (t *timeoutRepository) Count(ctx context.Context, collection string) (n int, err error) {
	err = t.call(ctx, "count", collection, func(ctx context.Context) error {
		n, err = t.next.Count(ctx, collection)
		return err
	})
	return n, err
}
