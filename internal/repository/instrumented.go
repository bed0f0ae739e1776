package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"portfolio-cms/internal/metrics"
)

type instrumentedRepository struct {
	next    Repository
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Instrumented records latency and outcome of every call and logs
// failures. A not-found result counts as a success.
func Instrumented(next Repository, m *metrics.Metrics, logger zerolog.Logger) Repository {
	return &instrumentedRepository{
		next:    next,
		metrics: m,
		logger:  logger.With().Str("component", "repository").Logger(),
	}
}

func (r *instrumentedRepository) observe(op, collection string, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	r.metrics.RepoCalls.WithLabelValues(collection, op, outcome).Inc()
	r.metrics.RepoLatency.WithLabelValues(collection, op).Observe(elapsed.Seconds())

	if outcome == "error" {
		r.logger.Warn().Err(err).
			Str("collection", collection).
			Str("op", op).
			Str("kind", string(KindOf(err))).
			Dur("elapsed", elapsed).
			Msg("repository call failed")
		return
	}
	r.logger.Debug().
		Str("collection", collection).
		Str("op", op).
		Dur("elapsed", elapsed).
		Msg("repository call")
}

func (r *instrumentedRepository) FetchOne(ctx context.Context, collection string, filters ...Filter) (Row, error) {
	start := time.Now()
	row, err := r.next.FetchOne(ctx, collection, filters...)
	r.observe("fetch_one", collection, start, err)
	return row, err
}

func (r *instrumentedRepository) FetchMany(ctx context.Context, collection string, q Query) ([]Row, error) {
	start := time.Now()
	rows, err := r.next.FetchMany(ctx, collection, q)
	r.observe("fetch_many", collection, start, err)
	return rows, err
}

func (r *instrumentedRepository) Insert(ctx context.Context, collection string, row Row) (Row, error) {
	start := time.Now()
	out, err := r.next.Insert(ctx, collection, row)
	r.observe("insert", collection, start, err)
	return out, err
}

func (r *instrumentedRepository) Update(ctx context.Context, collection, id string, patch Row) error {
	start := time.Now()
	err := r.next.Update(ctx, collection, id, patch)
	r.observe("update", collection, start, err)
	return err
}

func (r *instrumentedRepository) UpdateMany(ctx context.Context, collection string, patch Row, filters ...Filter) (int64, error) {
	start := time.Now()
	n, err := r.next.UpdateMany(ctx, collection, patch, filters...)
	r.observe("update_many", collection, start, err)
	return n, err
}

func (r *instrumentedRepository) Upsert(ctx context.Context, collection string, row Row) (Row, error) {
	start := time.Now()
	out, err := r.next.Upsert(ctx, collection, row)
	r.observe("upsert", collection, start, err)
	return out, err
}

func (r *instrumentedRepository) DeleteOne(ctx context.Context, collection, id string) error {
	start := time.Now()
	err := r.next.DeleteOne(ctx, collection, id)
	r.observe("delete_one", collection, start, err)
	return err
}

func (r *instrumentedRepository) DeleteMany(ctx context.Context, collection string, ids []string) error {
	start := time.Now()
	err := r.next.DeleteMany(ctx, collection, ids)
	r.observe("delete_many", collection, start, err)
	return err
}

func (r *instrumentedRepository) Count(ctx context.Context, collection string) (int, error) {
	start := time.Now()
	n, err := r.next.Count(ctx, collection)
	r.observe("count", collection, start, err)
	return n, err
}
