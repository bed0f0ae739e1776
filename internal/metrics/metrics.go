// Package metrics holds the Prometheus collectors shared by the repository,
// cache and admin layers.
package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// Repository
	RepoCalls   *prometheus.CounterVec
	RepoLatency *prometheus.HistogramVec

	// Query cache
	CacheLookups       *prometheus.CounterVec
	CacheFetches       *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	// Admin
	Saves            *prometheus.CounterVec
	BulkActions      *prometheus.CounterVec
	ActiveWorkspaces prometheus.Gauge

	// Public forms
	Submissions *prometheus.CounterVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RepoCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_repository_calls_total",
				Help: "Repository calls by collection, operation and outcome",
			},
			[]string{"collection", "op", "outcome"},
		),
		RepoLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portfolio_repository_latency_seconds",
				Help:    "Repository call latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"collection", "op"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_cache_lookups_total",
				Help: "Query cache lookups by result (hit or miss)",
			},
			[]string{"domain", "collection", "result"},
		),
		CacheFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_cache_fetches_total",
				Help: "Backend fetches issued by the query cache",
			},
			[]string{"domain", "collection", "outcome"},
		),
		CacheInvalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_cache_invalidations_total",
				Help: "Cache invalidations by origin (local or remote)",
			},
			[]string{"domain", "collection", "origin"},
		),
		Saves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_editor_saves_total",
				Help: "Editor saves by collection and outcome",
			},
			[]string{"collection", "outcome"},
		),
		BulkActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_bulk_actions_total",
				Help: "Bulk delete and duplicate actions by outcome",
			},
			[]string{"collection", "action", "outcome"},
		),
		ActiveWorkspaces: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "portfolio_admin_workspaces",
				Help: "Admin workspaces currently held in memory",
			},
		),
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_public_submissions_total",
				Help: "Newsletter and contact submissions by outcome",
			},
			[]string{"form", "outcome"},
		),
	}
}

// Outcome maps an error to the outcome label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler exposes g in the Prometheus text format.
func Handler(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
