package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for one scraper process. All methods
// are no-ops on a nil receiver.
type Metrics struct {
	Registry           *prometheus.Registry
	TargetsTotal       *prometheus.CounterVec
	NavigationDuration prometheus.Histogram
	StrategyHits       *prometheus.CounterVec
	PacingDelay        prometheus.Histogram
	SinkErrors         *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	targets := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_scraper_targets_total",
			Help: "Targets processed, by site, status and error kind.",
		},
		[]string{"site", "status", "error_kind"},
	)
	navigation := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "price_scraper_navigation_duration_seconds",
			Help:    "Time until a product page reached its wait policy.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	strategies := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_scraper_strategy_hits_total",
			Help: "Extraction strategies that contributed at least one field.",
		},
		[]string{"strategy"},
	)
	pacing := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "price_scraper_pacing_delay_seconds",
			Help:    "Delay applied before each product navigation.",
			Buckets: []float64{0.5, 1, 1.5, 2, 3, 4, 5},
		},
	)
	sinkErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_scraper_sink_errors_total",
			Help: "Failed writes per result sink.",
		},
		[]string{"sink"},
	)

	registry.MustRegister(targets, navigation, strategies, pacing, sinkErrors)

	return &Metrics{
		Registry:           registry,
		TargetsTotal:       targets,
		NavigationDuration: navigation,
		StrategyHits:       strategies,
		PacingDelay:        pacing,
		SinkErrors:         sinkErrors,
	}
}

func (m *Metrics) IncTarget(site, status, errorKind string) {
	if m == nil {
		return
	}
	m.TargetsTotal.WithLabelValues(site, status, errorKind).Inc()
}

func (m *Metrics) ObserveNavigation(d time.Duration) {
	if m == nil {
		return
	}
	m.NavigationDuration.Observe(d.Seconds())
}

func (m *Metrics) IncStrategy(name string) {
	if m == nil {
		return
	}
	m.StrategyHits.WithLabelValues(name).Inc()
}

func (m *Metrics) ObservePacing(d time.Duration) {
	if m == nil {
		return
	}
	m.PacingDelay.Observe(d.Seconds())
}

func (m *Metrics) IncSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}
