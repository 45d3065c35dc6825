// Package storage persists extraction results as they are produced.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maltedev/shop-price-scraper/internal/metrics"
	"github.com/maltedev/shop-price-scraper/internal/models"
)

// RecordSink receives result rows. Only results carrying a title or a price
// are written to it.
type RecordSink interface {
	Name() string
	Write(ctx context.Context, result models.ExtractionResult) error
	Close() error
}

// Recorder receives every result, failures included.
type Recorder interface {
	Name() string
	Record(ctx context.Context, result models.ExtractionResult) error
	Close() error
}

type CollectorOption func(*Collector)

func WithRecordSink(s RecordSink) CollectorOption {
	return func(c *Collector) {
		c.sinks = append(c.sinks, s)
	}
}

func WithRecorder(r Recorder) CollectorOption {
	return func(c *Collector) {
		c.recorders = append(c.recorders, r)
	}
}

// Collector keeps every result of a run in processing order and forwards it
// to the configured sinks right away.
type Collector struct {
	mu        sync.RWMutex
	results   []models.ExtractionResult
	sinks     []RecordSink
	recorders []Recorder
	metrics   *metrics.Metrics
}

func NewCollector(m *metrics.Metrics, opts ...CollectorOption) *Collector {
	c := &Collector{
		results: make([]models.ExtractionResult, 0),
		metrics: m,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add records result. Sink failures are counted and returned joined; the
// result is kept in memory either way.
func (c *Collector) Add(ctx context.Context, result models.ExtractionResult) error {
	c.mu.Lock()
	c.results = append(c.results, result)
	c.mu.Unlock()

	var errs []error
	for _, r := range c.recorders {
		if err := r.Record(ctx, result); err != nil {
			c.metrics.IncSinkError(r.Name())
			errs = append(errs, fmt.Errorf("%s sink: %w", r.Name(), err))
		}
	}

	if result.HasData() {
		for _, sink := range c.sinks {
			if err := sink.Write(ctx, result); err != nil {
				c.metrics.IncSinkError(sink.Name())
				errs = append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Results returns a copy of everything recorded so far.
func (c *Collector) Results() []models.ExtractionResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ExtractionResult, len(c.results))
	copy(out, c.results)
	return out
}

func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

func (c *Collector) Close() error {
	var errs []error
	for _, sink := range c.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", sink.Name(), err))
		}
	}
	for _, r := range c.recorders {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}
