// Package events turns extraction results into PRICE_RESULT_RECORDED events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/shop-price-scraper/internal/database"
	"github.com/maltedev/shop-price-scraper/internal/models"
)

type EventType string

const (
	EventTypePriceResultRecorded EventType = "PRICE_RESULT_RECORDED"

	aggregateType = "price_result"
	source        = "price-scraper"
)

// PriceResultPayload is the event body consumers read from the stream.
type PriceResultPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	URL       string    `json:"url"`
	Site      string    `json:"site"`
	Origin    string    `json:"origin"`
	Title     string    `json:"title,omitempty"`
	Price     *Price    `json:"price,omitempty"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	Source    string    `json:"source"`
}

type Price struct {
	Display string `json:"display"`
	// Amount is every digit of Display read as one integer, so "₹1,299.00"
	// carries 129900 and "₹1,299" carries 1299.
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewPayload builds the event for one result.
func NewPayload(runID string, r models.ExtractionResult) *PriceResultPayload {
	payload := &PriceResultPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypePriceResultRecorded),
		Timestamp: r.ScrapedAt,
		RunID:     runID,
		URL:       r.Target.URL,
		Site:      r.Target.Site.String(),
		Origin:    string(r.Target.Origin),
		Title:     r.Title,
		Status:    string(r.Status),
		ErrorKind: r.ErrorKind.String(),
		Strategy:  r.Strategy,
		Source:    source,
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if amount, err := r.Price.Value(); err == nil {
		payload.Price = &Price{Display: r.Price.String(), Amount: amount, Currency: "INR"}
	}
	return payload
}

// ResultStore persists a result row and its outbox event atomically.
type ResultStore interface {
	SaveResult(ctx context.Context, row *database.ResultRow, event *database.OutboxEvent) error
}

// Publisher stores every result in Postgres and queues its event in the
// transactional outbox. The relay moves queued events to Redis.
type Publisher struct {
	store  ResultStore
	runID  string
	stream string
	logger *slog.Logger
}

func NewPublisher(store ResultStore, runID, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		store:  store,
		runID:  runID,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) Name() string { return "postgres" }

func (p *Publisher) Record(ctx context.Context, result models.ExtractionResult) error {
	payload := NewPayload(p.runID, result)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	row := database.NewResultRow(p.runID, result)
	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   result.Target.URL,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}

	if err := p.store.SaveResult(ctx, &row, outboxEvent); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published to outbox",
		"event_id", payload.EventID,
		"url", payload.URL,
		"outbox_id", outboxEvent.ID,
	)
	return nil
}

func (p *Publisher) Close() error { return nil }

// StreamClient is the part of the redis client the stream publisher needs.
type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher writes events straight to a Redis stream. It is used when
// no database is configured.
type StreamPublisher struct {
	client StreamClient
	runID  string
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewStreamPublisher(client StreamClient, runID, stream string, maxLen int64, logger *slog.Logger) *StreamPublisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &StreamPublisher{
		client: client,
		runID:  runID,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "stream_publisher"),
	}
}

func (p *StreamPublisher) Name() string { return "redis" }

func (p *StreamPublisher) Record(ctx context.Context, result models.ExtractionResult) error {
	payload := NewPayload(p.runID, result)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: map[string]interface{}{
			"data":         string(data),
			"type":         payload.EventType,
			"event_type":   payload.EventType,
			"original_id":  payload.EventID,
			"aggregate_id": payload.URL,
			"timestamp":    fmt.Sprintf("%d", payload.Timestamp.UnixNano()),
		},
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Debug("event published to stream", "stream", p.stream, "id", id, "url", payload.URL)
	return nil
}

func (p *StreamPublisher) Close() error { return nil }
