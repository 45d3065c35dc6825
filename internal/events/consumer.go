package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// GroupClient is the part of the redis client a consumer group reader needs.
type GroupClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Handler is called once per decoded result event. A returned error leaves
// the message unacknowledged.
type Handler func(ctx context.Context, payload *PriceResultPayload) error

type ConsumerConfig struct {
	Stream string
	Group  string
	Name   string
	Block  time.Duration
	Count  int64
}

// Consumer reads result events from a stream through a consumer group.
type Consumer struct {
	client  GroupClient
	config  ConsumerConfig
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(client GroupClient, config ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	if config.Group == "" {
		config.Group = "price-watchers"
	}
	if config.Name == "" {
		config.Name = "watcher-1"
	}
	if config.Block <= 0 {
		config.Block = 5 * time.Second
	}
	if config.Count <= 0 {
		config.Count = 10
	}
	return &Consumer{
		client:  client,
		config:  config,
		handler: handler,
		logger:  logger.With("component", "stream_consumer"),
	}
}

// Run reads until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.logger.Info("starting consumer", "stream", c.config.Stream, "group", c.config.Group)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Poll reads one batch and returns the number of acknowledged messages.
// Messages the handler rejects stay pending; undecodable ones are acked.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.Group,
		Consumer: c.config.Name,
		Streams:  []string{c.config.Stream, ">"},
		Count:    c.config.Count,
		Block:    c.config.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	acked := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			payload, ok, err := DecodeMessage(message)
			switch {
			case err != nil:
				// A malformed entry never decodes on redelivery.
				c.logger.Warn("dropping undecodable message", "id", message.ID, "error", err)
			case ok:
				if err := c.handler(ctx, payload); err != nil {
					c.logger.Error("failed to process message", "id", message.ID, "error", err)
					continue
				}
			}
			if err := c.client.XAck(ctx, c.config.Stream, c.config.Group, message.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
				continue
			}
			acked++
		}
	}
	return acked, nil
}

// DecodeMessage extracts the result payload from a stream entry. Entries
// written by the outbox relay wrap it in an envelope, entries written
// directly do not. ok is false for other event types.
func DecodeMessage(msg redis.XMessage) (payload *PriceResultPayload, ok bool, err error) {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(EventTypePriceResultRecorded) {
		return nil, false, nil
	}

	data, isString := msg.Values["data"].(string)
	if !isString {
		return nil, false, fmt.Errorf("missing data in event %s", msg.ID)
	}

	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, false, fmt.Errorf("failed to parse event %s: %w", msg.ID, err)
	}

	raw := []byte(data)
	if len(envelope.Payload) > 0 {
		raw = envelope.Payload
	}

	payload = &PriceResultPayload{}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, false, fmt.Errorf("failed to parse payload of %s: %w", msg.ID, err)
	}
	if payload.URL == "" {
		return nil, false, fmt.Errorf("event %s has no url", msg.ID)
	}
	return payload, true, nil
}
