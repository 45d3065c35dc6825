package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGroupClient struct {
	mock.Mock
}

func (m *MockGroupClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	return redis.NewStatusResult("OK", args.Error(0))
}

func (m *MockGroupClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	streams, _ := args.Get(0).([]redis.XStream)
	return redis.NewXStreamSliceCmdResult(streams, args.Error(1))
}

func (m *MockGroupClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	return redis.NewIntResult(int64(len(ids)), args.Error(0))
}

func directMessage(t *testing.T, id string) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(NewPayload("run-1", widget))
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]interface{}{
		"event_type": "PRICE_RESULT_RECORDED",
		"data":       string(data),
	}}
}

func relayedMessage(t *testing.T, id string) redis.XMessage {
	t.Helper()
	payload, err := json.Marshal(NewPayload("run-2", widget))
	require.NoError(t, err)
	envelope, err := json.Marshal(map[string]interface{}{
		"id":      "outbox-1",
		"type":    "PRICE_RESULT_RECORDED",
		"payload": json.RawMessage(payload),
	})
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]interface{}{
		"event_type": "PRICE_RESULT_RECORDED",
		"data":       string(envelope),
	}}
}

func TestDecodeMessage(t *testing.T) {
	t.Run("direct entry", func(t *testing.T) {
		payload, ok, err := DecodeMessage(directMessage(t, "1-0"))

		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "run-1", payload.RunID)
		assert.Equal(t, widget.Target.URL, payload.URL)
		assert.Equal(t, int64(499), payload.Price.Amount)
	})

	t.Run("relayed entry", func(t *testing.T) {
		payload, ok, err := DecodeMessage(relayedMessage(t, "2-0"))

		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "run-2", payload.RunID)
		assert.Equal(t, "Widget", payload.Title)
	})

	t.Run("other event type", func(t *testing.T) {
		_, ok, err := DecodeMessage(redis.XMessage{ID: "3-0", Values: map[string]interface{}{"event_type": "NEW_PRODUCT_DETECTED"}})

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("broken data", func(t *testing.T) {
		_, _, err := DecodeMessage(redis.XMessage{ID: "4-0", Values: map[string]interface{}{
			"event_type": "PRICE_RESULT_RECORDED",
			"data":       "{",
		}})

		assert.Error(t, err)
	})
}

func TestConsumerPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("handles and acknowledges messages", func(t *testing.T) {
		client := new(MockGroupClient)
		var seen []string
		consumer := NewConsumer(client, ConsumerConfig{Stream: "stream:prices"}, func(ctx context.Context, p *PriceResultPayload) error {
			seen = append(seen, p.RunID)
			return nil
		}, testLogger())

		client.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
			return a.Group == "price-watchers" && a.Streams[0] == "stream:prices" && a.Streams[1] == ">"
		})).Return([]redis.XStream{{
			Stream:   "stream:prices",
			Messages: []redis.XMessage{directMessage(t, "1-0"), relayedMessage(t, "2-0")},
		}}, nil)
		client.On("XAck", ctx, "stream:prices", "price-watchers", []string{"1-0"}).Return(nil)
		client.On("XAck", ctx, "stream:prices", "price-watchers", []string{"2-0"}).Return(nil)

		acked, err := consumer.Poll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, acked)
		assert.Equal(t, []string{"run-1", "run-2"}, seen)
		client.AssertExpectations(t)
	})

	t.Run("handler failure leaves message pending", func(t *testing.T) {
		client := new(MockGroupClient)
		consumer := NewConsumer(client, ConsumerConfig{Stream: "stream:prices"}, func(ctx context.Context, p *PriceResultPayload) error {
			return errors.New("downstream unavailable")
		}, testLogger())

		client.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{
			Stream:   "stream:prices",
			Messages: []redis.XMessage{directMessage(t, "1-0")},
		}}, nil)

		acked, err := consumer.Poll(ctx)

		require.NoError(t, err)
		assert.Zero(t, acked)
		client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("undecodable message is acknowledged and dropped", func(t *testing.T) {
		client := new(MockGroupClient)
		var seen []string
		consumer := NewConsumer(client, ConsumerConfig{Stream: "stream:prices"}, func(ctx context.Context, p *PriceResultPayload) error {
			seen = append(seen, p.RunID)
			return nil
		}, testLogger())

		broken := redis.XMessage{ID: "4-0", Values: map[string]interface{}{
			"event_type": "PRICE_RESULT_RECORDED",
			"data":       "{not json",
		}}
		client.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{
			Stream:   "stream:prices",
			Messages: []redis.XMessage{broken, directMessage(t, "5-0")},
		}}, nil)
		client.On("XAck", ctx, "stream:prices", "price-watchers", []string{"4-0"}).Return(nil)
		client.On("XAck", ctx, "stream:prices", "price-watchers", []string{"5-0"}).Return(nil)

		acked, err := consumer.Poll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, acked)
		assert.Equal(t, []string{"run-1"}, seen)
		client.AssertExpectations(t)
	})

	t.Run("empty block is not an error", func(t *testing.T) {
		client := new(MockGroupClient)
		consumer := NewConsumer(client, ConsumerConfig{Stream: "stream:prices"}, nil, testLogger())
		client.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)

		acked, err := consumer.Poll(ctx)

		require.NoError(t, err)
		assert.Zero(t, acked)
	})
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := new(MockGroupClient)
	consumer := NewConsumer(client, ConsumerConfig{Stream: "stream:prices"}, nil, testLogger())

	client.On("XGroupCreateMkStream", ctx, "stream:prices", "price-watchers", "0").
		Return(errors.New("BUSYGROUP Consumer Group name already exists"))
	client.On("XReadGroup", ctx, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(nil, redis.Nil)

	err := consumer.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsumerRunGroupError(t *testing.T) {
	client := new(MockGroupClient)
	consumer := NewConsumer(client, ConsumerConfig{Stream: "stream:prices"}, nil, testLogger())
	client.On("XGroupCreateMkStream", mock.Anything, "stream:prices", "price-watchers", "0").Return(errors.New("NOAUTH"))

	assert.ErrorContains(t, consumer.Run(context.Background()), "NOAUTH")
}
