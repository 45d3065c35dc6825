package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func priceEvent(url string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "price_result",
		AggregateID:   url,
		EventType:     "PRICE_RESULT_RECORDED",
		Payload:       json.RawMessage(`{"url":"` + url + `","price":"₹499","status":"success"}`),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Now(),
	}
}

func newTestRelay(r *MockRedisClient, o *MockOutboxRepository, batch int) *Relay {
	return &Relay{
		redis:     r,
		outbox:    o,
		logger:    testLogger(),
		interval:  50 * time.Millisecond,
		batchSize: batch,
	}
}

func TestRelay_ProcessEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and marks every event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		events := []*OutboxEvent{
			priceEvent("https://www.amazon.in/a/dp/B0AAAAAAA1"),
			priceEvent("https://www.croma.com/b/p/2"),
		}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				values, _ := args.Values.(map[string]interface{})
				return args.Stream == DefaultStream &&
					values["event_type"] == event.EventType &&
					values["aggregate_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		fetched, published, err := relay.processEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, fetched)
		assert.Equal(t, 2, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("marks event failed when redis rejects it", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		event := priceEvent("https://www.croma.com/b/p/2")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		_, published, err := relay.processEvents(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("empty batch does not touch redis", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		_, _, err := relay.processEvents(ctx)
		require.NoError(t, err)

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("outbox query failure is returned", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("connection refused"))

		_, _, err := relay.processEvents(ctx)
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestRelay_Drain(t *testing.T) {
	ctx := context.Background()

	t.Run("stops after a short batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 2)

		first := []*OutboxEvent{priceEvent("https://a.example/1"), priceEvent("https://a.example/2")}
		second := []*OutboxEvent{priceEvent("https://a.example/3")}
		mockOutbox.On("GetPending", ctx, 2).Return(first, nil).Once()
		mockOutbox.On("GetPending", ctx, 2).Return(second, nil).Once()
		mockRedis.On("XAdd", ctx, mock.Anything).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, mock.Anything).Return(nil)

		published, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, published)
		mockOutbox.AssertNumberOfCalls(t, "GetPending", 2)
	})

	t.Run("stops when a full batch fails", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 1)

		mockOutbox.On("GetPending", ctx, 1).Return([]*OutboxEvent{priceEvent("https://a.example/1")}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("down"))
		mockOutbox.On("MarkFailed", ctx, mock.Anything, mock.Anything).Return(nil)

		published, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, published)
		mockOutbox.AssertNumberOfCalls(t, "GetPending", 1)
	})
}

func TestRelay_PublishToRedis(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	relay := newTestRelay(mockRedis, new(MockOutboxRepository), 10)

	event := priceEvent("https://www.amazon.in/a/dp/B0AAAAAAA1")

	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		values, ok := args.Values.(map[string]interface{})
		if !ok {
			return false
		}
		val, ok := values["data"].(string)
		if !ok {
			return false
		}

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(val), &data); err != nil {
			return false
		}
		metadata, ok := data["metadata"].(map[string]interface{})
		if !ok {
			return false
		}
		payload, ok := data["payload"].(map[string]interface{})
		if !ok {
			return false
		}

		return data["type"] == "PRICE_RESULT_RECORDED" &&
			data["aggregate_type"] == "price_result" &&
			payload["price"] == "₹499" &&
			metadata["source"] == "price-scraper"
	})).Return(nil)

	require.NoError(t, relay.publishToRedis(ctx, event))
	mockRedis.AssertExpectations(t)
}

func TestRelay_StartStopsOnCancel(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(new(MockRedisClient), mockOutbox, 10)
	mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	status, at := nextAttempt(1, now)
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, now.Add(2*time.Second), at)

	status, at = nextAttempt(MaxRetryCount, now)
	assert.Equal(t, OutboxStatusDeadLetter, status)
	assert.Equal(t, now.Add(32*time.Second), at)

	_, at = nextAttempt(20, now)
	assert.Equal(t, now.Add(5*time.Minute), at)
}
