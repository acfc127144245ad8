package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConsumer(t *testing.T, c *Consumer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Queue:       "q-raw-events",
		Stage:       "enrich",
		Concurrency: 2,
		Timeout:     time.Second,
		ReceiveWait: 20 * time.Millisecond,
	}
}

func TestConsumer_CompletesOnSuccess(t *testing.T) {
	b, client := newTestBroker(t)
	ctx := context.Background()

	var handled atomic.Int32
	c := NewConsumer(b, testConsumerConfig(), HandlerFunc(func(ctx context.Context, d *Delivery) error {
		handled.Add(1)
		return nil
	}), nil, logger.NewTestLogger(t))

	for i := 0; i < 3; i++ {
		_, err := b.Send(ctx, "q-raw-events", []byte(`{}`))
		require.NoError(t, err)
	}

	stop := runConsumer(t, c)
	assert.Eventually(t, func() bool { return handled.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	stop()

	assert.Zero(t, client.LLen(ctx, "queue:q-raw-events:inflight").Val())
	assert.Zero(t, client.HLen(ctx, "queue:q-raw-events:deliveries").Val())
}

func TestConsumer_NonRetryableErrorDeadLetters(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	c := NewConsumer(b, testConsumerConfig(), HandlerFunc(func(ctx context.Context, d *Delivery) error {
		return apperrors.NewInvalidAgentResponseError("lac-weak-signals", errors.New("not json"))
	}), nil, logger.NewTestLogger(t))

	_, err := b.Send(ctx, "q-raw-events", []byte(`{"id":"x"}`))
	require.NoError(t, err)

	stop := runConsumer(t, c)
	assert.Eventually(t, func() bool {
		n, _ := b.Length(ctx, "q-raw-events", SubQueueDeadLetter)
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
	stop()

	d := receiveOne(t, b, "q-raw-events", SubQueueDeadLetter)
	assert.Contains(t, d.DeadLetterReason, "INVALID_AGENT_RESPONSE")
}

func TestConsumer_RetryableErrorIsRedelivered(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	var calls atomic.Int32
	var lastCount atomic.Int32
	c := NewConsumer(b, testConsumerConfig(), HandlerFunc(func(ctx context.Context, d *Delivery) error {
		lastCount.Store(int32(d.DeliveryCount))
		if calls.Add(1) == 1 {
			return apperrors.NewIndexOperationFailedError("upsert", errors.New("503"))
		}
		return nil
	}), nil, logger.NewTestLogger(t))

	_, err := b.Send(ctx, "q-raw-events", []byte(`{}`))
	require.NoError(t, err)

	stop := runConsumer(t, c)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	stop()

	assert.EqualValues(t, 2, lastCount.Load())
	dead, _ := b.Length(ctx, "q-raw-events", SubQueueDeadLetter)
	assert.Zero(t, dead)
}

func TestConsumer_HandlerTimeoutIsRedelivered(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	cfg := testConsumerConfig()
	cfg.Concurrency = 1
	cfg.Timeout = 30 * time.Millisecond

	var calls atomic.Int32
	c := NewConsumer(b, cfg, HandlerFunc(func(ctx context.Context, d *Delivery) error {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}), nil, logger.NewTestLogger(t))

	_, err := b.Send(ctx, "q-raw-events", []byte(`{}`))
	require.NoError(t, err)

	stop := runConsumer(t, c)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	stop()

	dead, _ := b.Length(ctx, "q-raw-events", SubQueueDeadLetter)
	assert.Zero(t, dead)
}

func TestConsumer_ShutdownReleasesMessage(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	started := make(chan struct{})
	c := NewConsumer(b, testConsumerConfig(), HandlerFunc(func(ctx context.Context, d *Delivery) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), nil, logger.NewTestLogger(t))

	_, err := b.Send(ctx, "q-raw-events", []byte(`{}`))
	require.NoError(t, err)

	stop := runConsumer(t, c)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	stop()

	d := receiveOne(t, b, "q-raw-events", SubQueueNone)
	assert.Equal(t, 1, d.DeliveryCount)
}
