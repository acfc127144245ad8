package queue

import (
	"context"
	"testing"
	"time"

	"feedly-pipeline/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, opts ...BrokerOption) (*RedisBroker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	opts = append([]BrokerOption{WithPollInterval(5 * time.Millisecond)}, opts...)
	return NewRedisBroker(client, logger.NewTestLogger(t), opts...), client
}

func receiveOne(t *testing.T, b *RedisBroker, queue string, sub SubQueue) *Delivery {
	t.Helper()
	ds, err := b.Receive(context.Background(), queue, sub, 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	return ds[0]
}

func TestBroker_SendReceiveComplete(t *testing.T) {
	b, client := newTestBroker(t)
	ctx := context.Background()

	id1, err := b.Send(ctx, "q-raw-events", []byte(`{"id":"a"}`))
	require.NoError(t, err)
	_, err = b.Send(ctx, "q-raw-events", []byte(`{"id":"b"}`))
	require.NoError(t, err)

	ds, err := b.Receive(ctx, "q-raw-events", SubQueueNone, 10, 0)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, id1, ds[0].ID)
	assert.JSONEq(t, `{"id":"a"}`, string(ds[0].Body))
	assert.Equal(t, 1, ds[0].DeliveryCount)
	assert.False(t, ds[0].EnqueuedAt.IsZero())

	assert.EqualValues(t, 2, client.LLen(ctx, "queue:q-raw-events:inflight").Val())

	require.NoError(t, b.Complete(ctx, ds[0]))
	assert.EqualValues(t, 1, client.LLen(ctx, "queue:q-raw-events:inflight").Val())
	assert.False(t, client.HExists(ctx, "queue:q-raw-events:deliveries", id1).Val())

	n, err := b.Length(ctx, "q-raw-events", SubQueueNone)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBroker_ReceiveEmptyQueueWaits(t *testing.T) {
	b, _ := newTestBroker(t)

	start := time.Now()
	ds, err := b.Receive(context.Background(), "q-raw-events", SubQueueNone, 5, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ds)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestBroker_ReceiveHonoursCancellation(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Receive(ctx, "q-raw-events", SubQueueNone, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBroker_AbandonCountsDeliveries(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	_, err := b.Send(ctx, "q", []byte("x"))
	require.NoError(t, err)

	d := receiveOne(t, b, "q", SubQueueNone)
	assert.Equal(t, 1, d.DeliveryCount)
	require.NoError(t, b.Abandon(ctx, d))

	d = receiveOne(t, b, "q", SubQueueNone)
	assert.Equal(t, 2, d.DeliveryCount)
}

func TestBroker_AbandonDeadLettersAtMaxDeliveries(t *testing.T) {
	b, _ := newTestBroker(t, WithMaxDeliveries(2))
	ctx := context.Background()
	_, err := b.Send(ctx, "q", []byte(`{"title":"t"}`))
	require.NoError(t, err)

	require.NoError(t, b.Abandon(ctx, receiveOne(t, b, "q", SubQueueNone)))
	require.NoError(t, b.Abandon(ctx, receiveOne(t, b, "q", SubQueueNone)))

	main, _ := b.Length(ctx, "q", SubQueueNone)
	dead, _ := b.Length(ctx, "q", SubQueueDeadLetter)
	assert.Zero(t, main)
	assert.EqualValues(t, 1, dead)

	d := receiveOne(t, b, "q", SubQueueDeadLetter)
	assert.Equal(t, ReasonMaxDeliveries, d.DeadLetterReason)
	assert.JSONEq(t, `{"title":"t"}`, string(d.Body))

	require.NoError(t, b.Complete(ctx, d))
	dead, _ = b.Length(ctx, "q", SubQueueDeadLetter)
	assert.Zero(t, dead)
}

func TestBroker_ReleaseDoesNotCountDelivery(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	_, err := b.Send(ctx, "q", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, b.Release(ctx, receiveOne(t, b, "q", SubQueueNone)))
	assert.Equal(t, 1, receiveOne(t, b, "q", SubQueueNone).DeliveryCount)
}

func TestBroker_RestoreInflight(t *testing.T) {
	b, client := newTestBroker(t)
	ctx := context.Background()
	_, err := b.Send(ctx, "q", []byte("one"))
	require.NoError(t, err)
	_, err = b.Send(ctx, "q", []byte("two"))
	require.NoError(t, err)
	receiveOne(t, b, "q", SubQueueNone)

	restored, err := b.RestoreInflight(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Zero(t, client.LLen(ctx, "queue:q:inflight").Val())

	// the restored message is first in line again
	assert.Equal(t, "one", string(receiveOne(t, b, "q", SubQueueNone).Body))
}

func TestBroker_ForeignValueBecomesBody(t *testing.T) {
	b, client := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, client.RPush(ctx, "queue:q", `{"title":"pushed by hand"}`).Err())

	d := receiveOne(t, b, "q", SubQueueNone)
	assert.NotEmpty(t, d.ID)
	assert.JSONEq(t, `{"title":"pushed by hand"}`, string(d.Body))
	require.NoError(t, b.Complete(ctx, d))
}

func TestBroker_EmptyQueueName(t *testing.T) {
	b, _ := newTestBroker(t)

	_, err := b.Send(context.Background(), "", []byte("x"))
	assert.ErrorIs(t, err, ErrEmptyQueueName)
}
