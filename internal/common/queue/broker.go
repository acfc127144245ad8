// Package queue implements at-least-once message queues on Redis lists.
//
// Each queue name maps to a small group of keys:
//
//	queue:<name>                      pending messages (FIFO)
//	queue:<name>:inflight             received, not yet settled
//	queue:<name>:deliveries           delivery count per message id
//	queue:<name>:deadletter           dead-letter sub-queue
//	queue:<name>:deadletter:inflight  dead-lettered messages being drained
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SubQueue selects the primary queue or its dead-letter sub-queue.
type SubQueue string

const (
	SubQueueNone       SubQueue = ""
	SubQueueDeadLetter SubQueue = "deadletter"
)

const (
	defaultMaxDeliveries = 10
	defaultPollInterval  = 250 * time.Millisecond

	// ReasonMaxDeliveries is recorded when a message exhausts its deliveries.
	ReasonMaxDeliveries = "MaxDeliveryCountExceeded"
)

var ErrEmptyQueueName = errors.New("queue name is required")

// Envelope is the stored form of a message.
type Envelope struct {
	ID               string    `json:"id"`
	Body             string    `json:"body"`
	EnqueuedAt       time.Time `json:"enqueuedAt"`
	DeadLetterReason string    `json:"deadLetterReason,omitempty"`
}

// Delivery is one received message. It must be settled with Complete,
// Abandon, DeadLetter or Release.
type Delivery struct {
	ID               string
	Body             []byte
	Queue            string
	SubQueue         SubQueue
	DeliveryCount    int
	EnqueuedAt       time.Time
	DeadLetterReason string

	raw string
}

// RedisBroker moves messages between the Redis lists of each queue.
type RedisBroker struct {
	client        redis.UniversalClient
	maxDeliveries int
	pollInterval  time.Duration
	logger        logger.Logger
	now           func() time.Time
}

type BrokerOption func(*RedisBroker)

// WithMaxDeliveries sets the delivery count at which Abandon dead-letters.
func WithMaxDeliveries(n int) BrokerOption {
	return func(b *RedisBroker) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithPollInterval sets how often an empty queue is polled during Receive.
func WithPollInterval(d time.Duration) BrokerOption {
	return func(b *RedisBroker) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

func NewRedisBroker(client redis.UniversalClient, log logger.Logger, opts ...BrokerOption) *RedisBroker {
	b := &RedisBroker{
		client:        client,
		maxDeliveries: defaultMaxDeliveries,
		pollInterval:  defaultPollInterval,
		logger:        log.WithFields(map[string]interface{}{"component": "queue"}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func pendingKey(queue string, sub SubQueue) string {
	if sub == SubQueueDeadLetter {
		return "queue:" + queue + ":deadletter"
	}
	return "queue:" + queue
}

func inflightKey(queue string, sub SubQueue) string {
	return pendingKey(queue, sub) + ":inflight"
}

func deliveriesKey(queue string) string {
	return "queue:" + queue + ":deliveries"
}

// Send enqueues body on queue and returns the new message id.
func (b *RedisBroker) Send(ctx context.Context, queue string, body []byte) (string, error) {
	if queue == "" {
		return "", apperrors.NewQueueSendFailedError(queue, ErrEmptyQueueName)
	}

	env := Envelope{
		ID:         uuid.New().String(),
		Body:       string(body),
		EnqueuedAt: b.now().UTC(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", apperrors.NewQueueSendFailedError(queue, err)
	}

	if err := b.client.RPush(ctx, pendingKey(queue, SubQueueNone), raw).Err(); err != nil {
		return "", apperrors.NewQueueSendFailedError(queue, err)
	}
	return env.ID, nil
}

// Receive takes up to max messages, waiting at most wait for the first one.
// An empty result with a nil error means the queue stayed empty.
func (b *RedisBroker) Receive(ctx context.Context, queue string, sub SubQueue, max int, wait time.Duration) ([]*Delivery, error) {
	if queue == "" {
		return nil, apperrors.NewQueueReceiveFailedError(queue, ErrEmptyQueueName)
	}
	if max <= 0 {
		max = 1
	}

	src, dst := pendingKey(queue, sub), inflightKey(queue, sub)
	deadline := b.now().Add(wait)
	var out []*Delivery

	for len(out) < max {
		raw, err := b.client.LMove(ctx, src, dst, "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			if len(out) > 0 || !b.now().Before(deadline) {
				return out, nil
			}
			if err := sleep(ctx, b.pollInterval); err != nil {
				return out, err
			}
			continue
		}
		if err != nil {
			return out, apperrors.NewQueueReceiveFailedError(queue, err)
		}

		d, err := b.delivery(ctx, queue, sub, raw)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (b *RedisBroker) delivery(ctx context.Context, queue string, sub SubQueue, raw string) (*Delivery, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.ID == "" {
		// foreign producer: treat the whole value as the body
		env = Envelope{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(raw)).String(), Body: raw}
	}

	d := &Delivery{
		ID:               env.ID,
		Body:             []byte(env.Body),
		Queue:            queue,
		SubQueue:         sub,
		DeliveryCount:    1,
		EnqueuedAt:       env.EnqueuedAt,
		DeadLetterReason: env.DeadLetterReason,
		raw:              raw,
	}

	if sub == SubQueueNone {
		count, err := b.client.HIncrBy(ctx, deliveriesKey(queue), env.ID, 1).Result()
		if err != nil {
			return nil, apperrors.NewQueueReceiveFailedError(queue, err)
		}
		d.DeliveryCount = int(count)
	}
	return d, nil
}

// Complete removes a settled message for good.
func (b *RedisBroker) Complete(ctx context.Context, d *Delivery) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, inflightKey(d.Queue, d.SubQueue), 1, d.raw)
		if d.SubQueue == SubQueueNone {
			pipe.HDel(ctx, deliveriesKey(d.Queue), d.ID)
		}
		return nil
	})
	if err != nil {
		return apperrors.NewQueueSendFailedError(d.Queue, fmt.Errorf("complete %s: %w", d.ID, err))
	}
	return nil
}

// Abandon returns a message for redelivery. Once the delivery count reaches
// the broker's max deliveries the message is dead-lettered instead.
func (b *RedisBroker) Abandon(ctx context.Context, d *Delivery) error {
	if d.SubQueue == SubQueueNone && d.DeliveryCount >= b.maxDeliveries {
		return b.DeadLetter(ctx, d, ReasonMaxDeliveries)
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, inflightKey(d.Queue, d.SubQueue), 1, d.raw)
		pipe.RPush(ctx, pendingKey(d.Queue, d.SubQueue), d.raw)
		return nil
	})
	if err != nil {
		return apperrors.NewQueueSendFailedError(d.Queue, fmt.Errorf("abandon %s: %w", d.ID, err))
	}
	return nil
}

// Release puts a message back at the head of its queue without counting the
// delivery. It is used when processing was interrupted by shutdown.
func (b *RedisBroker) Release(ctx context.Context, d *Delivery) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, inflightKey(d.Queue, d.SubQueue), 1, d.raw)
		pipe.LPush(ctx, pendingKey(d.Queue, d.SubQueue), d.raw)
		if d.SubQueue == SubQueueNone {
			pipe.HIncrBy(ctx, deliveriesKey(d.Queue), d.ID, -1)
		}
		return nil
	})
	if err != nil {
		return apperrors.NewQueueSendFailedError(d.Queue, fmt.Errorf("release %s: %w", d.ID, err))
	}
	return nil
}

// DeadLetter moves a message to the dead-letter sub-queue with reason.
func (b *RedisBroker) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	if d.SubQueue == SubQueueDeadLetter {
		return b.Abandon(ctx, d)
	}

	raw, err := json.Marshal(Envelope{
		ID:               d.ID,
		Body:             string(d.Body),
		EnqueuedAt:       d.EnqueuedAt,
		DeadLetterReason: reason,
	})
	if err != nil {
		return apperrors.NewQueueSendFailedError(d.Queue, err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, inflightKey(d.Queue, SubQueueNone), 1, d.raw)
		pipe.RPush(ctx, pendingKey(d.Queue, SubQueueDeadLetter), raw)
		pipe.HDel(ctx, deliveriesKey(d.Queue), d.ID)
		return nil
	})
	if err != nil {
		return apperrors.NewQueueSendFailedError(d.Queue, fmt.Errorf("dead-letter %s: %w", d.ID, err))
	}

	metrics.DeadLetters.WithLabelValues(d.Queue, "dead_lettered").Inc()
	b.logger.Warn("Message dead-lettered", map[string]interface{}{
		"queue":         d.Queue,
		"messageId":     d.ID,
		"deliveryCount": d.DeliveryCount,
		"reason":        reason,
	})
	return nil
}

// Length returns the number of pending messages.
func (b *RedisBroker) Length(ctx context.Context, queue string, sub SubQueue) (int64, error) {
	n, err := b.client.LLen(ctx, pendingKey(queue, sub)).Result()
	if err != nil {
		return 0, apperrors.NewQueueReceiveFailedError(queue, err)
	}
	return n, nil
}

// RestoreInflight moves messages left in flight by a previous process back
// to the head of their queues and returns how many were moved.
func (b *RedisBroker) RestoreInflight(ctx context.Context, queue string) (int, error) {
	restored := 0
	for _, sub := range []SubQueue{SubQueueNone, SubQueueDeadLetter} {
		for {
			_, err := b.client.LMove(ctx, inflightKey(queue, sub), pendingKey(queue, sub), "RIGHT", "LEFT").Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return restored, apperrors.NewQueueReceiveFailedError(queue, err)
			}
			restored++
		}
	}

	if restored > 0 {
		b.logger.Info("Restored in-flight messages", map[string]interface{}{"queue": queue, "count": restored})
	}
	return restored, nil
}

// Ping checks the Redis connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
