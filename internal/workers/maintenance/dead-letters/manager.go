// internal/workers/maintenance/dead-letters/manager.go
package deadletters

import (
	"context"
	"fmt"
	"time"

	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/metrics"
	"feedly-pipeline/internal/common/queue"
)

const (
	PurgeBatchSize  = 100
	DefaultWait     = 5 * time.Second
	DefaultDelay    = 10 * time.Second
	DefaultLimit    = 5
	actionPurged    = "purged"
	actionReprocess = "reprocessed"
)

// Broker is the subset of the queue broker used for dead-letter maintenance.
type Broker interface {
	Send(ctx context.Context, queue string, body []byte) (string, error)
	Receive(ctx context.Context, queue string, sub queue.SubQueue, max int, wait time.Duration) ([]*queue.Delivery, error)
	Complete(ctx context.Context, d *queue.Delivery) error
	Abandon(ctx context.Context, d *queue.Delivery) error
	Release(ctx context.Context, d *queue.Delivery) error
}

// Sleeper pauses between reprocessed messages.
type Sleeper func(ctx context.Context, d time.Duration) error

type ReprocessResult struct {
	Reprocessed int      `json:"reprocessed"`
	Errors      []string `json:"errors"`
}

type Manager struct {
	broker Broker
	wait   time.Duration
	sleep  Sleeper
	logger logger.Logger
}

type Option func(*Manager)

// WithReceiveWait bounds how long each dead-letter receive waits for a message.
func WithReceiveWait(d time.Duration) Option {
	return func(m *Manager) { m.wait = d }
}

func WithSleeper(s Sleeper) Option {
	return func(m *Manager) { m.sleep = s }
}

func NewManager(broker Broker, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		broker: broker,
		wait:   DefaultWait,
		sleep:  contextSleep,
		logger: log.WithFields(map[string]interface{}{"component": "dead-letters"}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Purge drains the dead-letter sub-queue of queueName and returns how many messages it removed.
func (m *Manager) Purge(ctx context.Context, queueName string) (int, error) {
	purged := 0
	for {
		batch, err := m.broker.Receive(ctx, queueName, queue.SubQueueDeadLetter, PurgeBatchSize, m.wait)
		if err != nil {
			return purged, err
		}
		if len(batch) == 0 {
			break
		}
		for i, d := range batch {
			if err := m.broker.Complete(ctx, d); err != nil {
				m.abandon(ctx, d)
				m.release(ctx, batch[i+1:])
				return purged, err
			}
			purged++
		}
	}

	metrics.DeadLetters.WithLabelValues(queueName, actionPurged).Add(float64(purged))
	m.logger.Info("Dead-letter queue purged", map[string]interface{}{
		"queue":  queueName,
		"purged": purged,
	})
	return purged, nil
}

// Reprocess moves up to limit dead-lettered messages back onto the primary queue,
// pausing delay between messages. Per-message failures are collected, not fatal.
func (m *Manager) Reprocess(ctx context.Context, queueName string, delay time.Duration, limit int) (*ReprocessResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	batch, err := m.broker.Receive(ctx, queueName, queue.SubQueueDeadLetter, limit, m.wait)
	if err != nil {
		return nil, err
	}

	result := &ReprocessResult{}
	for i, d := range batch {
		if i > 0 && delay > 0 {
			if err := m.sleep(ctx, delay); err != nil {
				m.release(ctx, batch[i:])
				return result, err
			}
		}

		if err := m.reprocessOne(ctx, queueName, d); err != nil {
			m.logger.Warn("Dead-letter reprocess failed", map[string]interface{}{
				"queue":     queueName,
				"messageId": d.ID,
				"error":     err.Error(),
			})
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", d.ID, err))
			m.abandon(ctx, d)
			continue
		}
		result.Reprocessed++
	}

	metrics.DeadLetters.WithLabelValues(queueName, actionReprocess).Add(float64(result.Reprocessed))
	m.logger.Info("Dead-letter messages reprocessed", map[string]interface{}{
		"queue":       queueName,
		"reprocessed": result.Reprocessed,
		"errors":      len(result.Errors),
	})
	return result, nil
}

func (m *Manager) reprocessOne(ctx context.Context, queueName string, d *queue.Delivery) error {
	if _, err := m.broker.Send(ctx, queueName, d.Body); err != nil {
		return err
	}
	return m.broker.Complete(ctx, d)
}

// abandon puts a failed delivery back on the dead-letter queue.
func (m *Manager) abandon(ctx context.Context, d *queue.Delivery) {
	if err := m.broker.Abandon(context.WithoutCancel(ctx), d); err != nil {
		m.logger.Error("Failed to return dead letter", map[string]interface{}{
			"queue":     d.Queue,
			"messageId": d.ID,
			"error":     err.Error(),
		})
	}
}

// release hands back deliveries that were received but never attempted.
// Release pushes to the head, so walk backwards to keep queue order.
func (m *Manager) release(ctx context.Context, ds []*queue.Delivery) {
	for i := len(ds) - 1; i >= 0; i-- {
		d := ds[i]
		if err := m.broker.Release(context.WithoutCancel(ctx), d); err != nil {
			m.logger.Error("Failed to release dead letter", map[string]interface{}{
				"queue":     d.Queue,
				"messageId": d.ID,
				"error":     err.Error(),
			})
		}
	}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
