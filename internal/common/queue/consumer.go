package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/metrics"
	"feedly-pipeline/internal/common/observability"
)

const settleTimeout = 10 * time.Second

// Handler processes one delivery. A nil error completes the message.
type Handler interface {
	Handle(ctx context.Context, d *Delivery) error
}

type HandlerFunc func(ctx context.Context, d *Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d *Delivery) error {
	return f(ctx, d)
}

// ConsumerConfig describes one stage consumer.
type ConsumerConfig struct {
	Queue       string
	Stage       string
	Concurrency int
	Timeout     time.Duration
	ReceiveWait time.Duration
}

// Consumer feeds deliveries from one queue to a handler.
type Consumer struct {
	broker     *RedisBroker
	cfg        ConsumerConfig
	handler    Handler
	errHandler *apperrors.ErrorHandler
	obs        *observability.Observability
	logger     logger.Logger
}

func NewConsumer(broker *RedisBroker, cfg ConsumerConfig, handler Handler, obs *observability.Observability, log logger.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ReceiveWait <= 0 {
		cfg.ReceiveWait = 5 * time.Second
	}
	log = log.WithFields(map[string]interface{}{"queue": cfg.Queue, "stage": cfg.Stage})
	return &Consumer{
		broker:     broker,
		cfg:        cfg,
		handler:    handler,
		errHandler: apperrors.NewErrorHandler(log),
		obs:        obs,
		logger:     log,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if _, err := c.broker.RestoreInflight(ctx, c.cfg.Queue); err != nil {
		c.logger.Warn("Failed to restore in-flight messages", map[string]interface{}{"error": err.Error()})
	}

	c.logger.Info("Consumer started", map[string]interface{}{"concurrency": c.cfg.Concurrency})

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(ctx)
		}()
	}
	wg.Wait()

	c.logger.Info("Consumer stopped", nil)
	return nil
}

func (c *Consumer) loop(ctx context.Context) {
	for ctx.Err() == nil {
		deliveries, err := c.broker.Receive(ctx, c.cfg.Queue, SubQueueNone, 1, c.cfg.ReceiveWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Receive failed", map[string]interface{}{"error": err.Error()})
			if sleep(ctx, c.broker.pollInterval) != nil {
				return
			}
			continue
		}
		for _, d := range deliveries {
			c.process(ctx, d)
		}
	}
}

// process runs the handler for one delivery and settles it.
func (c *Consumer) process(ctx context.Context, d *Delivery) {
	stage := c.cfg.Stage
	start := time.Now()
	metrics.MessagesActive.WithLabelValues(stage).Inc()
	defer metrics.MessagesActive.WithLabelValues(stage).Dec()

	handlerCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	err := c.handler.Handle(handlerCtx, d)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	duration := time.Since(start)
	metrics.MessageDuration.WithLabelValues(stage).Observe(duration.Seconds())

	if err == nil {
		if cerr := c.broker.Complete(settleCtx, d); cerr != nil {
			c.logger.Error("Failed to complete message", map[string]interface{}{
				"messageId": d.ID,
				"error":     cerr.Error(),
			})
		}
		metrics.MessagesProcessed.WithLabelValues(stage).Inc()
		c.obs.RecordStageProcessed(settleCtx, stage, "succeeded", duration)
		return
	}

	// shutdown interrupted the handler: hand the message back untouched
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		if rerr := c.broker.Release(settleCtx, d); rerr != nil {
			c.logger.Error("Failed to release message", map[string]interface{}{
				"messageId": d.ID,
				"error":     rerr.Error(),
			})
		}
		return
	}

	stdErr, _ := c.errHandler.HandleMessageError(settleCtx, &settler{broker: c.broker, delivery: d},
		apperrors.MessageInfo{ID: d.ID, Queue: d.Queue, Stage: stage, DeliveryCount: d.DeliveryCount}, err)

	metrics.MessagesFailed.WithLabelValues(stage, string(stdErr.Code)).Inc()
	c.obs.RecordStageProcessed(settleCtx, stage, "failed", duration)
}

// settler binds broker settlement to one delivery.
type settler struct {
	broker   *RedisBroker
	delivery *Delivery
}

func (s *settler) Abandon(ctx context.Context, reason string) error {
	return s.broker.Abandon(ctx, s.delivery)
}

func (s *settler) DeadLetter(ctx context.Context, reason string) error {
	return s.broker.DeadLetter(ctx, s.delivery, reason)
}
