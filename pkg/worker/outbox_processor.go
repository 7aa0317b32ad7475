package worker

import (
	"context"
	"time"

	"github.com/halaqat/scheduler-api/pkg/logger"
	"github.com/halaqat/scheduler-api/pkg/metrics"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
)

// Dispatcher re-runs the side effects an outbox event stands for.
// Dispatch must be idempotent; the processor may hand over the same
// event more than once.
type Dispatcher interface {
	Replay(ctx context.Context, event *model.OutboxEvent) error
}

// OutboxConfig tunes the recovery processor.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	Retention    time.Duration
}

func (c *OutboxConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
}

// OutboxProcessor replays pending outbox rows that the synchronous
// dispatch path failed to complete, with bounded retries and a backoff.
type OutboxProcessor struct {
	outbox     repository.OutboxRepository
	dispatcher Dispatcher
	cfg        OutboxConfig
	metrics    *metrics.Metrics
	logger     *logger.Logger
	now        func() time.Time
}

func NewOutboxProcessor(outbox repository.OutboxRepository, dispatcher Dispatcher, cfg OutboxConfig, m *metrics.Metrics, l *logger.Logger) *OutboxProcessor {
	cfg.defaults()
	return &OutboxProcessor{
		outbox:     outbox,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    m,
		logger:     l,
		now:        time.Now,
	}
}

// Run polls until the context is cancelled.
func (p *OutboxProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil && p.logger != nil {
				p.logger.Error(err, "outbox batch failed")
			}
		case <-cleanup.C:
			if _, err := p.outbox.DeleteProcessedBefore(ctx, p.now().Add(-p.cfg.Retention)); err != nil && p.logger != nil {
				p.logger.Error(err, "outbox cleanup failed")
			}
		}
	}
}

// ProcessBatch replays one batch of pending rows. Each row ends up
// processed, scheduled for retry, or failed once retries are exhausted.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) error {
	events, err := p.outbox.GetPendingWithLock(ctx, p.cfg.BatchSize)
	if err != nil {
		if p.metrics != nil {
			p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()
	}

	for _, event := range events {
		start := p.now()
		err := p.dispatcher.Replay(ctx, event)
		if p.metrics != nil {
			p.metrics.OutboxProcessingLatency.Observe(p.now().Sub(start).Seconds())
		}

		if err == nil {
			if err := p.outbox.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil && p.logger != nil {
				p.logger.Error(err, "failed to mark outbox event processed")
			}
			if p.metrics != nil {
				p.metrics.OutboxEventsProcessed.Inc()
			}
			continue
		}

		detail := err.Error()
		status := model.OutboxStatusRetry
		var retryAt *time.Time
		if event.RetryCount+1 >= p.cfg.MaxRetries {
			status = model.OutboxStatusFailed
		} else {
			at := p.now().Add(p.cfg.RetryBackoff * time.Duration(event.RetryCount+1))
			retryAt = &at
		}

		if p.logger != nil {
			p.logger.Error(err, "outbox event dispatch failed",
				"event_id", event.ID.String(),
				"retry_count", event.RetryCount+1,
				"status", string(status))
		}
		if p.metrics != nil {
			p.metrics.OutboxEventsFailed.Inc()
		}
		if err := p.outbox.UpdateStatus(ctx, event.ID, status, &detail, retryAt); err != nil && p.logger != nil {
			p.logger.Error(err, "failed to update outbox event status")
		}
	}
	return nil
}
