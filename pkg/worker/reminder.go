package worker

import (
	"context"
	"time"

	"github.com/halaqat/scheduler-api/pkg/logger"
)

// ReminderConfig tunes the scan and sweep cadence.
type ReminderConfig struct {
	ScanInterval  time.Duration
	SweepInterval time.Duration
}

func (c *ReminderConfig) defaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
}

// ScanFunc runs one reminder pass; SweepFunc force-releases expired
// reservations. Both are supplied by the services, keeping this package
// free of domain imports beyond the repositories.
type (
	ScanFunc  func(ctx context.Context) error
	SweepFunc func(ctx context.Context) error
)

// ReminderWorker drives the reminder scanner and the expired-reservation
// sweep on independent tickers.
type ReminderWorker struct {
	cfg    ReminderConfig
	scan   ScanFunc
	sweep  SweepFunc
	logger *logger.Logger
}

func NewReminderWorker(cfg ReminderConfig, scan ScanFunc, sweep SweepFunc, l *logger.Logger) *ReminderWorker {
	cfg.defaults()
	return &ReminderWorker{cfg: cfg, scan: scan, sweep: sweep, logger: l}
}

// Run loops until the context is cancelled.
func (w *ReminderWorker) Run(ctx context.Context) {
	scanTicker := time.NewTicker(w.cfg.ScanInterval)
	defer scanTicker.Stop()

	sweepTicker := time.NewTicker(w.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			if err := w.scan(ctx); err != nil && w.logger != nil {
				w.logger.Error(err, "reminder scan failed")
			}
		case <-sweepTicker.C:
			if w.sweep == nil {
				continue
			}
			if err := w.sweep(ctx); err != nil && w.logger != nil {
				w.logger.Error(err, "reservation sweep failed")
			}
		}
	}
}
