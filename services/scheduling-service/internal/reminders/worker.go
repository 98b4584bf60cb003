package reminders

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs Dispatch on a fixed tick for deployments without an external
// cron trigger.
type Worker struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	interval   time.Duration
	now        func() time.Time
}

type WorkerConfig struct {
	Interval time.Duration
}

func NewWorker(dispatcher *Dispatcher, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	return &Worker{
		dispatcher: dispatcher,
		logger:     logger,
		interval:   cfg.Interval,
		now:        time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	summary, err := w.dispatcher.Dispatch(ctx, w.now())
	if err != nil {
		w.logger.Error("reminder batch failed", "err", err)
		return
	}
	w.logger.Info("reminder batch done", "sent", summary.RemindersSent, "results", len(summary.Results))
}
