package worker

import (
	"context"
	"time"

	"stall-reservation/internal/notify"
	"stall-reservation/internal/service"
	"stall-reservation/internal/util"

	"go.uber.org/zap"
)

const (
	reminderLockKey = "reminder-scheduler"
	reminderLockTTL = 10 * time.Minute
	reminderSentTTL = 48 * time.Hour
)

// ReminderSource lists the reminders owed on a given day
type ReminderSource interface {
	DueReminders(ctx context.Context, now time.Time) ([]service.Reminder, error)
}

// Coordinator keeps scheduled passes single-flight across instances and
// remembers which reminders went out
type Coordinator interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ReminderWorker periodically sends cancellation deadline and event reminders
type ReminderWorker struct {
	source      ReminderSource
	dispatcher  notify.Dispatcher
	coordinator Coordinator
	interval    time.Duration
	now         func() time.Time
	logger      *zap.Logger
	stop        chan struct{}
	done        chan struct{}
}

// NewReminderWorker creates a new reminder worker
func NewReminderWorker(
	source ReminderSource,
	dispatcher notify.Dispatcher,
	coordinator Coordinator,
	interval time.Duration,
) *ReminderWorker {
	return &ReminderWorker{
		source:      source,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		interval:    interval,
		now:         time.Now,
		logger:      util.GetLogger(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start runs a pass immediately and then once per interval until Stop is
// called or ctx is done
func (w *ReminderWorker) Start(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("Starting reminder worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the worker and waits for the current pass to finish
func (w *ReminderWorker) Stop() {
	w.logger.Info("Stopping reminder worker")
	close(w.stop)
	<-w.done
}

// RunOnce sends every reminder due now that has not been sent yet. It skips
// the pass when another instance holds the scheduler lock.
func (w *ReminderWorker) RunOnce(ctx context.Context) {
	acquired, err := w.coordinator.AcquireLock(ctx, reminderLockKey, reminderLockTTL)
	if err != nil {
		w.logger.Error("Failed to acquire reminder lock", zap.Error(err))
		return
	}
	if !acquired {
		w.logger.Debug("Reminder pass already running elsewhere")
		return
	}
	defer func() {
		if err := w.coordinator.ReleaseLock(ctx, reminderLockKey); err != nil {
			w.logger.Warn("Failed to release reminder lock", zap.Error(err))
		}
	}()

	now := w.now()
	due, err := w.source.DueReminders(ctx, now)
	if err != nil {
		w.logger.Error("Failed to list due reminders", zap.Error(err))
		return
	}

	sent := 0
	for _, r := range due {
		key := r.Key(now)
		done, err := w.coordinator.CheckIdempotencyKey(ctx, key)
		if err != nil {
			w.logger.Error("Failed to check reminder key", zap.String("key", key), zap.Error(err))
			continue
		}
		if done {
			continue
		}

		if err := r.Send(ctx, w.dispatcher); err != nil {
			util.NotificationsFailedTotal.WithLabelValues(r.Kind).Inc()
			w.logger.Error("Failed to send reminder",
				zap.String("kind", r.Kind),
				zap.Int64("reservation_id", r.Notice.Reservation.ID),
				zap.Error(err))
			continue
		}

		if err := w.coordinator.SetIdempotencyKey(ctx, key, "sent", reminderSentTTL); err != nil {
			w.logger.Warn("Failed to record reminder", zap.String("key", key), zap.Error(err))
		}
		util.RemindersSentTotal.WithLabelValues(r.Kind).Inc()
		sent++
	}

	w.logger.Info("Reminder pass finished", zap.Int("due", len(due)), zap.Int("sent", sent))
}
