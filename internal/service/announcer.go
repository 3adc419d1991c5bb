package service

import (
	"context"
	"sync"
	"time"

	"stall-reservation/internal/models"
	"stall-reservation/internal/notify"
	"stall-reservation/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher publishes domain events onto the event bus
type EventPublisher interface {
	PublishStallAvailabilityChanged(ctx context.Context, event *models.StallAvailabilityChangedEvent) error
}

// QRRenderer renders a QR payload as a PNG
type QRRenderer interface {
	Render(text string, size int) ([]byte, error)
}

const announceTimeout = 15 * time.Second

// Announcer fires notifications and domain events after a state change has
// been committed. Every call returns immediately; failures are logged and
// counted, never reported to the caller.
type Announcer struct {
	dispatcher notify.Dispatcher
	publisher  EventPublisher
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewAnnouncer creates a new announcer
func NewAnnouncer(dispatcher notify.Dispatcher, publisher EventPublisher) *Announcer {
	return &Announcer{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     util.GetLogger(),
	}
}

// Notify runs fn against the dispatcher in the background
func (a *Announcer) Notify(kind string, fn func(ctx context.Context, d notify.Dispatcher) error) {
	a.run(kind, func(ctx context.Context) error {
		return fn(ctx, a.dispatcher)
	})
}

// StallAvailabilityChanged raises the stall-availability-changed event for a
// book fair
func (a *Announcer) StallAvailabilityChanged(eventID int64) {
	a.run("stall_availability_changed", func(ctx context.Context) error {
		return a.publisher.PublishStallAvailabilityChanged(ctx, &models.StallAvailabilityChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeStallAvailabilityChanged,
				Timestamp: time.Now(),
			},
			FairEventID: eventID,
		})
	})
}

// Wait blocks until every announcement started so far has finished
func (a *Announcer) Wait() {
	a.wg.Wait()
}

func (a *Announcer) run(kind string, fn func(ctx context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				util.NotificationsFailedTotal.WithLabelValues(kind).Inc()
				a.logger.Error("Announcement panicked", zap.String("kind", kind), zap.Any("panic", p))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			util.NotificationsFailedTotal.WithLabelValues(kind).Inc()
			a.logger.Error("Announcement failed", zap.String("kind", kind), zap.Error(err))
		}
	}()
}
