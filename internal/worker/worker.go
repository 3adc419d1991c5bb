package worker

import (
	"context"

	"stall-reservation/internal/broker"
	"stall-reservation/internal/service"
	"stall-reservation/internal/util"

	"go.uber.org/zap"
)

// AvailabilityWorker consumes stall availability events and rebroadcasts the
// booked stall set of each affected book fair
type AvailabilityWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewAvailabilityWorker creates a new availability worker
func NewAvailabilityWorker(
	consumer *broker.Consumer,
	broadcaster *service.AvailabilityBroadcaster,
) *AvailabilityWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnStallAvailabilityChanged(broadcaster.HandleStallAvailabilityChanged)

	return &AvailabilityWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *AvailabilityWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting availability worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AvailabilityWorker) Stop() error {
	w.logger.Info("Stopping availability worker")
	return w.consumer.Close()
}
