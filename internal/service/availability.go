package service

import (
	"context"
	"fmt"

	"stall-reservation/internal/models"
	"stall-reservation/internal/store"
	"stall-reservation/internal/util"

	"go.uber.org/zap"
)

// BroadcastSink fans stall availability out to real-time subscribers
type BroadcastSink interface {
	PublishBookedStalls(ctx context.Context, msg *models.BookedStallsMessage) error
	PublishAdminUpdate(ctx context.Context, msg *models.AdminUpdateMessage) error
}

// AvailabilityBroadcaster turns stall-availability-changed events into the
// current booked stall list of the event plus an admin ping
type AvailabilityBroadcaster struct {
	ledger store.Ledger
	sink   BroadcastSink
	logger *zap.Logger
}

// NewAvailabilityBroadcaster creates a new availability broadcaster
func NewAvailabilityBroadcaster(ledger store.Ledger, sink BroadcastSink) *AvailabilityBroadcaster {
	return &AvailabilityBroadcaster{
		ledger: ledger,
		sink:   sink,
		logger: util.GetLogger(),
	}
}

// HandleStallAvailabilityChanged recomputes and publishes the booked stall set
func (b *AvailabilityBroadcaster) HandleStallAvailabilityChanged(ctx context.Context, event *models.StallAvailabilityChangedEvent) error {
	ids, err := b.ledger.GetBookedStallIDs(ctx, event.FairEventID)
	if err != nil {
		return fmt.Errorf("failed to load booked stalls for event %d: %w", event.FairEventID, err)
	}

	if err := b.sink.PublishBookedStalls(ctx, &models.BookedStallsMessage{
		FairEventID:    event.FairEventID,
		BookedStallIDs: ids,
	}); err != nil {
		return fmt.Errorf("failed to publish booked stalls: %w", err)
	}

	// The admin ping is informational only
	if err := b.sink.PublishAdminUpdate(ctx, &models.AdminUpdateMessage{
		Type:        models.AdminUpdateBookingType,
		FairEventID: event.FairEventID,
	}); err != nil {
		b.logger.Warn("Failed to publish admin update",
			zap.Int64("event_id", event.FairEventID),
			zap.Error(err))
	}

	util.AvailabilityBroadcastsTotal.Inc()
	b.logger.Debug("Broadcast booked stalls",
		zap.Int64("event_id", event.FairEventID),
		zap.Int("booked", len(ids)))
	return nil
}
