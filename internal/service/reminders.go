package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stall-reservation/internal/models"
	"stall-reservation/internal/notify"
	"stall-reservation/internal/store"
)

// Reminder kinds
const (
	ReminderCancellationDeadline = "cancellation_deadline"
	ReminderEvent                = "event_reminder"
)

// eventReminderDaysBefore is how far ahead of the event confirmed vendors are reminded
const eventReminderDaysBefore = 2

// Reminder is a scheduled notice owed to the vendor of a confirmed reservation
type Reminder struct {
	Kind   string
	Notice notify.ReservationNotice
}

// Key identifies the reminder for deduplication. It is stable for one
// reservation, kind and day.
func (r Reminder) Key(day time.Time) string {
	return fmt.Sprintf("reminder:%s:%d:%s", r.Kind, r.Notice.Reservation.ID, dateOf(day).Format("2006-01-02"))
}

// Send delivers the reminder through d
func (r Reminder) Send(ctx context.Context, d notify.Dispatcher) error {
	switch r.Kind {
	case ReminderCancellationDeadline:
		return d.CancellationDeadlineApproaching(ctx, r.Notice)
	case ReminderEvent:
		return d.EventReminder(ctx, r.Notice)
	}
	return fmt.Errorf("unknown reminder kind %q", r.Kind)
}

// DueReminders lists the reminders owed on the day of now. Vendors of SUCCESS
// reservations hear about a cancellation deadline the day before it, and about
// the event itself two days ahead. Reservations of inactive events are skipped.
func (l *Lifecycle) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	reservations, err := l.ledger.GetReservationsByStatus(ctx, models.ReservationStatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmed reservations: %w", err)
	}

	today := dateOf(now)
	tomorrow := today.AddDate(0, 0, 1)
	eventDay := today.AddDate(0, 0, eventReminderDaysBefore)

	events := make(map[int64]*models.Event)
	vendors := make(map[int64]*models.Vendor)
	var due []Reminder

	for i := range reservations {
		r := &reservations[i]

		var kinds []string
		if dateOf(r.CancellationDeadline).Equal(tomorrow) {
			kinds = append(kinds, ReminderCancellationDeadline)
		}

		event, ok := events[r.EventID]
		if !ok {
			event, err = l.ledger.GetEvent(ctx, r.EventID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("failed to load event %d: %w", r.EventID, err)
			}
			events[r.EventID] = event
		}
		if event == nil || !event.Active {
			continue
		}
		if dateOf(event.EventDate).Equal(eventDay) {
			kinds = append(kinds, ReminderEvent)
		}
		if len(kinds) == 0 {
			continue
		}

		vendor, ok := vendors[r.VendorID]
		if !ok {
			vendor, err = l.ledger.GetVendor(ctx, r.VendorID)
			if err != nil {
				return nil, fmt.Errorf("failed to load vendor %d: %w", r.VendorID, err)
			}
			vendors[r.VendorID] = vendor
		}

		for _, kind := range kinds {
			due = append(due, Reminder{
				Kind:   kind,
				Notice: notify.ReservationNotice{Reservation: r, Vendor: vendor, Event: event},
			})
		}
	}

	return due, nil
}
