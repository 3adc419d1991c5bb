package service

import (
	"fmt"
	"time"

	"stall-reservation/config"
)

// Rules are the booking and cancellation policies. They are fixed for the
// lifetime of the process.
type Rules struct {
	MaxStallsPerBooking      int
	DaysBeforeEventNoBooking int
	AdvancePercent           int
	CancellationDaysBefore   int
}

// RulesFromConfig extracts the rules from the loaded configuration
func RulesFromConfig(cfg *config.Config) Rules {
	return Rules{
		MaxStallsPerBooking:      cfg.Booking.MaxStallsPerBooking,
		DaysBeforeEventNoBooking: cfg.Booking.DaysBeforeEventNoBooking,
		AdvancePercent:           cfg.Booking.AdvancePercent,
		CancellationDaysBefore:   cfg.Cancellation.AllowedDaysBefore,
	}
}

// Validate checks the rules are usable
func (r Rules) Validate() error {
	if r.MaxStallsPerBooking < 1 {
		return fmt.Errorf("max stalls per booking must be at least 1, got %d", r.MaxStallsPerBooking)
	}
	if r.AdvancePercent < 0 || r.AdvancePercent > 100 {
		return fmt.Errorf("advance percent must be within 0-100, got %d", r.AdvancePercent)
	}
	if r.DaysBeforeEventNoBooking < 0 {
		return fmt.Errorf("days before event with no booking must not be negative, got %d", r.DaysBeforeEventNoBooking)
	}
	if r.CancellationDaysBefore < 0 {
		return fmt.Errorf("cancellation days before event must not be negative, got %d", r.CancellationDaysBefore)
	}
	return nil
}

// Advance returns the upfront part of total, in minor units, rounded half up.
// total is never negative since stall prices are not.
func (r Rules) Advance(total int64) int64 {
	return (total*int64(r.AdvancePercent) + 50) / 100
}

// BookingOpen reports whether an event dated eventDate still accepts bookings
// on the day of now. Bookings close once fewer than DaysBeforeEventNoBooking
// days remain, and never open on or after the event day.
func (r Rules) BookingOpen(now, eventDate time.Time) bool {
	today := dateOf(now)
	eventDay := dateOf(eventDate)
	cutoff := eventDay.AddDate(0, 0, -r.DaysBeforeEventNoBooking)
	return !today.After(cutoff) && today.Before(eventDay)
}

// CancellationDeadline is the last day a vendor may cancel a booking for an
// event dated eventDate
func (r Rules) CancellationDeadline(eventDate time.Time) time.Time {
	return dateOf(eventDate).AddDate(0, 0, -r.CancellationDaysBefore)
}

// CancellationOpen reports whether deadline has not yet passed on the day of now
func CancellationOpen(now, deadline time.Time) bool {
	return !dateOf(now).After(dateOf(deadline))
}

// dateOf truncates t to midnight UTC of its calendar day
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
