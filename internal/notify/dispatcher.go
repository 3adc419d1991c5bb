// Package notify delivers vendor-facing notifications about reservations.
package notify

import (
	"context"

	"stall-reservation/internal/models"
)

// ReservationNotice bundles a reservation with the vendor and event it refers to
type ReservationNotice struct {
	Reservation *models.Reservation
	Vendor      *models.Vendor
	Event       *models.Event
}

// Dispatcher sends notifications. Implementations may block on network I/O;
// callers are expected to invoke them off the request path.
type Dispatcher interface {
	BookingReceived(ctx context.Context, n ReservationNotice, qrPNG []byte) error
	PaymentConfirmed(ctx context.Context, n ReservationNotice, qrPNG []byte) error
	Cancelled(ctx context.Context, n ReservationNotice) error
	Refunded(ctx context.Context, n ReservationNotice) error
	VendorCancelSuccess(ctx context.Context, n ReservationNotice) error
	EventRemoved(ctx context.Context, vendorEmail, eventName, bookingCode string) error
	AccountDeactivated(ctx context.Context, email, name string) error
	CancellationDeadlineApproaching(ctx context.Context, n ReservationNotice) error
	EventReminder(ctx context.Context, n ReservationNotice) error
}
