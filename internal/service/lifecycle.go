package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stall-reservation/internal/apperr"
	"stall-reservation/internal/models"
	"stall-reservation/internal/notify"
	"stall-reservation/internal/qrcode"
	"stall-reservation/internal/store"
	"stall-reservation/internal/util"

	"go.uber.org/zap"
)

// Audit log details
const (
	detailRefunded         = "Reservation refunded by Admin."
	detailRejectedRefunded = "Reservation rejected and refunded by Admin."
	detailVendorCancelled  = "Reservation cancelled by Vendor."
	detailEventRemoved     = "Event removed by Admin."
)

// Lifecycle drives reservations through their status machine
type Lifecycle struct {
	ledger    store.Ledger
	qr        QRRenderer
	announcer *Announcer
	now       func() time.Time
	logger    *zap.Logger
}

// NewLifecycle creates a new lifecycle controller
func NewLifecycle(ledger store.Ledger, qr QRRenderer, announcer *Announcer) *Lifecycle {
	return &Lifecycle{
		ledger:    ledger,
		qr:        qr,
		announcer: announcer,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// transition describes one status change. The steps run in this order on the
// locked reservation: authorize, no-op when already at target, source status
// check, check, apply, status update.
type transition struct {
	name      string
	target    string
	from      []string
	authorize func(r *models.Reservation) error
	check     func(r *models.Reservation, now time.Time) error
	apply     func(ctx context.Context, tx store.LedgerTx, r *models.Reservation, now time.Time) error
	renderQR  bool

	notifyKind string
	notify     func(ctx context.Context, d notify.Dispatcher, n notify.ReservationNotice, qrPNG []byte) error
}

// Approve confirms a PENDING reservation once its advance has been received
func (l *Lifecycle) Approve(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	return l.transition(ctx, reservationID, transition{
		name:     "approve",
		target:   models.ReservationStatusSuccess,
		from:     []string{models.ReservationStatusPending},
		apply:    completePayment,
		renderQR: true,

		notifyKind: "payment_confirmed",
		notify: func(ctx context.Context, d notify.Dispatcher, n notify.ReservationNotice, qrPNG []byte) error {
			return d.PaymentConfirmed(ctx, n, qrPNG)
		},
	})
}

// Reject cancels a live reservation without touching its payment
func (l *Lifecycle) Reject(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	return l.transition(ctx, reservationID, transition{
		name:   "reject",
		target: models.ReservationStatusCancelled,
		from:   models.LiveStatuses,

		notifyKind: "cancelled",
		notify: func(ctx context.Context, d notify.Dispatcher, n notify.ReservationNotice, _ []byte) error {
			return d.Cancelled(ctx, n)
		},
	})
}

// Refund refunds a reservation's advance
func (l *Lifecycle) Refund(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	return l.refund(ctx, reservationID, "refund", detailRefunded)
}

// RejectAndRefund rejects a reservation and refunds its advance in one step
func (l *Lifecycle) RejectAndRefund(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	return l.refund(ctx, reservationID, "reject_and_refund", detailRejectedRefunded)
}

func (l *Lifecycle) refund(ctx context.Context, reservationID int64, name, detail string) (*models.Reservation, error) {
	return l.transition(ctx, reservationID, transition{
		name:   name,
		target: models.ReservationStatusRefunded,
		from: []string{
			models.ReservationStatusPending,
			models.ReservationStatusSuccess,
			models.ReservationStatusCancelled,
		},
		apply: func(ctx context.Context, tx store.LedgerTx, r *models.Reservation, now time.Time) error {
			if err := refundPayment(ctx, tx, r.ID, now, false); err != nil {
				return err
			}
			return appendLog(ctx, tx, r.ID, models.LogActionRefunded, detail)
		},

		notifyKind: "refunded",
		notify: func(ctx context.Context, d notify.Dispatcher, n notify.ReservationNotice, _ []byte) error {
			return d.Refunded(ctx, n)
		},
	})
}

// VendorCancel lets the owning vendor cancel a live reservation up to its
// cancellation deadline. A completed advance is refunded.
func (l *Lifecycle) VendorCancel(ctx context.Context, reservationID, vendorID int64) (*models.Reservation, error) {
	return l.transition(ctx, reservationID, transition{
		name:   "vendor_cancel",
		target: models.ReservationStatusCancelled,
		from:   models.LiveStatuses,
		authorize: func(r *models.Reservation) error {
			if r.VendorID != vendorID {
				return apperr.Conflict("reservation %d does not belong to vendor %d", r.ID, vendorID)
			}
			return nil
		},
		check: func(r *models.Reservation, now time.Time) error {
			if !CancellationOpen(now, r.CancellationDeadline) {
				return apperr.Conflict("cancellation deadline %s has passed", r.CancellationDeadline.Format("2006-01-02"))
			}
			return nil
		},
		apply: func(ctx context.Context, tx store.LedgerTx, r *models.Reservation, now time.Time) error {
			if err := refundPayment(ctx, tx, r.ID, now, true); err != nil {
				return err
			}
			if err := tx.SetAdminAck(ctx, r.ID, false); err != nil {
				return fmt.Errorf("failed to reset admin ack: %w", err)
			}
			r.AdminAck = false
			return appendLog(ctx, tx, r.ID, models.LogActionCancelled, detailVendorCancelled)
		},

		notifyKind: "vendor_cancel_success",
		notify: func(ctx context.Context, d notify.Dispatcher, n notify.ReservationNotice, _ []byte) error {
			return d.VendorCancelSuccess(ctx, n)
		},
	})
}

func (l *Lifecycle) transition(ctx context.Context, reservationID int64, t transition) (res *models.Reservation, err error) {
	ctx, span := util.StartSpan(ctx, "Lifecycle."+t.name)
	defer func() { util.EndSpan(span, err) }()

	var (
		notice  notify.ReservationNotice
		qrPNG   []byte
		changed bool
	)

	err = l.ledger.WithTx(ctx, func(tx store.LedgerTx) error {
		r, err := tx.LockReservation(ctx, reservationID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("reservation %d not found", reservationID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock reservation: %w", err)
		}
		res = r

		if t.authorize != nil {
			if err := t.authorize(r); err != nil {
				return err
			}
		}
		if r.Status == t.target {
			return nil
		}
		if !containsStatus(t.from, r.Status) {
			return apperr.Conflict("cannot %s a reservation in status %s", t.name, r.Status)
		}

		now := l.now()
		if t.check != nil {
			if err := t.check(r, now); err != nil {
				return err
			}
		}
		if t.apply != nil {
			if err := t.apply(ctx, tx, r, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateReservationStatus(ctx, r.ID, t.target); err != nil {
			return fmt.Errorf("failed to update reservation status: %w", err)
		}
		r.Status = t.target

		if t.renderQR {
			qrPNG, err = l.qr.Render(r.QRCodeValue, qrcode.DefaultSize)
			if err != nil {
				return fmt.Errorf("failed to render booking QR: %w", err)
			}
		}

		notice, err = loadNotice(ctx, tx, r)
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, conflictOnRace(err, "reservation was modified concurrently")
	}

	if !changed {
		l.logger.Debug("Transition is a no-op",
			zap.String("transition", t.name),
			zap.Int64("reservation_id", res.ID),
			zap.String("status", res.Status))
		return res, nil
	}

	util.ReservationTransitionsTotal.WithLabelValues(t.target).Inc()
	l.logger.Info("Reservation transitioned",
		zap.String("transition", t.name),
		zap.Int64("reservation_id", res.ID),
		zap.String("booking_code", res.BookingCode),
		zap.String("status", res.Status))

	l.announcer.Notify(t.notifyKind, func(ctx context.Context, d notify.Dispatcher) error {
		return t.notify(ctx, d, notice, qrPNG)
	})
	l.announcer.StallAvailabilityChanged(res.EventID)

	return res, nil
}

// HasActiveReservation reports whether a vendor holds a PENDING or SUCCESS
// reservation for an event
func (l *Lifecycle) HasActiveReservation(ctx context.Context, vendorID, eventID int64) (bool, error) {
	return l.ledger.HasActiveReservation(ctx, vendorID, eventID)
}

// Acknowledge marks a reservation as seen by an admin
func (l *Lifecycle) Acknowledge(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	var res *models.Reservation
	err := l.ledger.WithTx(ctx, func(tx store.LedgerTx) error {
		r, err := tx.LockReservation(ctx, reservationID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("reservation %d not found", reservationID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock reservation: %w", err)
		}
		res = r
		if r.AdminAck {
			return nil
		}
		if err := tx.SetAdminAck(ctx, r.ID, true); err != nil {
			return fmt.Errorf("failed to set admin ack: %w", err)
		}
		r.AdminAck = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type removedBooking struct {
	vendorEmail string
	bookingCode string
}

// RemoveEvent withdraws an upcoming event. Its live reservations move to
// EVENT_REMOVED and release their stalls; completed advances are refunded.
// Removing an event that is already inactive is a no-op.
func (l *Lifecycle) RemoveEvent(ctx context.Context, eventID int64) (err error) {
	ctx, span := util.StartSpan(ctx, "Lifecycle.remove_event")
	defer func() { util.EndSpan(span, err) }()

	var (
		eventName string
		removed   []removedBooking
		changed   bool
	)

	err = l.ledger.WithTx(ctx, func(tx store.LedgerTx) error {
		event, err := tx.LockEvent(ctx, eventID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("event %d not found", eventID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock event: %w", err)
		}
		if !event.Active {
			return nil
		}

		now := l.now()
		if dateOf(event.EventDate).Before(dateOf(now)) {
			return apperr.Conflict("event %d has already taken place", eventID)
		}

		if err := tx.DeactivateEvent(ctx, eventID); err != nil {
			return fmt.Errorf("failed to deactivate event: %w", err)
		}

		live, err := tx.GetLiveReservationsByEvent(ctx, eventID)
		if err != nil {
			return fmt.Errorf("failed to load live reservations: %w", err)
		}
		vendors := make(map[int64]*models.Vendor)
		for i := range live {
			r := &live[i]
			if err := tx.UpdateReservationStatus(ctx, r.ID, models.ReservationStatusEventRemoved); err != nil {
				return fmt.Errorf("failed to update reservation %d: %w", r.ID, err)
			}
			if err := refundPayment(ctx, tx, r.ID, now, true); err != nil {
				return err
			}
			if err := appendLog(ctx, tx, r.ID, models.LogActionEventRemoved, detailEventRemoved); err != nil {
				return err
			}

			vendor, ok := vendors[r.VendorID]
			if !ok {
				vendor, err = tx.GetVendor(ctx, r.VendorID)
				if err != nil {
					return fmt.Errorf("failed to load vendor %d: %w", r.VendorID, err)
				}
				vendors[r.VendorID] = vendor
			}
			removed = append(removed, removedBooking{vendorEmail: vendor.Email, bookingCode: r.BookingCode})
		}

		eventName = event.Name
		changed = true
		return nil
	})
	if err != nil {
		return conflictOnRace(err, "event was modified concurrently")
	}
	if !changed {
		return nil
	}

	util.ReservationTransitionsTotal.WithLabelValues(models.ReservationStatusEventRemoved).Add(float64(len(removed)))
	l.logger.Info("Event removed",
		zap.Int64("event_id", eventID),
		zap.Int("reservations_removed", len(removed)))

	for _, b := range removed {
		b := b
		l.announcer.Notify("event_removed", func(ctx context.Context, d notify.Dispatcher) error {
			return d.EventRemoved(ctx, b.vendorEmail, eventName, b.bookingCode)
		})
	}
	l.announcer.StallAvailabilityChanged(eventID)

	return nil
}

// DeactivateVendor disables a vendor account. Existing reservations are kept.
func (l *Lifecycle) DeactivateVendor(ctx context.Context, vendorID int64) error {
	var vendor *models.Vendor
	err := l.ledger.WithTx(ctx, func(tx store.LedgerTx) error {
		v, err := tx.GetVendor(ctx, vendorID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("vendor %d not found", vendorID)
		}
		if err != nil {
			return fmt.Errorf("failed to load vendor: %w", err)
		}
		if !v.Active {
			return nil
		}
		if err := tx.SetVendorActive(ctx, vendorID, false); err != nil {
			return fmt.Errorf("failed to deactivate vendor: %w", err)
		}
		vendor = v
		return nil
	})
	if err != nil || vendor == nil {
		return err
	}

	l.logger.Info("Vendor deactivated", zap.Int64("vendor_id", vendorID))
	l.announcer.Notify("account_deactivated", func(ctx context.Context, d notify.Dispatcher) error {
		return d.AccountDeactivated(ctx, vendor.Email, vendor.Name)
	})
	return nil
}

// BookedStallIDs returns the stalls of an event currently claimed by live
// reservations
func (l *Lifecycle) BookedStallIDs(ctx context.Context, eventID int64) ([]int64, error) {
	if _, err := l.ledger.GetEvent(ctx, eventID); err != nil {
		return nil, notFound(err, "event %d not found", eventID)
	}
	return l.ledger.GetBookedStallIDs(ctx, eventID)
}

// StallMap lists the stalls of an event with their availability. A stall is
// available when it is neither blocked nor claimed by a live reservation.
func (l *Lifecycle) StallMap(ctx context.Context, eventID int64) ([]models.StallAvailability, error) {
	if _, err := l.ledger.GetEvent(ctx, eventID); err != nil {
		return nil, notFound(err, "event %d not found", eventID)
	}

	stalls, err := l.ledger.GetStallsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stalls: %w", err)
	}
	booked, err := l.ledger.GetBookedStallIDs(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booked stalls: %w", err)
	}
	claimed := make(map[int64]struct{}, len(booked))
	for _, id := range booked {
		claimed[id] = struct{}{}
	}

	view := make([]models.StallAvailability, len(stalls))
	for i, s := range stalls {
		_, taken := claimed[s.ID]
		view[i] = models.StallAvailability{Stall: s, Available: !s.Blocked && !taken}
	}
	return view, nil
}

// GetPayment retrieves the advance payment of a reservation
func (l *Lifecycle) GetPayment(ctx context.Context, reservationID int64) (*models.Payment, error) {
	p, err := l.ledger.GetPaymentByReservationID(ctx, reservationID)
	if err != nil {
		return nil, notFound(err, "payment for reservation %d not found", reservationID)
	}
	return p, nil
}

// GetReservation retrieves a reservation with its stalls, genres and log
func (l *Lifecycle) GetReservation(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	r, err := l.ledger.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, notFound(err, "reservation %d not found", reservationID)
	}
	return r, nil
}

// GetReservationByBookingCode retrieves a reservation by its booking code
func (l *Lifecycle) GetReservationByBookingCode(ctx context.Context, code string) (*models.Reservation, error) {
	r, err := l.ledger.GetReservationByBookingCode(ctx, code)
	if err != nil {
		return nil, notFound(err, "reservation %s not found", code)
	}
	return r, nil
}

// ListVendorReservations lists a vendor's reservations, newest first
func (l *Lifecycle) ListVendorReservations(ctx context.Context, vendorID int64) ([]models.Reservation, error) {
	return l.ledger.GetReservationsByVendor(ctx, vendorID)
}

func completePayment(ctx context.Context, tx store.LedgerTx, r *models.Reservation, now time.Time) error {
	p, err := tx.GetPaymentByReservationID(ctx, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("payment for reservation %d not found", r.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to load payment: %w", err)
	}
	if p.Status == models.PaymentStatusCompleted {
		return nil
	}
	if err := tx.MarkPaymentCompleted(ctx, p.ID, now); err != nil {
		return fmt.Errorf("failed to complete payment: %w", err)
	}
	return nil
}

// refundPayment marks the payment of a reservation REFUNDED. With
// completedOnly set, only a COMPLETED payment is refunded. A missing payment
// is left alone.
func refundPayment(ctx context.Context, tx store.LedgerTx, reservationID int64, now time.Time, completedOnly bool) error {
	p, err := tx.GetPaymentByReservationID(ctx, reservationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load payment: %w", err)
	}
	if p.Status == models.PaymentStatusRefunded {
		return nil
	}
	if completedOnly && p.Status != models.PaymentStatusCompleted {
		return nil
	}
	if err := tx.MarkPaymentRefunded(ctx, p.ID, now); err != nil {
		return fmt.Errorf("failed to refund payment: %w", err)
	}
	return nil
}

func appendLog(ctx context.Context, tx store.LedgerTx, reservationID int64, action, details string) error {
	entry := &models.ReservationLog{
		ReservationID: reservationID,
		Action:        action,
		Details:       details,
	}
	if err := tx.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to append reservation log: %w", err)
	}
	return nil
}

func loadNotice(ctx context.Context, tx store.LedgerTx, r *models.Reservation) (notify.ReservationNotice, error) {
	vendor, err := tx.GetVendor(ctx, r.VendorID)
	if err != nil {
		return notify.ReservationNotice{}, fmt.Errorf("failed to load vendor: %w", err)
	}
	event, err := tx.GetEvent(ctx, r.EventID)
	if err != nil {
		return notify.ReservationNotice{}, fmt.Errorf("failed to load event: %w", err)
	}
	return notify.ReservationNotice{Reservation: r, Vendor: vendor, Event: event}, nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

func containsStatus(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
