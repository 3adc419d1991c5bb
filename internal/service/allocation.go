package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stall-reservation/internal/apperr"
	"stall-reservation/internal/models"
	"stall-reservation/internal/notify"
	"stall-reservation/internal/qrcode"
	"stall-reservation/internal/store"
	"stall-reservation/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	bookingCodePrefix   = "BF-"
	bookingCodeAttempts = 5
)

// AllocationEngine turns stall selections into reservations
type AllocationEngine struct {
	ledger    store.Ledger
	qr        QRRenderer
	announcer *Announcer
	rules     Rules
	now       func() time.Time
	logger    *zap.Logger
}

// NewAllocationEngine creates a new allocation engine
func NewAllocationEngine(ledger store.Ledger, qr QRRenderer, announcer *Announcer, rules Rules) *AllocationEngine {
	return &AllocationEngine{
		ledger:    ledger,
		qr:        qr,
		announcer: announcer,
		rules:     rules,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// CreateReservationRequest represents a vendor's stall selection
type CreateReservationRequest struct {
	EventID          int64   `json:"event_id" binding:"required"`
	StallIDs         []int64 `json:"stall_ids" binding:"required,min=1"`
	GenreIDs         []int64 `json:"genre_ids"`
	StallDescription string  `json:"stall_description"`
	PaymentMethod    string  `json:"payment_method" binding:"required"`
	AccountNumber    string  `json:"account_number"`
	BankName         string  `json:"bank_name"`
	Address          string  `json:"address"`
}

// CreateReservation validates a booking request against inventory and the
// ledger and commits a PENDING reservation with its stall claims, genre tags
// and advance payment. The checks on stalls and the insert run under the
// event's row lock, so two requests for the same stall cannot both succeed.
func (e *AllocationEngine) CreateReservation(ctx context.Context, vendorID int64, req *CreateReservationRequest) (res *models.Reservation, err error) {
	ctx, span := util.StartSpan(ctx, "AllocationEngine.CreateReservation")
	defer func() { util.EndSpan(span, err) }()

	if err := e.validateRequest(req); err != nil {
		util.ReservationsRejectedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	start := time.Now()
	var (
		notice notify.ReservationNotice
		qrPNG  []byte
	)

	err = e.ledger.WithTx(ctx, func(tx store.LedgerTx) error {
		event, err := tx.LockEvent(ctx, req.EventID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !event.Active) {
			return apperr.NotFound("event %d not found", req.EventID)
		}
		if err != nil {
			return fmt.Errorf("failed to load event: %w", err)
		}

		vendor, err := tx.GetVendor(ctx, vendorID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("vendor %d not found", vendorID)
		}
		if err != nil {
			return fmt.Errorf("failed to load vendor: %w", err)
		}
		if !vendor.Active {
			return apperr.Conflict("vendor account %d is deactivated", vendorID)
		}

		if !e.rules.BookingOpen(e.now(), event.EventDate) {
			return apperr.Conflict("booking is not allowed within %d days of the event", e.rules.DaysBeforeEventNoBooking)
		}

		active, err := tx.HasActiveReservation(ctx, vendorID, event.ID)
		if err != nil {
			return fmt.Errorf("failed to check active reservation: %w", err)
		}
		if active {
			return apperr.Conflict("vendor already has an active reservation for this event")
		}

		stalls, err := e.claimableStalls(ctx, tx, event.ID, req.StallIDs)
		if err != nil {
			return err
		}

		code, err := e.newBookingCode(ctx, tx)
		if err != nil {
			return err
		}

		// Rendered before commit so a renderer failure leaves nothing behind
		qrPNG, err = e.qr.Render(code, qrcode.DefaultSize)
		if err != nil {
			return fmt.Errorf("failed to render booking QR: %w", err)
		}

		total := totalPrice(stalls)
		res = &models.Reservation{
			BookingCode:          code,
			VendorID:             vendorID,
			EventID:              event.ID,
			TotalAmount:          total,
			AdvanceAmount:        e.rules.Advance(total),
			Status:               models.ReservationStatusPending,
			StallDescription:     strings.TrimSpace(req.StallDescription),
			CancellationDeadline: e.rules.CancellationDeadline(event.EventDate),
			PaymentMethod:        req.PaymentMethod,
			AccountNumber:        req.AccountNumber,
			BankName:             req.BankName,
			Address:              req.Address,
			QRCodeValue:          code,
			StallIDs:             stallIDs(stalls),
		}

		if err := tx.CreateReservation(ctx, res); err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}
		if err := tx.AddReservationStalls(ctx, res.ID, res.StallIDs); err != nil {
			return err
		}

		genres, err := tx.GetGenresByIDs(ctx, req.GenreIDs)
		if err != nil {
			return fmt.Errorf("failed to load genres: %w", err)
		}
		res.GenreIDs = genreIDs(genres)
		if err := tx.AddReservationGenres(ctx, res.ID, res.GenreIDs); err != nil {
			return err
		}

		payment := &models.Payment{
			ReservationID: res.ID,
			Amount:        res.AdvanceAmount,
			Status:        models.PaymentStatusPending,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		notice = notify.ReservationNotice{Reservation: res, Vendor: vendor, Event: event}
		return nil
	})
	util.BookingLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		err = conflictOnRace(err, "booking conflicts with a concurrent reservation")
		util.ReservationsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		e.logger.Info("Booking refused",
			zap.Int64("vendor_id", vendorID),
			zap.Int64("event_id", req.EventID),
			zap.Int64s("stall_ids", req.StallIDs),
			zap.Error(err))
		return nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	e.logger.Info("Reservation created",
		zap.Int64("reservation_id", res.ID),
		zap.String("booking_code", res.BookingCode),
		zap.Int64("event_id", res.EventID),
		zap.Int64("total_amount", res.TotalAmount),
		zap.Int64("advance_amount", res.AdvanceAmount))

	e.announcer.Notify("booking_received", func(ctx context.Context, d notify.Dispatcher) error {
		return d.BookingReceived(ctx, notice, qrPNG)
	})
	e.announcer.StallAvailabilityChanged(res.EventID)

	return res, nil
}

// validateRequest checks the shape of the request before any lookup
func (e *AllocationEngine) validateRequest(req *CreateReservationRequest) error {
	if len(req.StallIDs) == 0 {
		return apperr.Validation("at least one stall must be selected")
	}
	if len(req.StallIDs) > e.rules.MaxStallsPerBooking {
		return apperr.Validation("maximum %d stalls per booking", e.rules.MaxStallsPerBooking)
	}

	seen := make(map[int64]struct{}, len(req.StallIDs))
	for _, id := range req.StallIDs {
		if _, dup := seen[id]; dup {
			return apperr.Validation("stall %d selected more than once", id)
		}
		seen[id] = struct{}{}
	}

	if !models.IsValidPaymentMethod(req.PaymentMethod) {
		return apperr.Validation("unsupported payment method %q", req.PaymentMethod)
	}
	return nil
}

// claimableStalls loads the requested stalls and checks, in order, that they
// all exist, none is blocked, all belong to the event and none is claimed by a
// live reservation
func (e *AllocationEngine) claimableStalls(ctx context.Context, tx store.LedgerTx, eventID int64, ids []int64) ([]models.Stall, error) {
	stalls, err := tx.GetStallsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load stalls: %w", err)
	}
	if len(stalls) != len(ids) {
		return nil, apperr.NotFound("some stalls not found")
	}

	for _, s := range stalls {
		if s.Blocked {
			return nil, apperr.Validation("stall %s is blocked", s.StallCode)
		}
	}
	for _, s := range stalls {
		if s.EventID != eventID {
			return nil, apperr.Validation("stall %s does not belong to this event", s.StallCode)
		}
	}

	booked, err := tx.GetBookedStallIDs(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booked stalls: %w", err)
	}
	claimed := make(map[int64]struct{}, len(booked))
	for _, id := range booked {
		claimed[id] = struct{}{}
	}
	for _, s := range stalls {
		if _, ok := claimed[s.ID]; ok {
			return nil, apperr.Conflict("stall %s is already booked", s.StallCode)
		}
	}

	return stalls, nil
}

// newBookingCode generates a booking code not used by any reservation
func (e *AllocationEngine) newBookingCode(ctx context.Context, tx store.LedgerTx) (string, error) {
	for i := 0; i < bookingCodeAttempts; i++ {
		code := bookingCodePrefix + strings.ToUpper(uuid.New().String()[:8])
		exists, err := tx.BookingCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check booking code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique booking code after %d attempts", bookingCodeAttempts)
}

// conflictOnRace reports a write rejected by the database as a Conflict.
// Application errors pass through untouched.
func conflictOnRace(err error, msg string) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		return apperr.Conflict("%s", msg).Wrap(err)
	}
	return err
}

func rejectReason(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindValidation:
		return "validation"
	case apperr.KindConflict:
		return "conflict"
	}
	return "internal"
}

func totalPrice(stalls []models.Stall) int64 {
	var total int64
	for _, s := range stalls {
		total += s.Price
	}
	return total
}

func stallIDs(stalls []models.Stall) []int64 {
	ids := make([]int64, len(stalls))
	for i, s := range stalls {
		ids[i] = s.ID
	}
	return ids
}

func genreIDs(genres []models.Genre) []int64 {
	ids := make([]int64, len(genres))
	for i, g := range genres {
		ids[i] = g.ID
	}
	return ids
}
