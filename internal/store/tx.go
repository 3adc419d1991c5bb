package store

import (
	"context"
	"fmt"
	"time"

	"stall-reservation/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Tx implements LedgerTx on a database transaction
type Tx struct {
	tx *sqlx.Tx
}

// LockEvent loads an event with SELECT ... FOR UPDATE
func (t *Tx) LockEvent(ctx context.Context, eventID int64) (*models.Event, error) {
	return getEvent(ctx, t.tx, eventID, true)
}

// GetEvent loads an event without locking it
func (t *Tx) GetEvent(ctx context.Context, eventID int64) (*models.Event, error) {
	return getEvent(ctx, t.tx, eventID, false)
}

// DeactivateEvent soft-deletes an event
func (t *Tx) DeactivateEvent(ctx context.Context, eventID int64) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE events SET active = FALSE WHERE id = $1", eventID)
	return err
}

// GetVendor retrieves a vendor by ID
func (t *Tx) GetVendor(ctx context.Context, vendorID int64) (*models.Vendor, error) {
	return getVendor(ctx, t.tx, vendorID)
}

// SetVendorActive flips a vendor's active flag
func (t *Tx) SetVendorActive(ctx context.Context, vendorID int64, active bool) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE vendors SET active = $1 WHERE id = $2", active, vendorID)
	return err
}

// HasActiveReservation reports whether a vendor holds a live reservation for an event
func (t *Tx) HasActiveReservation(ctx context.Context, vendorID, eventID int64) (bool, error) {
	return hasActiveReservation(ctx, t.tx, vendorID, eventID)
}

// GetStallsByIDs retrieves the stalls with the given IDs. Missing IDs are
// simply absent from the result.
func (t *Tx) GetStallsByIDs(ctx context.Context, ids []int64) ([]models.Stall, error) {
	if len(ids) == 0 {
		return []models.Stall{}, nil
	}

	query, args, err := sqlx.In("SELECT "+stallColumns+" FROM stalls WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	query = t.tx.Rebind(query)

	var stalls []models.Stall
	err = t.tx.SelectContext(ctx, &stalls, query, args...)
	return stalls, err
}

// GetBookedStallIDs returns the stalls claimed by live reservations of an event
func (t *Tx) GetBookedStallIDs(ctx context.Context, eventID int64) ([]int64, error) {
	return getBookedStallIDs(ctx, t.tx, eventID)
}

// GetGenresByIDs retrieves the genres with the given IDs
func (t *Tx) GetGenresByIDs(ctx context.Context, ids []int64) ([]models.Genre, error) {
	genres := []models.Genre{}
	if len(ids) == 0 {
		return genres, nil
	}
	err := t.tx.SelectContext(ctx, &genres,
		"SELECT "+genreColumns+" FROM genres WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
	return genres, err
}

// BookingCodeExists reports whether a booking code is taken
func (t *Tx) BookingCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM reservations WHERE booking_code = $1)", code)
	return exists, err
}

// CreateReservation inserts a reservation and fills its generated fields
func (t *Tx) CreateReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (booking_code, vendor_id, event_id, total_amount, advance_amount,
			status, stall_description, cancellation_deadline, payment_method, account_number,
			bank_name, address, qr_code_value, admin_ack)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query,
		r.BookingCode, r.VendorID, r.EventID, r.TotalAmount, r.AdvanceAmount,
		r.Status, r.StallDescription, r.CancellationDeadline, r.PaymentMethod, r.AccountNumber,
		r.BankName, r.Address, r.QRCodeValue, r.AdminAck,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

// AddReservationStalls records the stall claims of a reservation
func (t *Tx) AddReservationStalls(ctx context.Context, reservationID int64, stallIDs []int64) error {
	for _, stallID := range stallIDs {
		if _, err := t.tx.ExecContext(ctx,
			"INSERT INTO reservation_stalls (reservation_id, stall_id) VALUES ($1, $2)",
			reservationID, stallID); err != nil {
			return fmt.Errorf("failed to claim stall %d: %w", stallID, err)
		}
	}
	return nil
}

// AddReservationGenres records the genre tags of a reservation
func (t *Tx) AddReservationGenres(ctx context.Context, reservationID int64, genreIDs []int64) error {
	for _, genreID := range genreIDs {
		if _, err := t.tx.ExecContext(ctx,
			"INSERT INTO reservation_genres (reservation_id, genre_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			reservationID, genreID); err != nil {
			return fmt.Errorf("failed to tag genre %d: %w", genreID, err)
		}
	}
	return nil
}

// CreatePayment creates a new payment record
func (t *Tx) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (reservation_id, amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query, p.ReservationID, p.Amount, p.Status).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// LockReservation loads a reservation with SELECT ... FOR UPDATE
func (t *Tx) LockReservation(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	r, err := getReservation(ctx, t.tx, "id = $1 FOR UPDATE", reservationID)
	if err != nil {
		return nil, err
	}
	if err := loadStallIDs(ctx, t.tx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetLiveReservationsByEvent retrieves the live reservations of an event
func (t *Tx) GetLiveReservationsByEvent(ctx context.Context, eventID int64) ([]models.Reservation, error) {
	return selectReservations(ctx, t.tx,
		"event_id = $1 AND status = ANY($2) ORDER BY id FOR UPDATE",
		eventID, pq.Array(models.LiveStatuses))
}

// UpdateReservationStatus updates reservation status
func (t *Tx) UpdateReservationStatus(ctx context.Context, reservationID int64, status string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE reservations SET status = $1, updated_at = NOW() WHERE id = $2",
		status, reservationID)
	return err
}

// SetAdminAck sets the admin acknowledgement flag
func (t *Tx) SetAdminAck(ctx context.Context, reservationID int64, ack bool) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE reservations SET admin_ack = $1, updated_at = NOW() WHERE id = $2",
		ack, reservationID)
	return err
}

// GetPaymentByReservationID loads and locks the payment of a reservation
func (t *Tx) GetPaymentByReservationID(ctx context.Context, reservationID int64) (*models.Payment, error) {
	return getPayment(ctx, t.tx, reservationID, true)
}

// MarkPaymentCompleted records the advance as paid
func (t *Tx) MarkPaymentCompleted(ctx context.Context, paymentID int64, paidAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, paid_at = $2, updated_at = NOW() WHERE id = $3",
		models.PaymentStatusCompleted, paidAt, paymentID)
	return err
}

// MarkPaymentRefunded records the advance as refunded
func (t *Tx) MarkPaymentRefunded(ctx context.Context, paymentID int64, refundedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, refunded_at = $2, updated_at = NOW() WHERE id = $3",
		models.PaymentStatusRefunded, refundedAt, paymentID)
	return err
}

// AppendLog appends an audit entry
func (t *Tx) AppendLog(ctx context.Context, entry *models.ReservationLog) error {
	return t.tx.QueryRowxContext(ctx,
		"INSERT INTO reservation_logs (reservation_id, action, details) VALUES ($1, $2, $3) RETURNING id, created_at",
		entry.ReservationID, entry.Action, entry.Details,
	).Scan(&entry.ID, &entry.CreatedAt)
}
