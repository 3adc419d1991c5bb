package store

import (
	"context"
	"database/sql"
	"fmt"

	"stall-reservation/internal/models"

	"github.com/jmoiron/sqlx"
)

const reservationColumns = `id, booking_code, vendor_id, event_id, total_amount, advance_amount,
	status, stall_description, cancellation_deadline, payment_method, account_number,
	bank_name, address, qr_code_value, admin_ack, created_at, updated_at`

const paymentColumns = "id, reservation_id, amount, status, paid_at, refunded_at, created_at, updated_at"

// GetReservation retrieves a reservation with its stalls, genres and logs
func (s *Store) GetReservation(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	r, err := getReservation(ctx, s.db, "id = $1", reservationID)
	if err != nil {
		return nil, err
	}
	if err := loadAssociations(ctx, s.db, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetReservationByBookingCode retrieves a reservation by its booking code
func (s *Store) GetReservationByBookingCode(ctx context.Context, code string) (*models.Reservation, error) {
	r, err := getReservation(ctx, s.db, "booking_code = $1", code)
	if err != nil {
		return nil, err
	}
	if err := loadAssociations(ctx, s.db, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetReservationsByVendor retrieves a vendor's reservations, newest first
func (s *Store) GetReservationsByVendor(ctx context.Context, vendorID int64) ([]models.Reservation, error) {
	return selectReservations(ctx, s.db,
		"vendor_id = $1 ORDER BY created_at DESC", vendorID)
}

// GetReservationsByStatus retrieves every reservation in a status
func (s *Store) GetReservationsByStatus(ctx context.Context, status string) ([]models.Reservation, error) {
	return selectReservations(ctx, s.db, "status = $1 ORDER BY id", status)
}

// GetPaymentByReservationID retrieves the payment of a reservation
func (s *Store) GetPaymentByReservationID(ctx context.Context, reservationID int64) (*models.Payment, error) {
	return getPayment(ctx, s.db, reservationID, false)
}

// HasActiveReservation reports whether a vendor holds a live reservation for an event
func (s *Store) HasActiveReservation(ctx context.Context, vendorID, eventID int64) (bool, error) {
	return hasActiveReservation(ctx, s.db, vendorID, eventID)
}

func getReservation(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*models.Reservation, error) {
	var r models.Reservation
	err := sqlx.GetContext(ctx, q, &r, "SELECT "+reservationColumns+" FROM reservations WHERE "+where, arg)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func selectReservations(ctx context.Context, q sqlx.QueryerContext, where string, args ...interface{}) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := sqlx.SelectContext(ctx, q, &reservations,
		"SELECT "+reservationColumns+" FROM reservations WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	for i := range reservations {
		if err := loadStallIDs(ctx, q, &reservations[i]); err != nil {
			return nil, err
		}
	}
	return reservations, nil
}

func loadStallIDs(ctx context.Context, q sqlx.QueryerContext, r *models.Reservation) error {
	r.StallIDs = []int64{}
	return sqlx.SelectContext(ctx, q, &r.StallIDs,
		"SELECT stall_id FROM reservation_stalls WHERE reservation_id = $1 ORDER BY stall_id", r.ID)
}

func loadAssociations(ctx context.Context, q sqlx.QueryerContext, r *models.Reservation) error {
	if err := loadStallIDs(ctx, q, r); err != nil {
		return fmt.Errorf("failed to load stalls: %w", err)
	}

	r.GenreIDs = []int64{}
	if err := sqlx.SelectContext(ctx, q, &r.GenreIDs,
		"SELECT genre_id FROM reservation_genres WHERE reservation_id = $1 ORDER BY genre_id", r.ID); err != nil {
		return fmt.Errorf("failed to load genres: %w", err)
	}

	if err := sqlx.SelectContext(ctx, q, &r.Logs,
		"SELECT id, reservation_id, action, details, created_at FROM reservation_logs WHERE reservation_id = $1 ORDER BY id",
		r.ID); err != nil {
		return fmt.Errorf("failed to load logs: %w", err)
	}
	return nil
}

func getPayment(ctx context.Context, q sqlx.QueryerContext, reservationID int64, forUpdate bool) (*models.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments WHERE reservation_id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var payment models.Payment
	err := sqlx.GetContext(ctx, q, &payment, query, reservationID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment for reservation %d: %w", reservationID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
