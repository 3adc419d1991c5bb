package store

import (
	"context"
	"errors"
	"time"

	"stall-reservation/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the database rejects a write because of a
	// uniqueness constraint or a serialization failure
	ErrConflict = errors.New("write conflict")
)

// Ledger is the read side of the inventory store and reservation ledger plus
// the entry point for atomic units of work
type Ledger interface {
	GetEvent(ctx context.Context, eventID int64) (*models.Event, error)
	GetVendor(ctx context.Context, vendorID int64) (*models.Vendor, error)
	GetReservation(ctx context.Context, reservationID int64) (*models.Reservation, error)
	GetReservationByBookingCode(ctx context.Context, code string) (*models.Reservation, error)
	GetReservationsByVendor(ctx context.Context, vendorID int64) ([]models.Reservation, error)
	GetReservationsByStatus(ctx context.Context, status string) ([]models.Reservation, error)
	GetPaymentByReservationID(ctx context.Context, reservationID int64) (*models.Payment, error)
	HasActiveReservation(ctx context.Context, vendorID, eventID int64) (bool, error)
	GetBookedStallIDs(ctx context.Context, eventID int64) ([]int64, error)
	GetStallsByEvent(ctx context.Context, eventID int64) ([]models.Stall, error)

	// WithTx runs fn in one transaction; any error returned by fn rolls
	// every write back
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the set of operations available inside a transaction
type LedgerTx interface {
	// LockEvent loads an event and holds a row lock until the transaction
	// ends. Every booking or bulk change of an event goes through this lock.
	LockEvent(ctx context.Context, eventID int64) (*models.Event, error)
	GetEvent(ctx context.Context, eventID int64) (*models.Event, error)
	DeactivateEvent(ctx context.Context, eventID int64) error

	GetVendor(ctx context.Context, vendorID int64) (*models.Vendor, error)
	SetVendorActive(ctx context.Context, vendorID int64, active bool) error

	HasActiveReservation(ctx context.Context, vendorID, eventID int64) (bool, error)
	GetStallsByIDs(ctx context.Context, ids []int64) ([]models.Stall, error)
	GetBookedStallIDs(ctx context.Context, eventID int64) ([]int64, error)
	GetGenresByIDs(ctx context.Context, ids []int64) ([]models.Genre, error)
	BookingCodeExists(ctx context.Context, code string) (bool, error)

	CreateReservation(ctx context.Context, r *models.Reservation) error
	AddReservationStalls(ctx context.Context, reservationID int64, stallIDs []int64) error
	AddReservationGenres(ctx context.Context, reservationID int64, genreIDs []int64) error
	CreatePayment(ctx context.Context, p *models.Payment) error

	// LockReservation loads a reservation and holds a row lock until the
	// transaction ends
	LockReservation(ctx context.Context, reservationID int64) (*models.Reservation, error)
	GetLiveReservationsByEvent(ctx context.Context, eventID int64) ([]models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, reservationID int64, status string) error
	SetAdminAck(ctx context.Context, reservationID int64, ack bool) error

	GetPaymentByReservationID(ctx context.Context, reservationID int64) (*models.Payment, error)
	MarkPaymentCompleted(ctx context.Context, paymentID int64, paidAt time.Time) error
	MarkPaymentRefunded(ctx context.Context, paymentID int64, refundedAt time.Time) error

	AppendLog(ctx context.Context, entry *models.ReservationLog) error
}

var (
	_ Ledger   = (*Store)(nil)
	_ LedgerTx = (*Tx)(nil)
)
