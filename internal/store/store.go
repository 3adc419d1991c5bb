package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"stall-reservation/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a READ COMMITTED transaction. Callers serialize on
// the rows they lock with LockEvent / LockReservation.
func (s *Store) WithTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// mapError turns constraint and serialization failures into ErrConflict
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %s (%s)", ErrConflict, pqErr.Message, pqErr.Constraint)
		}
	}
	return err
}

// GetEvent retrieves an event by ID
func (s *Store) GetEvent(ctx context.Context, eventID int64) (*models.Event, error) {
	return getEvent(ctx, s.db, eventID, false)
}

// GetVendor retrieves a vendor by ID
func (s *Store) GetVendor(ctx context.Context, vendorID int64) (*models.Vendor, error) {
	return getVendor(ctx, s.db, vendorID)
}

// GetBookedStallIDs returns the stalls claimed by live reservations of an event
func (s *Store) GetBookedStallIDs(ctx context.Context, eventID int64) ([]int64, error) {
	return getBookedStallIDs(ctx, s.db, eventID)
}

// GetStallsByEvent retrieves every stall of an event ordered by code
func (s *Store) GetStallsByEvent(ctx context.Context, eventID int64) ([]models.Stall, error) {
	stalls := []models.Stall{}
	err := s.db.SelectContext(ctx, &stalls,
		"SELECT "+stallColumns+" FROM stalls WHERE event_id = $1 ORDER BY stall_code", eventID)
	return stalls, err
}

const (
	eventColumns  = "id, name, event_date, location, active, created_at"
	vendorColumns = "id, name, email, active"
	stallColumns  = "id, event_id, stall_code, size, price, blocked, position_x, position_y"
	genreColumns  = "id, name"
)

func getEvent(ctx context.Context, q sqlx.QueryerContext, eventID int64, forUpdate bool) (*models.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var event models.Event
	err := sqlx.GetContext(ctx, q, &event, query, eventID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %d: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func getVendor(ctx context.Context, q sqlx.QueryerContext, vendorID int64) (*models.Vendor, error) {
	var vendor models.Vendor
	err := sqlx.GetContext(ctx, q, &vendor,
		"SELECT "+vendorColumns+" FROM vendors WHERE id = $1", vendorID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vendor %d: %w", vendorID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func getBookedStallIDs(ctx context.Context, q sqlx.QueryerContext, eventID int64) ([]int64, error) {
	ids := []int64{}
	err := sqlx.SelectContext(ctx, q, &ids, `
		SELECT rs.stall_id
		FROM reservation_stalls rs
		JOIN reservations r ON r.id = rs.reservation_id
		WHERE r.event_id = $1 AND r.status = ANY($2)
		ORDER BY rs.stall_id`,
		eventID, pq.Array(models.LiveStatuses))
	return ids, err
}

func hasActiveReservation(ctx context.Context, q sqlx.QueryerContext, vendorID, eventID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM reservations
			WHERE vendor_id = $1 AND event_id = $2 AND status = ANY($3))`,
		vendorID, eventID, pq.Array(models.LiveStatuses))
	return exists, err
}
