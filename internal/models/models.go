package models

import "time"

// Event is a book fair that owns a set of stalls
type Event struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	EventDate time.Time `db:"event_date" json:"event_date"`
	Location  string    `db:"location" json:"location"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Stall is a bookable unit inside one event
type Stall struct {
	ID        int64  `db:"id" json:"id"`
	EventID   int64  `db:"event_id" json:"event_id"`
	StallCode string `db:"stall_code" json:"stall_code"`
	Size      string `db:"size" json:"size"`
	Price     int64  `db:"price" json:"price"`
	Blocked   bool   `db:"blocked" json:"blocked"`
	PositionX *int   `db:"position_x" json:"position_x,omitempty"`
	PositionY *int   `db:"position_y" json:"position_y,omitempty"`
}

// StallAvailability is a stall together with its derived availability
type StallAvailability struct {
	Stall
	Available bool `json:"available"`
}

// Vendor is a publisher or bookseller that books stalls
type Vendor struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Email  string `db:"email" json:"email"`
	Active bool   `db:"active" json:"active"`
}

// Genre is a flat tag attached to reservations
type Genre struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Reservation is a vendor's claim on one or more stalls of an event.
// Amounts are in minor currency units (cents).
type Reservation struct {
	ID                   int64     `db:"id" json:"id"`
	BookingCode          string    `db:"booking_code" json:"booking_code"`
	VendorID             int64     `db:"vendor_id" json:"vendor_id"`
	EventID              int64     `db:"event_id" json:"event_id"`
	TotalAmount          int64     `db:"total_amount" json:"total_amount"`
	AdvanceAmount        int64     `db:"advance_amount" json:"advance_amount"`
	Status               string    `db:"status" json:"status"`
	StallDescription     string    `db:"stall_description" json:"stall_description,omitempty"`
	CancellationDeadline time.Time `db:"cancellation_deadline" json:"cancellation_deadline"`
	PaymentMethod        string    `db:"payment_method" json:"payment_method"`
	AccountNumber        string    `db:"account_number" json:"account_number"`
	BankName             string    `db:"bank_name" json:"bank_name"`
	Address              string    `db:"address" json:"address"`
	QRCodeValue          string    `db:"qr_code_value" json:"qr_code_value"`
	AdminAck             bool      `db:"admin_ack" json:"admin_ack"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`

	StallIDs []int64          `db:"-" json:"stall_ids"`
	GenreIDs []int64          `db:"-" json:"genre_ids"`
	Logs     []ReservationLog `db:"-" json:"logs,omitempty"`
}

// IsLive reports whether the reservation still holds its stalls
func (r *Reservation) IsLive() bool {
	return IsLiveStatus(r.Status)
}

// Payment tracks the advance owed for a reservation
type Payment struct {
	ID            int64      `db:"id" json:"id"`
	ReservationID int64      `db:"reservation_id" json:"reservation_id"`
	Amount        int64      `db:"amount" json:"amount"`
	Status        string     `db:"status" json:"status"`
	PaidAt        *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	RefundedAt    *time.Time `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// ReservationLog is an immutable audit entry
type ReservationLog struct {
	ID            int64     `db:"id" json:"id"`
	ReservationID int64     `db:"reservation_id" json:"reservation_id"`
	Action        string    `db:"action" json:"action"`
	Details       string    `db:"details" json:"details"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Reservation statuses
const (
	ReservationStatusPending      = "PENDING"
	ReservationStatusSuccess      = "SUCCESS"
	ReservationStatusCancelled    = "CANCELLED"
	ReservationStatusRefunded     = "REFUNDED"
	ReservationStatusEventRemoved = "EVENT_REMOVED"
)

// LiveStatuses are the statuses that keep stalls claimed
var LiveStatuses = []string{ReservationStatusPending, ReservationStatusSuccess}

// IsLiveStatus reports whether status counts toward stall exclusivity
func IsLiveStatus(status string) bool {
	return status == ReservationStatusPending || status == ReservationStatusSuccess
}

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusRefunded  = "REFUNDED"
)

// Payment methods accepted at booking time
const (
	PaymentMethodBankTransfer = "BANK_TRANSFER"
	PaymentMethodCreditCard   = "CREDIT_CARD"
)

// IsValidPaymentMethod reports whether m is an accepted payment method
func IsValidPaymentMethod(m string) bool {
	return m == PaymentMethodBankTransfer || m == PaymentMethodCreditCard
}

// Log actions
const (
	LogActionRefunded     = "REFUNDED"
	LogActionCancelled    = "CANCELLED"
	LogActionEventRemoved = "EVENT_REMOVED"
)
