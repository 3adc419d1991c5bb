package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stall-reservation/internal/models"
	"stall-reservation/internal/notify"
	"stall-reservation/internal/qrcode"

	"github.com/stretchr/testify/require"
)

const (
	fairEventID   = int64(1)
	soonEventID   = int64(2)
	vendorID      = int64(100)
	otherVendorID = int64(101)
	idleVendorID  = int64(102)
)

var (
	// today of every test unless moved
	testNow     = time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	fairDate    = testNow.AddDate(0, 0, 30)
	soonDate    = testNow.AddDate(0, 0, 3)
	testRules   = Rules{MaxStallsPerBooking: 3, DaysBeforeEventNoBooking: 7, AdvancePercent: 20, CancellationDaysBefore: 5}
	errQRFailed = errors.New("qr encoder exploded")
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []string
	qr    map[string][]byte
	fail  bool
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{qr: map[string][]byte{}}
}

func (d *recordingDispatcher) record(kind string, qrPNG []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, kind)
	if qrPNG != nil {
		d.qr[kind] = qrPNG
	}
	if d.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (d *recordingDispatcher) count(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == kind {
			n++
		}
	}
	return n
}

func (d *recordingDispatcher) BookingReceived(ctx context.Context, n notify.ReservationNotice, qrPNG []byte) error {
	return d.record("booking_received", qrPNG)
}

func (d *recordingDispatcher) PaymentConfirmed(ctx context.Context, n notify.ReservationNotice, qrPNG []byte) error {
	return d.record("payment_confirmed", qrPNG)
}

func (d *recordingDispatcher) Cancelled(ctx context.Context, n notify.ReservationNotice) error {
	return d.record("cancelled", nil)
}

func (d *recordingDispatcher) Refunded(ctx context.Context, n notify.ReservationNotice) error {
	return d.record("refunded", nil)
}

func (d *recordingDispatcher) VendorCancelSuccess(ctx context.Context, n notify.ReservationNotice) error {
	return d.record("vendor_cancel_success", nil)
}

func (d *recordingDispatcher) EventRemoved(ctx context.Context, vendorEmail, eventName, bookingCode string) error {
	return d.record("event_removed", nil)
}

func (d *recordingDispatcher) AccountDeactivated(ctx context.Context, email, name string) error {
	return d.record("account_deactivated", nil)
}

func (d *recordingDispatcher) CancellationDeadlineApproaching(ctx context.Context, n notify.ReservationNotice) error {
	return d.record(ReminderCancellationDeadline, nil)
}

func (d *recordingDispatcher) EventReminder(ctx context.Context, n notify.ReservationNotice) error {
	return d.record(ReminderEvent, nil)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []int64
}

func (p *recordingPublisher) PublishStallAvailabilityChanged(ctx context.Context, e *models.StallAvailabilityChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.FairEventID)
	return nil
}

func (p *recordingPublisher) published() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.events...)
}

type failingQR struct{}

func (failingQR) Render(text string, size int) ([]byte, error) {
	return nil, errQRFailed
}

type fixture struct {
	ledger     *memLedger
	dispatcher *recordingDispatcher
	publisher  *recordingPublisher
	announcer  *Announcer
	engine     *AllocationEngine
	lifecycle  *Lifecycle
}

// newFixture seeds two events: one 30 days out with stalls 11-14 (14 blocked)
// and one 3 days out with stall 21
func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger := newMemLedger()
	ledger.addEvent(models.Event{ID: fairEventID, Name: "Colombo International Book Fair", EventDate: fairDate, Location: "BMICH", Active: true})
	ledger.addEvent(models.Event{ID: soonEventID, Name: "Kandy Book Fair", EventDate: soonDate, Location: "Kandy", Active: true})

	ledger.addStall(models.Stall{ID: 11, EventID: fairEventID, StallCode: "A1", Size: "SMALL", Price: 100000})
	ledger.addStall(models.Stall{ID: 12, EventID: fairEventID, StallCode: "A2", Size: "MEDIUM", Price: 150000})
	ledger.addStall(models.Stall{ID: 13, EventID: fairEventID, StallCode: "A3", Size: "LARGE", Price: 200000})
	ledger.addStall(models.Stall{ID: 14, EventID: fairEventID, StallCode: "A4", Size: "SMALL", Price: 50000, Blocked: true})
	ledger.addStall(models.Stall{ID: 21, EventID: soonEventID, StallCode: "K1", Size: "SMALL", Price: 80000})

	ledger.addVendor(models.Vendor{ID: vendorID, Name: "Sarasavi", Email: "sarasavi@example.com", Active: true})
	ledger.addVendor(models.Vendor{ID: otherVendorID, Name: "Vijitha Yapa", Email: "vy@example.com", Active: true})
	ledger.addVendor(models.Vendor{ID: idleVendorID, Name: "Closed Books", Email: "closed@example.com", Active: false})

	ledger.addGenre(models.Genre{ID: 1, Name: "Fiction"})
	ledger.addGenre(models.Genre{ID: 2, Name: "Children"})

	return newFixtureWith(t, ledger, qrcode.NewRenderer())
}

func newFixtureWith(t *testing.T, ledger *memLedger, qr QRRenderer) *fixture {
	t.Helper()

	dispatcher := newRecordingDispatcher()
	publisher := &recordingPublisher{}
	announcer := NewAnnouncer(dispatcher, publisher)

	engine := NewAllocationEngine(ledger, qr, announcer, testRules)
	engine.now = func() time.Time { return testNow }
	lifecycle := NewLifecycle(ledger, qr, announcer)
	lifecycle.now = func() time.Time { return testNow }

	t.Cleanup(announcer.Wait)

	return &fixture{
		ledger:     ledger,
		dispatcher: dispatcher,
		publisher:  publisher,
		announcer:  announcer,
		engine:     engine,
		lifecycle:  lifecycle,
	}
}

func (f *fixture) setNow(now time.Time) {
	f.engine.now = func() time.Time { return now }
	f.lifecycle.now = func() time.Time { return now }
}

func bookingRequest(eventID int64, stallIDs ...int64) *CreateReservationRequest {
	return &CreateReservationRequest{
		EventID:          eventID,
		StallIDs:         stallIDs,
		GenreIDs:         []int64{1},
		StallDescription: "Children's books and stationery",
		PaymentMethod:    models.PaymentMethodBankTransfer,
		AccountNumber:    "001122334455",
		BankName:         "Commercial Bank",
		Address:          "12 Galle Road, Colombo 03",
	}
}

// book creates a reservation that is expected to succeed
func (f *fixture) book(t *testing.T, vendor int64, stallIDs ...int64) *models.Reservation {
	t.Helper()
	res, err := f.engine.CreateReservation(context.Background(), vendor, bookingRequest(fairEventID, stallIDs...))
	require.NoError(t, err)
	return res
}
