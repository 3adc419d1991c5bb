package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"stall-reservation/internal/models"
	"stall-reservation/internal/store"
)

// memState is the in-memory ledger contents. Transactions work on a clone and
// swap it in on commit.
type memState struct {
	events       map[int64]models.Event
	vendors      map[int64]models.Vendor
	stalls       map[int64]models.Stall
	genres       map[int64]models.Genre
	reservations map[int64]models.Reservation
	payments     map[int64]models.Payment
	logs         []models.ReservationLog
	nextID       int64
	clock        time.Time
}

func newMemState() *memState {
	return &memState{
		events:       map[int64]models.Event{},
		vendors:      map[int64]models.Vendor{},
		stalls:       map[int64]models.Stall{},
		genres:       map[int64]models.Genre{},
		reservations: map[int64]models.Reservation{},
		payments:     map[int64]models.Payment{},
		nextID:       1000,
		clock:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.vendors {
		c.vendors[k] = v
	}
	for k, v := range s.stalls {
		c.stalls[k] = v
	}
	for k, v := range s.genres {
		c.genres[k] = v
	}
	for k, v := range s.reservations {
		v.StallIDs = append([]int64(nil), v.StallIDs...)
		v.GenreIDs = append([]int64(nil), v.GenreIDs...)
		c.reservations[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.logs = append([]models.ReservationLog(nil), s.logs...)
	c.nextID = s.nextID
	c.clock = s.clock
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// tick returns a strictly increasing timestamp so ordering by creation time is stable
func (s *memState) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// memLedger implements store.Ledger in memory. Transactions are serialised,
// which gives the same guarantees as the row locks of the real store.
type memLedger struct {
	mu    sync.Mutex
	state *memState

	// failOn makes the named transaction step fail
	failOn string
}

func newMemLedger() *memLedger {
	return &memLedger{state: newMemState()}
}

var errInjected = errors.New("injected failure")

func (l *memLedger) WithTx(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	work := l.state.clone()
	if err := fn(&memTx{s: work, failOn: l.failOn}); err != nil {
		return err
	}
	l.state = work
	return nil
}

func (l *memLedger) read() *memTx {
	return &memTx{s: l.state}
}

func (l *memLedger) GetEvent(ctx context.Context, eventID int64) (*models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read().GetEvent(ctx, eventID)
}

func (l *memLedger) GetVendor(ctx context.Context, vendorID int64) (*models.Vendor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read().GetVendor(ctx, vendorID)
}

func (l *memLedger) GetReservation(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, err := l.read().LockReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	l.attachLogs(r)
	return r, nil
}

func (l *memLedger) GetReservationByBookingCode(ctx context.Context, code string) (*models.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.state.reservations {
		if r.BookingCode == code {
			r.StallIDs = append([]int64(nil), r.StallIDs...)
			l.attachLogs(&r)
			return &r, nil
		}
	}
	return nil, fmt.Errorf("reservation %s: %w", code, store.ErrNotFound)
}

func (l *memLedger) attachLogs(r *models.Reservation) {
	for _, entry := range l.state.logs {
		if entry.ReservationID == r.ID {
			r.Logs = append(r.Logs, entry)
		}
	}
}

func (l *memLedger) GetReservationsByVendor(ctx context.Context, vendorID int64) ([]models.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.read().filter(func(r models.Reservation) bool { return r.VendorID == vendorID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *memLedger) GetReservationsByStatus(ctx context.Context, status string) ([]models.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read().filter(func(r models.Reservation) bool { return r.Status == status }), nil
}

func (l *memLedger) GetPaymentByReservationID(ctx context.Context, reservationID int64) (*models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read().GetPaymentByReservationID(ctx, reservationID)
}

func (l *memLedger) HasActiveReservation(ctx context.Context, vendorID, eventID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read().HasActiveReservation(ctx, vendorID, eventID)
}

func (l *memLedger) GetBookedStallIDs(ctx context.Context, eventID int64) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read().GetBookedStallIDs(ctx, eventID)
}

func (l *memLedger) GetStallsByEvent(ctx context.Context, eventID int64) ([]models.Stall, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stalls := []models.Stall{}
	for _, s := range l.state.stalls {
		if s.EventID == eventID {
			stalls = append(stalls, s)
		}
	}
	sort.Slice(stalls, func(i, j int) bool { return stalls[i].StallCode < stalls[j].StallCode })
	return stalls, nil
}

// snapshot helpers for assertions

func (l *memLedger) reservationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.reservations)
}

func (l *memLedger) paymentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.payments)
}

func (l *memLedger) logsFor(reservationID int64) []models.ReservationLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ReservationLog
	for _, entry := range l.state.logs {
		if entry.ReservationID == reservationID {
			out = append(out, entry)
		}
	}
	return out
}

func (l *memLedger) payment(reservationID int64) models.Payment {
	p, err := l.GetPaymentByReservationID(context.Background(), reservationID)
	if err != nil {
		panic(err)
	}
	return *p
}

func (l *memLedger) status(reservationID int64) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.reservations[reservationID].Status
}

// seeding

func (l *memLedger) addEvent(e models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.events[e.ID] = e
}

func (l *memLedger) addVendor(v models.Vendor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.vendors[v.ID] = v
}

func (l *memLedger) addStall(s models.Stall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.stalls[s.ID] = s
}

func (l *memLedger) addGenre(g models.Genre) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.genres[g.ID] = g
}

// memTx implements store.LedgerTx over a working copy of the state
type memTx struct {
	s      *memState
	failOn string
}

func (t *memTx) fail(step string) error {
	if t.failOn == step {
		return fmt.Errorf("%s: %w", step, errInjected)
	}
	return nil
}

func (t *memTx) filter(keep func(r models.Reservation) bool) []models.Reservation {
	var out []models.Reservation
	for _, r := range t.s.reservations {
		if keep(r) {
			r.StallIDs = append([]int64(nil), r.StallIDs...)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *memTx) LockEvent(ctx context.Context, eventID int64) (*models.Event, error) {
	return t.GetEvent(ctx, eventID)
}

func (t *memTx) GetEvent(ctx context.Context, eventID int64) (*models.Event, error) {
	e, ok := t.s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", eventID, store.ErrNotFound)
	}
	return &e, nil
}

func (t *memTx) DeactivateEvent(ctx context.Context, eventID int64) error {
	e := t.s.events[eventID]
	e.Active = false
	t.s.events[eventID] = e
	return nil
}

func (t *memTx) GetVendor(ctx context.Context, vendorID int64) (*models.Vendor, error) {
	v, ok := t.s.vendors[vendorID]
	if !ok {
		return nil, fmt.Errorf("vendor %d: %w", vendorID, store.ErrNotFound)
	}
	return &v, nil
}

func (t *memTx) SetVendorActive(ctx context.Context, vendorID int64, active bool) error {
	v := t.s.vendors[vendorID]
	v.Active = active
	t.s.vendors[vendorID] = v
	return nil
}

func (t *memTx) HasActiveReservation(ctx context.Context, vendorID, eventID int64) (bool, error) {
	for _, r := range t.s.reservations {
		if r.VendorID == vendorID && r.EventID == eventID && r.IsLive() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) GetStallsByIDs(ctx context.Context, ids []int64) ([]models.Stall, error) {
	stalls := []models.Stall{}
	for _, id := range ids {
		if s, ok := t.s.stalls[id]; ok {
			stalls = append(stalls, s)
		}
	}
	return stalls, nil
}

func (t *memTx) GetBookedStallIDs(ctx context.Context, eventID int64) ([]int64, error) {
	ids := []int64{}
	for _, r := range t.s.reservations {
		if r.EventID == eventID && r.IsLive() {
			ids = append(ids, r.StallIDs...)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *memTx) GetGenresByIDs(ctx context.Context, ids []int64) ([]models.Genre, error) {
	genres := []models.Genre{}
	for _, id := range ids {
		if g, ok := t.s.genres[id]; ok {
			genres = append(genres, g)
		}
	}
	return genres, nil
}

func (t *memTx) BookingCodeExists(ctx context.Context, code string) (bool, error) {
	for _, r := range t.s.reservations {
		if r.BookingCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateReservation(ctx context.Context, r *models.Reservation) error {
	if err := t.fail("CreateReservation"); err != nil {
		return err
	}
	// Mirrors the partial unique index on live (vendor, event)
	if live, _ := t.HasActiveReservation(ctx, r.VendorID, r.EventID); live && r.IsLive() {
		return fmt.Errorf("%w: duplicate live reservation", store.ErrConflict)
	}

	r.ID = t.s.id()
	r.CreatedAt = t.s.tick()
	r.UpdatedAt = r.CreatedAt

	stored := *r
	stored.StallIDs = nil
	stored.GenreIDs = nil
	t.s.reservations[r.ID] = stored
	return nil
}

func (t *memTx) AddReservationStalls(ctx context.Context, reservationID int64, stallIDs []int64) error {
	r := t.s.reservations[reservationID]
	r.StallIDs = append(r.StallIDs, stallIDs...)
	t.s.reservations[reservationID] = r
	return nil
}

func (t *memTx) AddReservationGenres(ctx context.Context, reservationID int64, genreIDs []int64) error {
	r := t.s.reservations[reservationID]
	r.GenreIDs = append(r.GenreIDs, genreIDs...)
	t.s.reservations[reservationID] = r
	return nil
}

func (t *memTx) CreatePayment(ctx context.Context, p *models.Payment) error {
	if err := t.fail("CreatePayment"); err != nil {
		return err
	}
	p.ID = t.s.id()
	p.CreatedAt = t.s.tick()
	p.UpdatedAt = p.CreatedAt
	t.s.payments[p.ID] = *p
	return nil
}

func (t *memTx) LockReservation(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	r, ok := t.s.reservations[reservationID]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", reservationID, store.ErrNotFound)
	}
	r.StallIDs = append([]int64(nil), r.StallIDs...)
	r.GenreIDs = append([]int64(nil), r.GenreIDs...)
	return &r, nil
}

func (t *memTx) GetLiveReservationsByEvent(ctx context.Context, eventID int64) ([]models.Reservation, error) {
	return t.filter(func(r models.Reservation) bool { return r.EventID == eventID && r.IsLive() }), nil
}

func (t *memTx) UpdateReservationStatus(ctx context.Context, reservationID int64, status string) error {
	if err := t.fail("UpdateReservationStatus"); err != nil {
		return err
	}
	r := t.s.reservations[reservationID]
	r.Status = status
	r.UpdatedAt = t.s.tick()
	t.s.reservations[reservationID] = r
	return nil
}

func (t *memTx) SetAdminAck(ctx context.Context, reservationID int64, ack bool) error {
	r := t.s.reservations[reservationID]
	r.AdminAck = ack
	t.s.reservations[reservationID] = r
	return nil
}

func (t *memTx) GetPaymentByReservationID(ctx context.Context, reservationID int64) (*models.Payment, error) {
	for _, p := range t.s.payments {
		if p.ReservationID == reservationID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("payment for reservation %d: %w", reservationID, store.ErrNotFound)
}

func (t *memTx) MarkPaymentCompleted(ctx context.Context, paymentID int64, paidAt time.Time) error {
	p := t.s.payments[paymentID]
	p.Status = models.PaymentStatusCompleted
	p.PaidAt = &paidAt
	t.s.payments[paymentID] = p
	return nil
}

func (t *memTx) MarkPaymentRefunded(ctx context.Context, paymentID int64, refundedAt time.Time) error {
	if err := t.fail("MarkPaymentRefunded"); err != nil {
		return err
	}
	p := t.s.payments[paymentID]
	p.Status = models.PaymentStatusRefunded
	p.RefundedAt = &refundedAt
	t.s.payments[paymentID] = p
	return nil
}

func (t *memTx) AppendLog(ctx context.Context, entry *models.ReservationLog) error {
	entry.ID = t.s.id()
	entry.CreatedAt = t.s.tick()
	t.s.logs = append(t.s.logs, *entry)
	return nil
}

var (
	_ store.Ledger   = (*memLedger)(nil)
	_ store.LedgerTx = (*memTx)(nil)
)
