package booking

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"meetbook/backend/internal/calendar"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/notify"
	"meetbook/backend/internal/store"
)

// memRepo keeps bookings in memory and enforces the active-slot uniqueness
// the SQL schema provides.
type memRepo struct {
	txMu sync.Mutex

	mu           sync.Mutex
	meetingTypes map[uuid.UUID]domain.MeetingType
	assigned     map[uuid.UUID][]domain.AvailabilityTemplate
	defaults     map[string]*domain.AvailabilityTemplate
	bookings     map[uuid.UUID]domain.Booking

	// createErr, when set, is returned by CreateBooking inside the
	// transaction.
	createErr  error
	// beforeTx, when set, runs before the meeting type lock is taken.
	beforeTx   func()
	setEventFn func(bookingID uuid.UUID, eventID string) (bool, error)
}

func newMemRepo() *memRepo {
	return &memRepo{
		meetingTypes: map[uuid.UUID]domain.MeetingType{},
		assigned:     map[uuid.UUID][]domain.AvailabilityTemplate{},
		defaults:     map[string]*domain.AvailabilityTemplate{},
		bookings:     map[uuid.UUID]domain.Booking{},
	}
}

func (r *memRepo) addMeetingType(mt domain.MeetingType, templates ...domain.AvailabilityTemplate) domain.MeetingType {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mt.ID == uuid.Nil {
		mt.ID = uuid.New()
	}
	r.meetingTypes[mt.ID] = mt
	r.assigned[mt.ID] = templates
	return mt
}

func (r *memRepo) put(b domain.Booking) domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	r.bookings[b.ID] = b
	return b
}

func (r *memRepo) get(id uuid.UUID) domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookings[id]
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bookings)
}

type memTx struct {
	r *memRepo
}

func (t memTx) ActiveBookings(ctx context.Context, meetingTypeID uuid.UUID, from, to time.Time) ([]domain.Booking, error) {
	return t.r.ActiveBookings(ctx, meetingTypeID, from, to)
}

func (t memTx) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	r := t.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return domain.Booking{}, r.createErr
	}
	if _, ok := r.bookings[b.ID]; ok && b.ID != uuid.Nil {
		return domain.Booking{}, store.ErrConflict
	}
	for _, other := range r.bookings {
		if other.MeetingTypeID == b.MeetingTypeID && other.StartTime.Equal(b.StartTime) && !other.Status.Terminal() {
			return domain.Booking{}, store.ErrConflict
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	r.bookings[b.ID] = b
	return b, nil
}

func (r *memRepo) InMeetingTypeTransaction(ctx context.Context, meetingTypeID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	if hook := r.beforeTx; hook != nil {
		r.beforeTx = nil
		hook()
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(ctx, memTx{r: r})
}

func (r *memRepo) GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[bookingID]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	return b, nil
}

func (r *memRepo) GetBookingByToken(ctx context.Context, token string) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.CancellationToken == token {
			return b, nil
		}
	}
	return domain.Booking{}, store.ErrNotFound
}

func (r *memRepo) ListBookings(ctx context.Context, f store.BookingFilter) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.bookings {
		if b.TenantID == f.TenantID && (f.Status == "" || b.Status == f.Status) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (r *memRepo) ActiveBookings(ctx context.Context, meetingTypeID uuid.UUID, from, to time.Time) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.bookings {
		if b.MeetingTypeID == meetingTypeID && !b.Status.Terminal() && b.StartTime.Before(to) && b.EndTime.After(from) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (r *memRepo) TransitionBooking(ctx context.Context, bookingID uuid.UUID, expected domain.BookingStatus, u store.BookingUpdate) (store.TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[bookingID]
	if !ok {
		return store.TransitionResult{}, store.ErrNotFound
	}
	if b.Status != expected {
		return store.TransitionResult{}, store.ErrConflict
	}
	res := store.TransitionResult{PreviousExternalEventID: b.ExternalEventID}
	b.Status = u.Status
	if u.ClearExternalEventID {
		b.ExternalEventID = nil
	}
	if u.CancellationReason != nil {
		b.CancellationReason = u.CancellationReason
	}
	if u.HostNotes != nil {
		b.HostNotes = u.HostNotes
	}
	r.bookings[bookingID] = b
	res.Booking = b
	return res, nil
}

func (r *memRepo) SetExternalEventID(ctx context.Context, bookingID uuid.UUID, eventID string) (bool, error) {
	if r.setEventFn != nil {
		return r.setEventFn(bookingID, eventID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[bookingID]
	if !ok || b.Status != domain.BookingConfirmed || b.ExternalEventID != nil {
		return false, nil
	}
	b.ExternalEventID = &eventID
	r.bookings[bookingID] = b
	return true, nil
}

func (r *memRepo) ListConfirmedStartedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.bookings {
		if b.Status == domain.BookingConfirmed && b.StartTime.Before(before) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) GetMeetingType(ctx context.Context, meetingTypeID uuid.UUID) (domain.MeetingType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mt, ok := r.meetingTypes[meetingTypeID]
	if !ok {
		return domain.MeetingType{}, store.ErrNotFound
	}
	return mt, nil
}

func (r *memRepo) TemplatesForMeetingType(ctx context.Context, meetingTypeID uuid.UUID) ([]domain.AvailabilityTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assigned[meetingTypeID], nil
}

func (r *memRepo) DefaultTemplate(ctx context.Context, tenantID string) (*domain.AvailabilityTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaults[tenantID], nil
}

func sortBookings(bs []domain.Booking) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].StartTime.Before(bs[j].StartTime) })
}

type busyRange struct {
	from, to time.Time
}

type fakeBusy struct {
	mu        sync.Mutex
	intervals []domain.Interval
	err       error
	cached    []busyRange
	fresh     []busyRange

	invalidations atomic.Int32
}

func (f *fakeBusy) BusyIntervals(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = append(f.cached, busyRange{from, to})
	return f.intervals, f.err
}

func (f *fakeBusy) FreshBusyIntervals(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fresh = append(f.fresh, busyRange{from, to})
	return f.intervals, f.err
}

func (f *fakeBusy) Invalidate(ctx context.Context, tenantID string) error {
	f.invalidations.Add(1)
	return nil
}

type fakeCalendar struct {
	createEvent func(ctx context.Context, req calendar.EventRequest) (string, error)
	cancelEvent func(ctx context.Context, tenantID, selector, eventID string) error

	creates atomic.Int32
	cancels atomic.Int32
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, req calendar.EventRequest) (string, error) {
	if f.createEvent == nil {
		panic("CreateEvent not configured")
	}
	f.creates.Add(1)
	return f.createEvent(ctx, req)
}

func (f *fakeCalendar) CancelEvent(ctx context.Context, tenantID, selector, eventID string) error {
	if f.cancelEvent == nil {
		panic("CancelEvent not configured")
	}
	f.cancels.Add(1)
	return f.cancelEvent(ctx, tenantID, selector, eventID)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Title)
	}
	return out
}

type recordingQueue struct {
	mu      sync.Mutex
	creates []uuid.UUID
	deletes []DeleteEventJob
}

func (q *recordingQueue) EnqueueCreateEvent(ctx context.Context, bookingID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.creates = append(q.creates, bookingID)
	return nil
}

func (q *recordingQueue) EnqueueDeleteEvent(ctx context.Context, job DeleteEventJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deletes = append(q.deletes, job)
	return nil
}
