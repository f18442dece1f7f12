package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/events"
	"github.com/hackgods/availability-engine/internal/schedule"
)

// MemoryStore keeps every record in process. All writes happen under one
// write lock, so a booking insert is visible to readers all at once and the
// active-slot uniqueness check cannot race.
type MemoryStore struct {
	mu sync.RWMutex

	providers  map[uuid.UUID]schedule.Provider
	facilities map[uuid.UUID]schedule.Facility
	patients   map[uuid.UUID]schedule.Patient
	recurring  map[uuid.UUID]schedule.RecurringTemplate
	oneOff     map[uuid.UUID]schedule.OneOffTemplate
	closures   map[uuid.UUID]schedule.ClosureWindow
	bookings   map[uuid.UUID]schedule.Booking

	outbox      []outboxRow
	nextEventID int64
}

type outboxRow struct {
	event     events.Event
	published bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers:  make(map[uuid.UUID]schedule.Provider),
		facilities: make(map[uuid.UUID]schedule.Facility),
		patients:   make(map[uuid.UUID]schedule.Patient),
		recurring:  make(map[uuid.UUID]schedule.RecurringTemplate),
		oneOff:     make(map[uuid.UUID]schedule.OneOffTemplate),
		closures:   make(map[uuid.UUID]schedule.ClosureWindow),
		bookings:   make(map[uuid.UUID]schedule.Booking),
	}
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// Directory records

func (m *MemoryStore) CreateProvider(_ context.Context, p *schedule.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&p.ID)
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	m.providers[p.ID] = *p
	return nil
}

func (m *MemoryStore) CreateFacility(_ context.Context, f *schedule.Facility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&f.ID)
	f.CreatedAt, f.UpdatedAt = time.Now(), time.Now()
	m.facilities[f.ID] = *f
	return nil
}

func (m *MemoryStore) CreatePatient(_ context.Context, p *schedule.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&p.ID)
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	m.patients[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetProvider(_ context.Context, id uuid.UUID) (*schedule.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, schedule.ErrProviderNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetFacility(_ context.Context, id uuid.UUID) (*schedule.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facilities[id]
	if !ok {
		return nil, schedule.ErrFacilityNotFound
	}
	return &f, nil
}

func (m *MemoryStore) GetPatient(_ context.Context, id uuid.UUID) (*schedule.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, schedule.ErrPatientNotFound
	}
	return &p, nil
}

// Templates and closures

func (m *MemoryStore) CreateRecurringTemplate(_ context.Context, t *schedule.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&t.ID)
	t.AnchorDate = schedule.DateOf(t.AnchorDate)
	t.CreatedAt = time.Now()
	m.recurring[t.ID] = *t
	return nil
}

func (m *MemoryStore) CreateOneOffTemplate(_ context.Context, t *schedule.OneOffTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&t.ID)
	t.Date = schedule.DateOf(t.Date)
	t.CreatedAt = time.Now()
	m.oneOff[t.ID] = *t
	return nil
}

func (m *MemoryStore) CreateClosure(_ context.Context, c *schedule.ClosureWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&c.ID)
	c.Date = schedule.DateOf(c.Date)
	c.CreatedAt = time.Now()
	m.closures[c.ID] = *c
	return nil
}

func (m *MemoryStore) DeleteRecurringTemplate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recurring[id]; !ok {
		return schedule.ErrTemplateNotFound
	}
	delete(m.recurring, id)
	return nil
}

func (m *MemoryStore) DeleteOneOffTemplate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.oneOff[id]; !ok {
		return schedule.ErrTemplateNotFound
	}
	delete(m.oneOff, id)
	return nil
}

func (m *MemoryStore) DeleteClosure(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.closures[id]; !ok {
		return schedule.ErrClosureNotFound
	}
	delete(m.closures, id)
	return nil
}

func (m *MemoryStore) TemplatesFor(_ context.Context, providerID, facilityID uuid.UUID, date time.Time) ([]schedule.RecurringTemplate, []schedule.OneOffTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = schedule.DateOf(date)

	var recurring []schedule.RecurringTemplate
	for _, t := range m.recurring {
		if t.ProviderID == providerID && t.FacilityID == facilityID {
			recurring = append(recurring, t)
		}
	}
	var oneOff []schedule.OneOffTemplate
	for _, t := range m.oneOff {
		if t.ProviderID == providerID && t.FacilityID == facilityID && t.Date.Equal(date) {
			oneOff = append(oneOff, t)
		}
	}
	return recurring, oneOff, nil
}

func (m *MemoryStore) ClosuresFor(_ context.Context, providerID, facilityID uuid.UUID, date time.Time) ([]schedule.ClosureWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = schedule.DateOf(date)

	var out []schedule.ClosureWindow
	for _, c := range m.closures {
		if c.ProviderID == providerID && c.FacilityID == facilityID && c.Date.Equal(date) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Bookings

func (m *MemoryStore) ActiveBookingsFor(_ context.Context, providerID, facilityID uuid.UUID, date time.Time) ([]schedule.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = schedule.DateOf(date)

	var out []schedule.Booking
	for _, b := range m.bookings {
		if b.ProviderID != providerID || b.FacilityID != facilityID || !b.Status.Active() {
			continue
		}
		if schedule.DateOf(b.ScheduledAt).Equal(date) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) InsertBooking(_ context.Context, b *schedule.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.bookings {
		if existing.Status.Active() &&
			existing.ProviderID == b.ProviderID &&
			existing.FacilityID == b.FacilityID &&
			existing.ScheduledAt.Equal(b.ScheduledAt) {
			return schedule.ErrDuplicateBooking
		}
	}

	ensureID(&b.ID)
	if b.Status == "" {
		b.Status = schedule.StatusScheduled
	}
	b.CreatedAt, b.UpdatedAt = time.Now(), time.Now()
	if p, ok := m.patients[b.PatientID]; ok && b.PatientName == "" {
		b.PatientName = p.DisplayName()
	}

	ev, err := events.NewBookingEvent(events.BookingReserved, b, "")
	if err != nil {
		return err
	}
	m.bookings[b.ID] = *b
	m.appendEvent(ev)
	return nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id uuid.UUID) (*schedule.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, schedule.ErrBookingNotFound
	}
	return &b, nil
}

// UpdateBookingStatus moves a booking from one status to another. It returns
// ErrBookingNotFound when no booking with that id is currently in from.
func (m *MemoryStore) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to schedule.BookingStatus) (*schedule.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return nil, schedule.ErrBookingNotFound
	}
	b.Status = to
	b.UpdatedAt = time.Now()

	ev, err := events.NewBookingEvent(events.BookingStatusChanged, &b, from)
	if err != nil {
		return nil, err
	}
	m.bookings[id] = b
	m.appendEvent(ev)
	return &b, nil
}

// Outbox

func (m *MemoryStore) appendEvent(ev events.Event) {
	m.nextEventID++
	ev.ID = m.nextEventID
	m.outbox = append(m.outbox, outboxRow{event: ev})
}

func (m *MemoryStore) DrainOutbox(ctx context.Context, limit int, fn func(ctx context.Context, batch []events.Event) error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idx []int
	var batch []events.Event
	for i, row := range m.outbox {
		if row.published {
			continue
		}
		idx = append(idx, i)
		batch = append(batch, row.event)
		if len(batch) == limit {
			break
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}
	for _, i := range idx {
		m.outbox[i].published = true
	}
	return len(batch), nil
}

// PendingEvents returns unpublished outbox events in id order.
func (m *MemoryStore) PendingEvents() []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []events.Event
	for _, row := range m.outbox {
		if !row.published {
			out = append(out, row.event)
		}
	}
	return out
}
