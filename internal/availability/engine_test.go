package availability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/logging"
	"github.com/hackgods/availability-engine/internal/schedule"
	"github.com/hackgods/availability-engine/internal/store"
)

type engineFixture struct {
	engine     *Engine
	store      *store.MemoryStore
	providerID uuid.UUID
	facilityID uuid.UUID
	patients   []uuid.UUID
}

// newEngineFixture seeds a provider working Mondays 08:00-10:00 in 30 minute
// slots. The engine clock is fixed at now.
func newEngineFixture(t *testing.T, now time.Time, locker Locker, patients int) *engineFixture {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()
	faker := gofakeit.New(42)

	provider := &schedule.Provider{Name: faker.Name()}
	facility := &schedule.Facility{Name: faker.Company()}
	if err := ms.CreateProvider(ctx, provider); err != nil {
		t.Fatal(err)
	}
	if err := ms.CreateFacility(ctx, facility); err != nil {
		t.Fatal(err)
	}

	f := &engineFixture{store: ms, providerID: provider.ID, facilityID: facility.ID}
	for i := 0; i < patients; i++ {
		p := &schedule.Patient{FirstName: faker.FirstName(), LastName: faker.LastName()}
		if err := ms.CreatePatient(ctx, p); err != nil {
			t.Fatal(err)
		}
		f.patients = append(f.patients, p.ID)
	}

	err := ms.CreateRecurringTemplate(ctx, &schedule.RecurringTemplate{
		ProviderID:    provider.ID,
		FacilityID:    facility.ID,
		Weekday:       0,
		IntervalWeeks: 1,
		AnchorDate:    day("2024-01-01"),
		Start:         tod(8, 0),
		End:           tod(10, 0),
		SlotMinutes:   30,
	})
	if err != nil {
		t.Fatal(err)
	}

	f.engine = NewEngine(ms, locker, logging.Discard(), WithClock(func() time.Time { return now }))
	return f
}

func (f *engineFixture) key(date string) Key {
	return Key{ProviderID: f.providerID, FacilityID: f.facilityID, Date: day(date)}
}

func (f *engineFixture) request(date string, start schedule.TimeOfDay, patient uuid.UUID) ReserveRequest {
	return ReserveRequest{
		ProviderID: f.providerID,
		FacilityID: f.facilityID,
		Date:       day(date),
		Start:      start,
		PatientID:  patient,
		Reason:     "follow-up",
	}
}

var sundayBefore = time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)

func TestReserveRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, sundayBefore, nil, 1)

	before, err := f.engine.AvailableSlots(ctx, f.key("2024-03-04"))
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 4 {
		t.Fatalf("available before = %v", before)
	}

	b, err := f.engine.Reserve(ctx, f.request("2024-03-04", tod(9, 0), f.patients[0]))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if b.Status != schedule.StatusScheduled || !b.ScheduledAt.Equal(schedule.At(day("2024-03-04"), tod(9, 0))) {
		t.Errorf("unexpected booking %+v", b)
	}

	after, err := f.engine.AvailableSlots(ctx, f.key("2024-03-04"))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range after {
		if s == tod(9, 0) {
			t.Fatal("reserved slot still available")
		}
	}
	if len(after) != 3 {
		t.Errorf("available after = %v", after)
	}

	all, err := f.engine.AllSlots(ctx, f.key("2024-03-04"))
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, s := range all {
		if s.Start == tod(9, 0) {
			found = s.State == SlotBooked && s.BookingID != nil && *s.BookingID == b.ID && s.PatientName == b.PatientName
		}
	}
	if !found {
		t.Errorf("09:00 not booked with id %s in %+v", b.ID, all)
	}

	if pending := f.store.PendingEvents(); len(pending) != 1 || pending[0].AggregateID != b.ID {
		t.Errorf("outbox = %+v, want one reserved event", pending)
	}
}

func TestAvailableSlotsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, sundayBefore, nil, 1)
	if _, err := f.engine.Reserve(ctx, f.request("2024-03-04", tod(8, 30), f.patients[0])); err != nil {
		t.Fatal(err)
	}

	first, err := f.engine.AllSlots(ctx, f.key("2024-03-04"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.AllSlots(ctx, f.key("2024-03-04"))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Start != second[i].Start || first[i].State != second[i].State {
			t.Errorf("slot %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestReserveConcurrentSingleWinner(t *testing.T) {
	const n = 25
	ctx := context.Background()
	f := newEngineFixture(t, sundayBefore, nil, n)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(patient uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := f.engine.Reserve(ctx, f.request("2024-03-04", tod(9, 30), patient))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotUnavailable):
				conflicts++
			default:
				others = append(others, err)
			}
		}(f.patients[i])
	}
	close(start)
	wg.Wait()

	if successes != 1 || conflicts != n-1 || len(others) != 0 {
		t.Fatalf("successes=%d conflicts=%d others=%v", successes, conflicts, others)
	}

	active, err := f.store.ActiveBookingsFor(ctx, f.providerID, f.facilityID, day("2024-03-04"))
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Errorf("active bookings = %d, want 1", len(active))
	}
}

func TestReserveRejectsPastSlots(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, now, nil, 1)

	for _, start := range []schedule.TimeOfDay{tod(8, 0), tod(9, 0)} {
		_, err := f.engine.Reserve(ctx, f.request("2024-03-04", start, f.patients[0]))
		if !errors.Is(err, ErrPastSlot) {
			t.Errorf("Reserve at %s: err = %v, want ErrPastSlot", start, err)
		}
	}
	if _, err := f.engine.Reserve(ctx, f.request("2024-03-04", tod(9, 30), f.patients[0])); err != nil {
		t.Errorf("Reserve at 09:30: %v", err)
	}
}

func TestReserveUsesFacilityTimezone(t *testing.T) {
	ctx := context.Background()
	// 07:45 UTC is 08:45 in Berlin, so the 08:30 slot has already started there.
	now := time.Date(2024, 3, 4, 7, 45, 0, 0, time.UTC)
	f := newEngineFixture(t, now, nil, 1)
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	f.engine = NewEngine(f.store, nil, logging.Discard(), WithClock(func() time.Time { return now }), WithLocation(berlin))

	if _, err := f.engine.Reserve(ctx, f.request("2024-03-04", tod(8, 30), f.patients[0])); !errors.Is(err, ErrPastSlot) {
		t.Errorf("err = %v, want ErrPastSlot", err)
	}
	if _, err := f.engine.Reserve(ctx, f.request("2024-03-04", tod(9, 0), f.patients[0])); err != nil {
		t.Errorf("Reserve at 09:00: %v", err)
	}
}

func TestReadsRejectUnknownOwner(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, sundayBefore, nil, 0)

	unknownProvider := f.key("2024-03-04")
	unknownProvider.ProviderID = uuid.New()
	if _, err := f.engine.AvailableSlots(ctx, unknownProvider); !errors.Is(err, schedule.ErrProviderNotFound) {
		t.Errorf("AvailableSlots: err = %v, want ErrProviderNotFound", err)
	}

	unknownFacility := f.key("2024-03-04")
	unknownFacility.FacilityID = uuid.New()
	if _, err := f.engine.AllSlots(ctx, unknownFacility); !errors.Is(err, schedule.ErrFacilityNotFound) {
		t.Errorf("AllSlots: err = %v, want ErrFacilityNotFound", err)
	}

	if _, _, err := f.engine.Week(ctx, uuid.New(), []uuid.UUID{f.providerID}, day("2024-03-04")); !errors.Is(err, schedule.ErrFacilityNotFound) {
		t.Errorf("Week facility: err = %v, want ErrFacilityNotFound", err)
	}
	if _, _, err := f.engine.Week(ctx, f.facilityID, []uuid.UUID{f.providerID, uuid.New()}, day("2024-03-04")); !errors.Is(err, schedule.ErrProviderNotFound) {
		t.Errorf("Week provider: err = %v, want ErrProviderNotFound", err)
	}
}

func TestReserveNotFound(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, sundayBefore, nil, 1)

	cases := []struct {
		name string
		mut  func(*ReserveRequest)
		want error
	}{
		{"provider", func(r *ReserveRequest) { r.ProviderID = uuid.New() }, schedule.ErrProviderNotFound},
		{"facility", func(r *ReserveRequest) { r.FacilityID = uuid.New() }, schedule.ErrFacilityNotFound},
		{"patient", func(r *ReserveRequest) { r.PatientID = uuid.New() }, schedule.ErrPatientNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.request("2024-03-04", tod(8, 0), f.patients[0])
			tc.mut(&req)
			if _, err := f.engine.Reserve(ctx, req); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestReserveClosedOrUnknownSlot(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, sundayBefore, nil, 1)

	start, end := tod(8, 0), tod(9, 0)
	err := f.store.CreateClosure(ctx, &schedule.ClosureWindow{
		ProviderID: f.providerID, FacilityID: f.facilityID, Date: day("2024-03-04"),
		Start: &start, End: &end,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, s := range []schedule.TimeOfDay{tod(8, 30), tod(8, 15), tod(11, 0)} {
		if _, err := f.engine.Reserve(ctx, f.request("2024-03-04", s, f.patients[0])); !errors.Is(err, ErrSlotUnavailable) {
			t.Errorf("Reserve at %s: err = %v, want ErrSlotUnavailable", s, err)
		}
	}
}

type fakeLocker struct {
	mu   sync.Mutex
	keys []string
	busy bool
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	busy := l.busy
	l.mu.Unlock()
	if busy {
		return schedule.ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestReserveLocking(t *testing.T) {
	ctx := context.Background()
	locker := &fakeLocker{}
	f := newEngineFixture(t, sundayBefore, locker, 1)

	if _, err := f.engine.Reserve(ctx, f.request("2024-03-04", tod(8, 0), f.patients[0])); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	wantKey := "reserve:" + f.providerID.String() + ":" + f.facilityID.String() + ":2024-03-04"
	if len(locker.keys) != 1 || locker.keys[0] != wantKey {
		t.Errorf("lock keys = %v, want [%s]", locker.keys, wantKey)
	}

	locker.busy = true
	_, err := f.engine.Reserve(ctx, f.request("2024-03-04", tod(8, 30), f.patients[0]))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("busy lock: err = %v, want ErrSlotUnavailable", err)
	}
}

// downLocker fails every acquire the way the redis locker does on a dial error.
type downLocker struct{ calls int }

func (l *downLocker) WithLock(context.Context, string, func(context.Context) error) error {
	l.calls++
	return fmt.Errorf("acquire lock: %w: %w", schedule.ErrLockUnavailable, errors.New("dial tcp 127.0.0.1:1: i/o timeout"))
}

func TestReserveFallsBackWhenLockBackendDown(t *testing.T) {
	ctx := context.Background()
	locker := &downLocker{}
	f := newEngineFixture(t, sundayBefore, locker, 2)

	b, err := f.engine.Reserve(ctx, f.request("2024-03-04", tod(8, 0), f.patients[0]))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if locker.calls != 1 {
		t.Errorf("lock attempts = %d, want 1", locker.calls)
	}
	if !b.ScheduledAt.Equal(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("ScheduledAt = %v", b.ScheduledAt)
	}

	// The store still rejects a second booking of the same slot.
	_, err = f.engine.Reserve(ctx, f.request("2024-03-04", tod(8, 0), f.patients[1]))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("second reserve: err = %v, want ErrSlotUnavailable", err)
	}
}

func TestWeekGrid(t *testing.T) {
	ctx := context.Background()
	// Wednesday 2024-03-13 08:45: the Monday of the following week is bookable,
	// the Monday of this week is in the past.
	now := time.Date(2024, 3, 13, 8, 45, 0, 0, time.UTC)
	f := newEngineFixture(t, now, nil, 0)

	// Give Wednesday a one-off so "today" filtering is visible.
	err := f.store.CreateOneOffTemplate(ctx, &schedule.OneOffTemplate{
		ProviderID: f.providerID, FacilityID: f.facilityID, Date: day("2024-03-13"),
		Start: tod(8, 0), End: tod(10, 0), SlotMinutes: 30,
	})
	if err != nil {
		t.Fatal(err)
	}

	weekStart, grid, err := f.engine.Week(ctx, f.facilityID, []uuid.UUID{f.providerID}, day("2024-03-14"))
	if err != nil {
		t.Fatal(err)
	}
	if !weekStart.Equal(day("2024-03-11")) {
		t.Errorf("week start = %s", schedule.FormatDate(weekStart))
	}
	if len(grid) != 1 || len(grid[0].Days) != 7 {
		t.Fatalf("unexpected grid shape %+v", grid)
	}
	days := grid[0].Days
	if len(days[0].Slots) != 0 {
		t.Errorf("past monday has %d slots", len(days[0].Slots))
	}
	wed := days[2].Slots
	if len(wed) != 2 || wed[0].Start != tod(9, 0) || wed[1].Start != tod(9, 30) {
		t.Errorf("today slots = %+v, want 09:00 and 09:30", wed)
	}

	_, next, err := f.engine.Week(ctx, f.facilityID, []uuid.UUID{f.providerID}, day("2024-03-18"))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(next[0].Days[0].Slots); n != 4 {
		t.Errorf("next monday slots = %d, want 4", n)
	}
}
