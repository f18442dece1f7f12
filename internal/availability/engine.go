package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/schedule"
)

var (
	ErrSlotUnavailable = errors.New("slot is no longer available")
	ErrPastSlot        = errors.New("slot is in the past")
)

// Store is the read/write surface the engine needs from the data layer.
type Store interface {
	TemplatesFor(ctx context.Context, providerID, facilityID uuid.UUID, date time.Time) ([]schedule.RecurringTemplate, []schedule.OneOffTemplate, error)
	ClosuresFor(ctx context.Context, providerID, facilityID uuid.UUID, date time.Time) ([]schedule.ClosureWindow, error)
	ActiveBookingsFor(ctx context.Context, providerID, facilityID uuid.UUID, date time.Time) ([]schedule.Booking, error)

	// InsertBooking must fail with schedule.ErrDuplicateBooking when an active
	// booking already holds the same provider, facility and scheduled time.
	InsertBooking(ctx context.Context, b *schedule.Booking) error

	GetProvider(ctx context.Context, id uuid.UUID) (*schedule.Provider, error)
	GetFacility(ctx context.Context, id uuid.UUID) (*schedule.Facility, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*schedule.Patient, error)
}

// Locker serializes reservations that share a key. Implementations return
// schedule.ErrLockNotAcquired when the key is held and wrap
// schedule.ErrLockUnavailable when fn could not be run at all.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Key identifies one provider's calendar day at one facility.
type Key struct {
	ProviderID uuid.UUID
	FacilityID uuid.UUID
	Date       time.Time
}

func (k Key) lockKey() string {
	return fmt.Sprintf("reserve:%s:%s:%s", k.ProviderID, k.FacilityID, schedule.FormatDate(k.Date))
}

type ReserveRequest struct {
	ProviderID uuid.UUID
	FacilityID uuid.UUID
	Date       time.Time
	Start      schedule.TimeOfDay
	PatientID  uuid.UUID
	Reason     string
}

type Engine struct {
	store    Store
	locker   Locker
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time
}

type Option func(*Engine)

// WithLocation sets the facility time zone used to decide what "now" is.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds an engine over store. locker may be nil, in which case the
// store's uniqueness guarantee alone arbitrates concurrent reservations.
func NewEngine(store Store, locker Locker, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		locker:   locker,
		logger:   logger,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the current facility wall-clock time.
func (e *Engine) Now() time.Time {
	return schedule.WallClock(e.now(), e.location)
}

func (e *Engine) candidates(ctx context.Context, key Key) (Candidates, error) {
	recurring, oneOff, err := e.store.TemplatesFor(ctx, key.ProviderID, key.FacilityID, key.Date)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	raw := ResolveCandidates(recurring, oneOff, key.Date)
	if len(raw) == 0 {
		return raw, nil
	}

	closures, err := e.store.ClosuresFor(ctx, key.ProviderID, key.FacilityID, key.Date)
	if err != nil {
		return nil, fmt.Errorf("load closures: %w", err)
	}
	return ApplyClosures(raw, closures), nil
}

func (e *Engine) resolve(ctx context.Context, key Key) (Candidates, []schedule.Booking, error) {
	key.Date = schedule.DateOf(key.Date)

	c, err := e.candidates(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if len(c) == 0 {
		return c, nil, nil
	}

	bookings, err := e.store.ActiveBookingsFor(ctx, key.ProviderID, key.FacilityID, key.Date)
	if err != nil {
		return nil, nil, fmt.Errorf("load bookings: %w", err)
	}
	return c, bookings, nil
}

func (e *Engine) checkProvider(ctx context.Context, id uuid.UUID) error {
	if _, err := e.store.GetProvider(ctx, id); err != nil {
		return fmt.Errorf("load provider: %w", err)
	}
	return nil
}

func (e *Engine) checkFacility(ctx context.Context, id uuid.UUID) error {
	if _, err := e.store.GetFacility(ctx, id); err != nil {
		return fmt.Errorf("load facility: %w", err)
	}
	return nil
}

func (e *Engine) checkOwners(ctx context.Context, key Key) error {
	if err := e.checkProvider(ctx, key.ProviderID); err != nil {
		return err
	}
	return e.checkFacility(ctx, key.FacilityID)
}

// AvailableSlots returns the free slot start times for the key, ascending.
// Unknown providers and facilities fail with their not-found errors.
func (e *Engine) AvailableSlots(ctx context.Context, key Key) ([]schedule.TimeOfDay, error) {
	if err := e.checkOwners(ctx, key); err != nil {
		return nil, err
	}
	c, bookings, err := e.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return Available(c, bookings), nil
}

// AllSlots returns every slot for the key, ascending, with booked slots annotated.
func (e *Engine) AllSlots(ctx context.Context, key Key) ([]Slot, error) {
	if err := e.checkOwners(ctx, key); err != nil {
		return nil, err
	}
	return e.allSlots(ctx, key)
}

func (e *Engine) allSlots(ctx context.Context, key Key) ([]Slot, error) {
	c, bookings, err := e.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return Annotate(c, bookings), nil
}

// Reserve books a slot for a patient. It fails with ErrPastSlot when the slot
// has already started and with ErrSlotUnavailable when another booking got
// there first, including when a concurrent reservation holds the day's lock.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (*schedule.Booking, error) {
	key := Key{ProviderID: req.ProviderID, FacilityID: req.FacilityID, Date: schedule.DateOf(req.Date)}
	scheduledAt := schedule.At(key.Date, req.Start)

	if !scheduledAt.After(e.Now()) {
		return nil, ErrPastSlot
	}

	if err := e.checkOwners(ctx, key); err != nil {
		return nil, err
	}
	patient, err := e.store.GetPatient(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *schedule.Booking

	reserve := func(ctx context.Context) error {
		c, bookings, err := e.resolve(ctx, key)
		if err != nil {
			return err
		}
		if !containsTime(Available(c, bookings), req.Start) {
			return ErrSlotUnavailable
		}

		b := &schedule.Booking{
			ID:          uuid.New(),
			ProviderID:  req.ProviderID,
			FacilityID:  req.FacilityID,
			PatientID:   req.PatientID,
			PatientName: patient.DisplayName(),
			ScheduledAt: scheduledAt,
			Reason:      req.Reason,
			Status:      schedule.StatusScheduled,
		}
		if err := e.store.InsertBooking(ctx, b); err != nil {
			if errors.Is(err, schedule.ErrDuplicateBooking) {
				return ErrSlotUnavailable
			}
			return fmt.Errorf("insert booking: %w", err)
		}
		created = b
		return nil
	}

	if e.locker == nil {
		err = reserve(ctx)
	} else {
		err = e.locker.WithLock(ctx, key.lockKey(), reserve)
		switch {
		case errors.Is(err, schedule.ErrLockNotAcquired):
			err = ErrSlotUnavailable
		case errors.Is(err, schedule.ErrLockUnavailable):
			// the unique index on active bookings still serializes inserts
			e.logger.Warn("reservation lock unavailable, reserving without it",
				"lock_key", key.lockKey(), "err", err)
			err = reserve(ctx)
		}
	}
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			e.logger.Info("reservation conflict",
				"provider_id", req.ProviderID, "facility_id", req.FacilityID,
				"scheduled_at", scheduledAt.Format("2006-01-02T15:04"))
		}
		return nil, err
	}

	e.logger.Info("slot reserved",
		"booking_id", created.ID, "provider_id", req.ProviderID, "facility_id", req.FacilityID,
		"scheduled_at", scheduledAt.Format("2006-01-02T15:04"))
	return created, nil
}

func containsTime(ts []schedule.TimeOfDay, t schedule.TimeOfDay) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}
