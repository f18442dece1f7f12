package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/availability-engine/internal/events"
	"github.com/hackgods/availability-engine/internal/schedule"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// bookingOwnerError maps a foreign key violation on bookings to the
// not-found sentinel of the missing row.
func bookingOwnerError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != foreignKeyViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case "bookings_provider_id_fkey":
		return schedule.ErrProviderNotFound
	case "bookings_facility_id_fkey":
		return schedule.ErrFacilityNotFound
	case "bookings_patient_id_fkey":
		return schedule.ErrPatientNotFound
	}
	return nil
}

func pgTime(t schedule.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t.Duration() / time.Microsecond), Valid: true}
}

func pgTimePtr(t *schedule.TimeOfDay) pgtype.Time {
	if t == nil {
		return pgtype.Time{}
	}
	return pgTime(*t)
}

func fromPgTime(t pgtype.Time) schedule.TimeOfDay {
	return schedule.TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}

func fromPgTimePtr(t pgtype.Time) *schedule.TimeOfDay {
	if !t.Valid {
		return nil
	}
	v := fromPgTime(t)
	return &v
}

func scanProvider(row pgx.Row) (*schedule.Provider, error) {
	var p schedule.Provider
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanFacility(row pgx.Row) (*schedule.Facility, error) {
	var f schedule.Facility
	err := row.Scan(&f.ID, &f.Name, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrFacilityNotFound
		}
		return nil, err
	}
	return &f, nil
}

func scanPatient(row pgx.Row) (*schedule.Patient, error) {
	var p schedule.Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanRecurring(row pgx.Row) (*schedule.RecurringTemplate, error) {
	var t schedule.RecurringTemplate
	var start, end pgtype.Time
	err := row.Scan(
		&t.ID,
		&t.ProviderID,
		&t.FacilityID,
		&t.Weekday,
		&t.IntervalWeeks,
		&t.AnchorDate,
		&start,
		&end,
		&t.SlotMinutes,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrTemplateNotFound
		}
		return nil, err
	}
	t.Start, t.End = fromPgTime(start), fromPgTime(end)
	return &t, nil
}

func scanOneOff(row pgx.Row) (*schedule.OneOffTemplate, error) {
	var t schedule.OneOffTemplate
	var start, end pgtype.Time
	err := row.Scan(&t.ID, &t.ProviderID, &t.FacilityID, &t.Date, &start, &end, &t.SlotMinutes, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrTemplateNotFound
		}
		return nil, err
	}
	t.Start, t.End = fromPgTime(start), fromPgTime(end)
	return &t, nil
}

func scanClosure(row pgx.Row) (*schedule.ClosureWindow, error) {
	var c schedule.ClosureWindow
	var start, end pgtype.Time
	err := row.Scan(&c.ID, &c.ProviderID, &c.FacilityID, &c.Date, &c.FullDay, &start, &end, &c.Reason, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrClosureNotFound
		}
		return nil, err
	}
	c.Start, c.End = fromPgTimePtr(start), fromPgTimePtr(end)
	return &c, nil
}

const bookingColumns = `b.id, b.provider_id, b.facility_id, b.patient_id, p.first_name, p.last_name,
	b.scheduled_at, b.reason, b.status, b.created_at, b.updated_at`

func scanBooking(row pgx.Row) (*schedule.Booking, error) {
	var b schedule.Booking
	var patient schedule.Patient
	err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&b.FacilityID,
		&b.PatientID,
		&patient.FirstName,
		&patient.LastName,
		&b.ScheduledAt,
		&b.Reason,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrBookingNotFound
		}
		return nil, err
	}
	b.PatientName = patient.DisplayName()
	return &b, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev events.Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AggregateID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Directory records

func (s *PgStore) CreateProvider(ctx context.Context, p *schedule.Provider) error {
	ensureID(&p.ID)
	return s.pool.QueryRow(ctx, `
		INSERT INTO providers (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.Specialty).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (s *PgStore) CreateFacility(ctx context.Context, f *schedule.Facility) error {
	ensureID(&f.ID)
	return s.pool.QueryRow(ctx, `
		INSERT INTO facilities (id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		RETURNING created_at, updated_at
	`, f.ID, f.Name).Scan(&f.CreatedAt, &f.UpdatedAt)
}

func (s *PgStore) CreatePatient(ctx context.Context, p *schedule.Patient) error {
	ensureID(&p.ID)
	return s.pool.QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.FirstName, p.LastName, p.Email).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (s *PgStore) GetProvider(ctx context.Context, id uuid.UUID) (*schedule.Provider, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (s *PgStore) GetFacility(ctx context.Context, id uuid.UUID) (*schedule.Facility, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM facilities
		WHERE id = $1
	`, id)
	return scanFacility(row)
}

func (s *PgStore) GetPatient(ctx context.Context, id uuid.UUID) (*schedule.Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Templates and closures

func (s *PgStore) CreateRecurringTemplate(ctx context.Context, t *schedule.RecurringTemplate) error {
	ensureID(&t.ID)
	t.AnchorDate = schedule.DateOf(t.AnchorDate)
	return s.pool.QueryRow(ctx, `
		INSERT INTO recurring_templates
			(id, provider_id, facility_id, weekday, interval_weeks, anchor_date, start_time, end_time, slot_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, t.ID, t.ProviderID, t.FacilityID, t.Weekday, t.IntervalWeeks, t.AnchorDate,
		pgTime(t.Start), pgTime(t.End), t.SlotMinutes).Scan(&t.CreatedAt)
}

func (s *PgStore) CreateOneOffTemplate(ctx context.Context, t *schedule.OneOffTemplate) error {
	ensureID(&t.ID)
	t.Date = schedule.DateOf(t.Date)
	return s.pool.QueryRow(ctx, `
		INSERT INTO one_off_templates
			(id, provider_id, facility_id, date, start_time, end_time, slot_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, t.ID, t.ProviderID, t.FacilityID, t.Date, pgTime(t.Start), pgTime(t.End), t.SlotMinutes).Scan(&t.CreatedAt)
}

func (s *PgStore) CreateClosure(ctx context.Context, c *schedule.ClosureWindow) error {
	ensureID(&c.ID)
	c.Date = schedule.DateOf(c.Date)
	return s.pool.QueryRow(ctx, `
		INSERT INTO closure_windows
			(id, provider_id, facility_id, date, full_day, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, c.ID, c.ProviderID, c.FacilityID, c.Date, c.FullDay, pgTimePtr(c.Start), pgTimePtr(c.End), c.Reason).Scan(&c.CreatedAt)
}

func (s *PgStore) deleteByID(ctx context.Context, table string, id uuid.UUID, notFound error) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func (s *PgStore) DeleteRecurringTemplate(ctx context.Context, id uuid.UUID) error {
	return s.deleteByID(ctx, "recurring_templates", id, schedule.ErrTemplateNotFound)
}

func (s *PgStore) DeleteOneOffTemplate(ctx context.Context, id uuid.UUID) error {
	return s.deleteByID(ctx, "one_off_templates", id, schedule.ErrTemplateNotFound)
}

func (s *PgStore) DeleteClosure(ctx context.Context, id uuid.UUID) error {
	return s.deleteByID(ctx, "closure_windows", id, schedule.ErrClosureNotFound)
}

// TemplatesFor prefilters recurring templates by weekday and anchor date; the
// engine still evaluates the week interval.
func (s *PgStore) TemplatesFor(ctx context.Context, providerID, facilityID uuid.UUID, date time.Time) ([]schedule.RecurringTemplate, []schedule.OneOffTemplate, error) {
	date = schedule.DateOf(date)

	rows, err := s.pool.Query(ctx, `
		SELECT id, provider_id, facility_id, weekday, interval_weeks, anchor_date,
			start_time, end_time, slot_minutes, created_at
		FROM recurring_templates
		WHERE provider_id = $1
		  AND facility_id = $2
		  AND weekday = $3
		  AND anchor_date <= $4
		ORDER BY id
	`, providerID, facilityID, schedule.Weekday(date), date)
	if err != nil {
		return nil, nil, fmt.Errorf("query recurring templates: %w", err)
	}
	recurring, err := collect(rows, scanRecurring)
	if err != nil {
		return nil, nil, fmt.Errorf("scan recurring templates: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, provider_id, facility_id, date, start_time, end_time, slot_minutes, created_at
		FROM one_off_templates
		WHERE provider_id = $1
		  AND facility_id = $2
		  AND date = $3
		ORDER BY id
	`, providerID, facilityID, date)
	if err != nil {
		return nil, nil, fmt.Errorf("query one-off templates: %w", err)
	}
	oneOff, err := collect(rows, scanOneOff)
	if err != nil {
		return nil, nil, fmt.Errorf("scan one-off templates: %w", err)
	}

	return recurring, oneOff, nil
}

func (s *PgStore) ClosuresFor(ctx context.Context, providerID, facilityID uuid.UUID, date time.Time) ([]schedule.ClosureWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, provider_id, facility_id, date, full_day, start_time, end_time, reason, created_at
		FROM closure_windows
		WHERE provider_id = $1
		  AND facility_id = $2
		  AND date = $3
	`, providerID, facilityID, schedule.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("query closures: %w", err)
	}
	return collect(rows, scanClosure)
}

// Bookings

func (s *PgStore) ActiveBookingsFor(ctx context.Context, providerID, facilityID uuid.UUID, date time.Time) ([]schedule.Booking, error) {
	day := schedule.DateOf(date)
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		JOIN patients p ON p.id = b.patient_id
		WHERE b.provider_id = $1
		  AND b.facility_id = $2
		  AND b.scheduled_at >= $3
		  AND b.scheduled_at < $4
		  AND b.status <> 'cancelled'
		ORDER BY b.scheduled_at, b.created_at
	`, providerID, facilityID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("query active bookings: %w", err)
	}
	return collect(rows, scanBooking)
}

// InsertBooking writes the booking and its outbox event in one transaction.
// The partial unique index on active bookings decides concurrent inserts.
func (s *PgStore) InsertBooking(ctx context.Context, b *schedule.Booking) error {
	ensureID(&b.ID)
	if b.Status == "" {
		b.Status = schedule.StatusScheduled
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (id, provider_id, facility_id, patient_id, scheduled_at, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, b.ID, b.ProviderID, b.FacilityID, b.PatientID, b.ScheduledAt, b.Reason, b.Status).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isPgError(err, uniqueViolation) {
			return schedule.ErrDuplicateBooking
		}
		if missing := bookingOwnerError(err); missing != nil {
			return fmt.Errorf("insert booking: %w", missing)
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	ev, err := events.NewBookingEvent(events.BookingReserved, b, "")
	if err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isPgError(err, uniqueViolation) {
			return schedule.ErrDuplicateBooking
		}
		return fmt.Errorf("commit booking: %w", err)
	}
	return nil
}

func (s *PgStore) GetBooking(ctx context.Context, id uuid.UUID) (*schedule.Booking, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		JOIN patients p ON p.id = b.patient_id
		WHERE b.id = $1
	`, id)
	return scanBooking(row)
}

// UpdateBookingStatus moves a booking from one status to another and records
// the change in the outbox. It returns ErrBookingNotFound when no booking with
// that id is currently in from.
func (s *PgStore) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to schedule.BookingStatus) (*schedule.Booking, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		WITH b AS (
			UPDATE bookings
			SET status = $2,
			    updated_at = now()
			WHERE id = $1
			  AND status = $3
			RETURNING *
		)
		SELECT `+bookingColumns+`
		FROM b
		JOIN patients p ON p.id = b.patient_id
	`, id, to, from)
	updated, err := scanBooking(row)
	if err != nil {
		return nil, err
	}

	ev, err := events.NewBookingEvent(events.BookingStatusChanged, updated, from)
	if err != nil {
		return nil, err
	}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isPgError(err, uniqueViolation) {
			return nil, schedule.ErrDuplicateBooking
		}
		return nil, fmt.Errorf("commit status change: %w", err)
	}
	return updated, nil
}

// Outbox

func (s *PgStore) DrainOutbox(ctx context.Context, limit int, fn func(ctx context.Context, batch []events.Event) error) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, aggregate_id, payload, created_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}
	batch, err := collect(rows, func(row pgx.Row) (*events.Event, error) {
		var ev events.Event
		if err := row.Scan(&ev.ID, &ev.EventType, &ev.AggregateID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		return &ev, nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan outbox: %w", err)
	}
	if len(batch) == 0 {
		return 0, tx.Commit(ctx)
	}

	if err := fn(ctx, batch); err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(batch))
	for _, ev := range batch {
		ids = append(ids, ev.ID)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE event_logs
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids); err != nil {
		return 0, fmt.Errorf("mark outbox published: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox: %w", err)
	}
	return len(batch), nil
}
