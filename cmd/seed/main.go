package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/calendar"
	"github.com/hackgods/availability-engine/internal/config"
	"github.com/hackgods/availability-engine/internal/db"
	"github.com/hackgods/availability-engine/internal/logging"
	"github.com/hackgods/availability-engine/internal/schedule"
	"github.com/hackgods/availability-engine/internal/store"
)

const (
	facilityCount = 5
	providerCount = 40
	patientCount  = 2000
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seeder struct {
	store    *store.PgStore
	calendar *calendar.Service
	faker    *gofakeit.Faker
	logger   *slog.Logger
	today    time.Time
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger, closeLog := logging.New("seed", cfg)
	defer closeLog.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("seed failed", "err", err)
		closeLog.Close()
		os.Exit(1)
	}
	logger.Info("seed complete")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	pg := store.NewPgStore(pool)
	s := &seeder{
		store:    pg,
		calendar: calendar.NewService(pg, cfg.MinSlotMinutes, logging.Discard()),
		faker:    gofakeit.New(0),
		logger:   logger,
		today:    schedule.DateOf(schedule.WallClock(time.Now(), cfg.Location)),
	}

	facilities, err := s.seedFacilities(ctx, facilityCount)
	if err != nil {
		return fmt.Errorf("seed facilities: %w", err)
	}
	if err := s.seedProviders(ctx, providerCount, facilities); err != nil {
		return fmt.Errorf("seed providers: %w", err)
	}
	if err := s.seedPatients(ctx, patientCount); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	return nil
}

func (s *seeder) seedFacilities(ctx context.Context, count int) ([]schedule.Facility, error) {
	s.logger.Info("seeding facilities", "count", count)

	out := make([]schedule.Facility, 0, count)
	for i := 0; i < count; i++ {
		f := &schedule.Facility{Name: s.faker.City() + " Clinic"}
		if err := s.store.CreateFacility(ctx, f); err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, nil
}

// seedProviders gives every provider a weekly or biweekly schedule at one
// facility, a one-off Saturday session and a lunch closure next week.
func (s *seeder) seedProviders(ctx context.Context, count int, facilities []schedule.Facility) error {
	s.logger.Info("seeding providers", "count", count)

	weekStart := schedule.WeekStart(s.today)
	slotLengths := []int{15, 20, 30}

	for i := 0; i < count; i++ {
		specialty := specialties[s.faker.Number(0, len(specialties)-1)]
		p := &schedule.Provider{Name: "Dr. " + s.faker.LastName(), Specialty: &specialty}
		if err := s.store.CreateProvider(ctx, p); err != nil {
			return err
		}
		facility := facilities[s.faker.Number(0, len(facilities)-1)]

		minutes := slotLengths[s.faker.Number(0, len(slotLengths)-1)]
		interval := 1
		if s.faker.Bool() {
			interval = 2
		}
		for _, weekday := range s.pickWeekdays(3) {
			morning := &schedule.RecurringTemplate{
				ProviderID:    p.ID,
				FacilityID:    facility.ID,
				Weekday:       weekday,
				IntervalWeeks: interval,
				AnchorDate:    weekStart.AddDate(0, 0, weekday),
				Start:         schedule.NewTimeOfDay(8, 0),
				End:           schedule.NewTimeOfDay(12, 0),
				SlotMinutes:   minutes,
			}
			if err := s.calendar.CreateRecurringTemplate(ctx, morning); err != nil {
				return err
			}
			afternoon := *morning
			afternoon.ID = uuid.Nil
			afternoon.Start = schedule.NewTimeOfDay(13, 0)
			afternoon.End = schedule.NewTimeOfDay(17, 0)
			if err := s.calendar.CreateRecurringTemplate(ctx, &afternoon); err != nil {
				return err
			}
		}

		saturday := &schedule.OneOffTemplate{
			ProviderID:  p.ID,
			FacilityID:  facility.ID,
			Date:        weekStart.AddDate(0, 0, 5),
			Start:       schedule.NewTimeOfDay(9, 0),
			End:         schedule.NewTimeOfDay(12, 0),
			SlotMinutes: minutes,
		}
		if err := s.calendar.CreateOneOffTemplate(ctx, saturday); err != nil {
			return err
		}

		start, end := schedule.NewTimeOfDay(11, 0), schedule.NewTimeOfDay(12, 0)
		closure := &schedule.ClosureWindow{
			ProviderID: p.ID,
			FacilityID: facility.ID,
			Date:       weekStart.AddDate(0, 0, 7+s.faker.Number(0, 4)),
			Start:      &start,
			End:        &end,
			Reason:     "team meeting",
		}
		if err := s.calendar.CreateClosure(ctx, closure); err != nil {
			return err
		}
	}

	s.logger.Info("providers seeded")
	return nil
}

func (s *seeder) pickWeekdays(n int) []int {
	days := []int{0, 1, 2, 3, 4}
	for i := len(days) - 1; i > 0; i-- {
		j := s.faker.Number(0, i)
		days[i], days[j] = days[j], days[i]
	}
	return days[:n]
}

func (s *seeder) seedPatients(ctx context.Context, count int) error {
	s.logger.Info("seeding patients", "count", count)

	for i := 0; i < count; i++ {
		email := s.faker.Email()
		p := &schedule.Patient{
			FirstName: s.faker.FirstName(),
			LastName:  s.faker.LastName(),
			Email:     &email,
		}
		if err := s.store.CreatePatient(ctx, p); err != nil {
			return err
		}
		if (i+1)%500 == 0 {
			s.logger.Info("patients seeded", "done", i+1, "total", count)
		}
	}
	return nil
}
