// Package calendar manages the template and closure records the availability
// engine reads. Every record is validated here, at write time.
package calendar

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/schedule"
)

type Repository interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*schedule.Provider, error)
	GetFacility(ctx context.Context, id uuid.UUID) (*schedule.Facility, error)

	CreateRecurringTemplate(ctx context.Context, t *schedule.RecurringTemplate) error
	CreateOneOffTemplate(ctx context.Context, t *schedule.OneOffTemplate) error
	CreateClosure(ctx context.Context, c *schedule.ClosureWindow) error

	DeleteRecurringTemplate(ctx context.Context, id uuid.UUID) error
	DeleteOneOffTemplate(ctx context.Context, id uuid.UUID) error
	DeleteClosure(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	repo    Repository
	minSlot int
	logger  *slog.Logger
}

func NewService(repo Repository, minSlotMinutes int, logger *slog.Logger) *Service {
	if minSlotMinutes <= 0 {
		minSlotMinutes = schedule.DefaultMinSlotMinutes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, minSlot: minSlotMinutes, logger: logger}
}

func (s *Service) checkOwner(ctx context.Context, providerID, facilityID uuid.UUID) error {
	if _, err := s.repo.GetProvider(ctx, providerID); err != nil {
		return fmt.Errorf("load provider: %w", err)
	}
	if _, err := s.repo.GetFacility(ctx, facilityID); err != nil {
		return fmt.Errorf("load facility: %w", err)
	}
	return nil
}

func (s *Service) CreateRecurringTemplate(ctx context.Context, t *schedule.RecurringTemplate) error {
	if t.IntervalWeeks == 0 {
		t.IntervalWeeks = 1
	}
	if err := t.Validate(s.minSlot); err != nil {
		return err
	}
	if err := s.checkOwner(ctx, t.ProviderID, t.FacilityID); err != nil {
		return err
	}
	if err := s.repo.CreateRecurringTemplate(ctx, t); err != nil {
		return fmt.Errorf("create recurring template: %w", err)
	}
	s.logger.Info("recurring template created", "template_id", t.ID, "provider_id", t.ProviderID, "weekday", t.Weekday)
	return nil
}

func (s *Service) CreateOneOffTemplate(ctx context.Context, t *schedule.OneOffTemplate) error {
	if err := t.Validate(s.minSlot); err != nil {
		return err
	}
	if err := s.checkOwner(ctx, t.ProviderID, t.FacilityID); err != nil {
		return err
	}
	if err := s.repo.CreateOneOffTemplate(ctx, t); err != nil {
		return fmt.Errorf("create one-off template: %w", err)
	}
	s.logger.Info("one-off template created", "template_id", t.ID, "provider_id", t.ProviderID, "date", schedule.FormatDate(t.Date))
	return nil
}

func (s *Service) CreateClosure(ctx context.Context, c *schedule.ClosureWindow) error {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.checkOwner(ctx, c.ProviderID, c.FacilityID); err != nil {
		return err
	}
	if err := s.repo.CreateClosure(ctx, c); err != nil {
		return fmt.Errorf("create closure: %w", err)
	}
	s.logger.Info("closure created", "closure_id", c.ID, "provider_id", c.ProviderID, "full_day", c.FullDay)
	return nil
}

func (s *Service) DeleteRecurringTemplate(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteRecurringTemplate(ctx, id)
}

func (s *Service) DeleteOneOffTemplate(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteOneOffTemplate(ctx, id)
}

func (s *Service) DeleteClosure(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteClosure(ctx, id)
}
