package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/schedule"
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

// Repository contains the booking reads and writes the lifecycle needs.
type Repository interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*schedule.Booking, error)

	// UpdateBookingStatus is a compare-and-set on the current status and
	// returns schedule.ErrBookingNotFound when the booking is not in from.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to schedule.BookingStatus) (*schedule.Booking, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*schedule.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*schedule.Booking, error) {
	return s.transition(ctx, id, schedule.StatusConfirmed)
}

func (s *Service) Arrive(ctx context.Context, id uuid.UUID) (*schedule.Booking, error) {
	return s.transition(ctx, id, schedule.StatusArrived)
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) (*schedule.Booking, error) {
	return s.transition(ctx, id, schedule.StatusInProgress)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*schedule.Booking, error) {
	return s.transition(ctx, id, schedule.StatusCompleted)
}

// Cancel frees the booking's slot. Only scheduled and arrived bookings can be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*schedule.Booking, error) {
	return s.transition(ctx, id, schedule.StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to schedule.BookingStatus) (*schedule.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}

	if !schedule.CanTransition(b.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, b.Status, to)
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, b.ID, b.Status, to)
	if err != nil {
		// The booking existed a moment ago, so a miss means its status moved underneath us.
		if errors.Is(err, schedule.ErrBookingNotFound) {
			return nil, fmt.Errorf("%w: booking %s changed concurrently", ErrInvalidStatusTransition, id)
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}

	s.logger.Info("booking status changed", "booking_id", id, "from", b.Status, "to", to)
	return updated, nil
}
