package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/schedule"
)

const (
	BookingReserved      = "booking.reserved"
	BookingStatusChanged = "booking.status_changed"
)

// Event is one row of the booking outbox.
type Event struct {
	ID          int64
	EventType   string
	AggregateID uuid.UUID
	Payload     []byte
	CreatedAt   time.Time
}

type bookingPayload struct {
	BookingID      uuid.UUID `json:"booking_id"`
	ProviderID     uuid.UUID `json:"provider_id"`
	FacilityID     uuid.UUID `json:"facility_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	ScheduledAt    string    `json:"scheduled_at"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
}

// NewBookingEvent builds an outbox event describing b. previous is empty for reservations.
func NewBookingEvent(eventType string, b *schedule.Booking, previous schedule.BookingStatus) (Event, error) {
	data, err := json.Marshal(bookingPayload{
		BookingID:      b.ID,
		ProviderID:     b.ProviderID,
		FacilityID:     b.FacilityID,
		PatientID:      b.PatientID,
		ScheduledAt:    b.ScheduledAt.Format("2006-01-02T15:04:05"),
		Status:         string(b.Status),
		PreviousStatus: string(previous),
	})
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return Event{
		EventType:   eventType,
		AggregateID: b.ID,
		Payload:     data,
		CreatedAt:   time.Now(),
	}, nil
}
