package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/availability"
	"github.com/hackgods/availability-engine/internal/schedule"
)

type CreateBookingRequest struct {
	ProviderID string `json:"provider_id"`
	FacilityID string `json:"facility_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	PatientID  string `json:"patient_id"`
	Reason     string `json:"reason"`
}

type BookingResponse struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  uuid.UUID `json:"provider_id"`
	FacilityID  uuid.UUID `json:"facility_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Reason      string    `json:"reason,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toBookingResponse(b *schedule.Booking) BookingResponse {
	return BookingResponse{
		ID:          b.ID,
		ProviderID:  b.ProviderID,
		FacilityID:  b.FacilityID,
		PatientID:   b.PatientID,
		PatientName: b.PatientName,
		Date:        schedule.FormatDate(b.ScheduledAt),
		Time:        schedule.TimeOfDayOf(b.ScheduledAt).String(),
		Reason:      b.Reason,
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

type SlotResponse struct {
	Time        string     `json:"time"`
	Minutes     int        `json:"minutes"`
	State       string     `json:"state"`
	BookingID   *uuid.UUID `json:"booking_id,omitempty"`
	PatientName string     `json:"patient_name,omitempty"`
}

func toSlotResponses(slots []availability.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			Time:        s.Start.String(),
			Minutes:     s.Minutes,
			State:       string(s.State),
			BookingID:   s.BookingID,
			PatientName: s.PatientName,
		})
	}
	return out
}

// AvailableSlotsResponse lists free start times for view=available.
type AvailableSlotsResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	FacilityID uuid.UUID `json:"facility_id"`
	Date       string    `json:"date"`
	Times      []string  `json:"times"`
}

// AllSlotsResponse lists every slot with its state for view=all.
type AllSlotsResponse struct {
	ProviderID uuid.UUID      `json:"provider_id"`
	FacilityID uuid.UUID      `json:"facility_id"`
	Date       string         `json:"date"`
	Slots      []SlotResponse `json:"slots"`
}

type WeekDayResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

type ProviderWeekResponse struct {
	ProviderID uuid.UUID         `json:"provider_id"`
	Days       []WeekDayResponse `json:"days"`
}

type WeekResponse struct {
	FacilityID uuid.UUID              `json:"facility_id"`
	WeekStart  string                 `json:"week_start"`
	Providers  []ProviderWeekResponse `json:"providers"`
}

type RecurringTemplateRequest struct {
	ProviderID    uuid.UUID          `json:"provider_id"`
	FacilityID    uuid.UUID          `json:"facility_id"`
	Weekday       int                `json:"weekday"`
	IntervalWeeks int                `json:"interval_weeks"`
	StartDate     string             `json:"start_date"`
	StartTime     schedule.TimeOfDay `json:"start_time"`
	EndTime       schedule.TimeOfDay `json:"end_time"`
	SlotDuration  int                `json:"slot_duration"`
}

type OneOffTemplateRequest struct {
	ProviderID   uuid.UUID          `json:"provider_id"`
	FacilityID   uuid.UUID          `json:"facility_id"`
	Date         string             `json:"date"`
	StartTime    schedule.TimeOfDay `json:"start_time"`
	EndTime      schedule.TimeOfDay `json:"end_time"`
	SlotDuration int                `json:"slot_duration"`
}

type ClosureRequest struct {
	ProviderID uuid.UUID           `json:"provider_id"`
	FacilityID uuid.UUID           `json:"facility_id"`
	Date       string              `json:"date"`
	FullDay    bool                `json:"full_day"`
	StartTime  *schedule.TimeOfDay `json:"start_time"`
	EndTime    *schedule.TimeOfDay `json:"end_time"`
	Reason     string              `json:"reason"`
}

type CreatedResponse struct {
	ID uuid.UUID `json:"id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}
