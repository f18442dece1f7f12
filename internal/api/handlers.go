package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/availability"
	"github.com/hackgods/availability-engine/internal/booking"
	"github.com/hackgods/availability-engine/internal/calendar"
	"github.com/hackgods/availability-engine/internal/schedule"
)

func slotsHandler(engine *availability.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseUUIDParam(w, r, "providerID", "invalid_provider_id")
		if !ok {
			return
		}
		facilityID, ok := parseUUIDParam(w, r, "facilityID", "invalid_facility_id")
		if !ok {
			return
		}
		date, err := schedule.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		key := availability.Key{ProviderID: providerID, FacilityID: facilityID, Date: date}

		switch view := r.URL.Query().Get("view"); view {
		case "", "available":
			times, err := engine.AvailableSlots(r.Context(), key)
			if err != nil {
				handleReadError(w, err)
				return
			}
			resp := AvailableSlotsResponse{
				ProviderID: providerID,
				FacilityID: facilityID,
				Date:       schedule.FormatDate(date),
				Times:      make([]string, 0, len(times)),
			}
			for _, t := range times {
				resp.Times = append(resp.Times, t.String())
			}
			writeJSON(w, http.StatusOK, resp)
		case "all":
			slots, err := engine.AllSlots(r.Context(), key)
			if err != nil {
				handleReadError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, AllSlotsResponse{
				ProviderID: providerID,
				FacilityID: facilityID,
				Date:       schedule.FormatDate(date),
				Slots:      toSlotResponses(slots),
			})
		default:
			writeError(w, http.StatusBadRequest, "invalid_view", "view must be available or all")
		}
	}
}

func weekHandler(engine *availability.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facilityID, ok := parseUUIDParam(w, r, "facilityID", "invalid_facility_id")
		if !ok {
			return
		}

		date := schedule.DateOf(engine.Now())
		if raw := r.URL.Query().Get("date"); raw != "" {
			d, err := schedule.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			date = d
		}

		rawProviders := r.URL.Query()["provider_id"]
		if len(rawProviders) == 0 {
			writeError(w, http.StatusBadRequest, "missing_provider_id", "at least one provider_id is required")
			return
		}
		providerIDs := make([]uuid.UUID, 0, len(rawProviders))
		for _, raw := range rawProviders {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
				return
			}
			providerIDs = append(providerIDs, id)
		}

		weekStart, grid, err := engine.Week(r.Context(), facilityID, providerIDs, date)
		if err != nil {
			handleReadError(w, err)
			return
		}

		resp := WeekResponse{
			FacilityID: facilityID,
			WeekStart:  schedule.FormatDate(weekStart),
			Providers:  make([]ProviderWeekResponse, 0, len(grid)),
		}
		for _, pw := range grid {
			pr := ProviderWeekResponse{ProviderID: pw.ProviderID, Days: make([]WeekDayResponse, 0, len(pw.Days))}
			for _, d := range pw.Days {
				pr.Days = append(pr.Days, WeekDayResponse{
					Date:  schedule.FormatDate(d.Date),
					Slots: toSlotResponses(d.Slots),
				})
			}
			resp.Providers = append(resp.Providers, pr)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func createBookingHandler(engine *availability.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		facilityID, err := uuid.Parse(req.FacilityID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_facility_id", "facility_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		date, err := schedule.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		start, err := schedule.ParseTimeOfDay(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}

		b, err := engine.Reserve(r.Context(), availability.ReserveRequest{
			ProviderID: providerID,
			FacilityID: facilityID,
			Date:       date,
			Start:      start,
			PatientID:  patientID,
			Reason:     req.Reason,
		})
		if err != nil {
			handleReserveError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(b))
	}
}

func getBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_booking_id")
		if !ok {
			return
		}

		b, err := svc.Get(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

// transitionHandler serves POST /bookings/{id}/{action} for one lifecycle step.
func transitionHandler(step func(r *http.Request, id uuid.UUID) (*schedule.Booking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_booking_id")
		if !ok {
			return
		}

		b, err := step(r, id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func createRecurringTemplateHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RecurringTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		anchor, ok := parseOptionalDate(w, req.StartDate, "start_date")
		if !ok {
			return
		}

		t := &schedule.RecurringTemplate{
			ProviderID:    req.ProviderID,
			FacilityID:    req.FacilityID,
			Weekday:       req.Weekday,
			IntervalWeeks: req.IntervalWeeks,
			AnchorDate:    anchor,
			Start:         req.StartTime,
			End:           req.EndTime,
			SlotMinutes:   req.SlotDuration,
		}
		if err := svc.CreateRecurringTemplate(r.Context(), t); err != nil {
			handleCalendarError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreatedResponse{ID: t.ID})
	}
}

func createOneOffTemplateHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OneOffTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, ok := parseOptionalDate(w, req.Date, "date")
		if !ok {
			return
		}

		t := &schedule.OneOffTemplate{
			ProviderID:  req.ProviderID,
			FacilityID:  req.FacilityID,
			Date:        date,
			Start:       req.StartTime,
			End:         req.EndTime,
			SlotMinutes: req.SlotDuration,
		}
		if err := svc.CreateOneOffTemplate(r.Context(), t); err != nil {
			handleCalendarError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreatedResponse{ID: t.ID})
	}
}

func createClosureHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ClosureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, ok := parseOptionalDate(w, req.Date, "date")
		if !ok {
			return
		}

		c := &schedule.ClosureWindow{
			ProviderID: req.ProviderID,
			FacilityID: req.FacilityID,
			Date:       date,
			FullDay:    req.FullDay,
			Start:      req.StartTime,
			End:        req.EndTime,
			Reason:     req.Reason,
		}
		if err := svc.CreateClosure(r.Context(), c); err != nil {
			handleCalendarError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreatedResponse{ID: c.ID})
	}
}

func deleteHandler(del func(r *http.Request, id uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_id")
		if !ok {
			return
		}
		if err := del(r, id); err != nil {
			handleCalendarError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleReadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, schedule.ErrFacilityNotFound):
		writeError(w, http.StatusNotFound, "facility_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleReserveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, availability.ErrPastSlot):
		writeError(w, http.StatusUnprocessableEntity, "slot_in_past", err.Error())
	case errors.Is(err, schedule.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, schedule.ErrFacilityNotFound):
		writeError(w, http.StatusNotFound, "facility_not_found", err.Error())
	case errors.Is(err, schedule.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleCalendarError(w http.ResponseWriter, err error) {
	var verr *schedule.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid_record", Details: verr.Msg, Field: verr.Field})
	case errors.Is(err, schedule.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, schedule.ErrFacilityNotFound):
		writeError(w, http.StatusNotFound, "facility_not_found", err.Error())
	case errors.Is(err, schedule.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "template_not_found", err.Error())
	case errors.Is(err, schedule.ErrClosureNotFound):
		writeError(w, http.StatusNotFound, "closure_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseOptionalDate leaves an empty date zero so record validation can report it.
func parseOptionalDate(w http.ResponseWriter, raw, field string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	d, err := schedule.ParseDate(raw)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid_record", Details: "must be YYYY-MM-DD", Field: field})
		return time.Time{}, false
	}
	return d, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
