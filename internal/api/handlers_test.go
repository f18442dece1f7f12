package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/availability-engine/internal/availability"
	"github.com/hackgods/availability-engine/internal/booking"
	"github.com/hackgods/availability-engine/internal/calendar"
	"github.com/hackgods/availability-engine/internal/logging"
	"github.com/hackgods/availability-engine/internal/schedule"
	"github.com/hackgods/availability-engine/internal/store"
)

type fixture struct {
	handler    http.Handler
	store      *store.MemoryStore
	providerID uuid.UUID
	facilityID uuid.UUID
	patientID  uuid.UUID
}

// Monday 2024-03-04 09:00 -> 12:00, 30 minute slots. The clock sits on the
// Sunday before so every slot of that week is in the future.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()

	provider := &schedule.Provider{Name: "Dr. Grey"}
	facility := &schedule.Facility{Name: "North Clinic"}
	patient := &schedule.Patient{FirstName: "Ada", LastName: "Lovelace"}
	for _, err := range []error{
		ms.CreateProvider(ctx, provider),
		ms.CreateFacility(ctx, facility),
		ms.CreatePatient(ctx, patient),
	} {
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	logger := logging.Discard()
	now := time.Date(2024, 3, 3, 8, 0, 0, 0, time.UTC)
	engine := availability.NewEngine(ms, nil, logger, availability.WithClock(func() time.Time { return now }))
	cal := calendar.NewService(ms, schedule.DefaultMinSlotMinutes, logger)

	err := cal.CreateRecurringTemplate(ctx, &schedule.RecurringTemplate{
		ProviderID:    provider.ID,
		FacilityID:    facility.ID,
		Weekday:       0,
		IntervalWeeks: 1,
		AnchorDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Start:         schedule.NewTimeOfDay(9, 0),
		End:           schedule.NewTimeOfDay(12, 0),
		SlotMinutes:   30,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	h := NewRouter(RouterConfig{
		Engine:   engine,
		Bookings: booking.NewService(ms, logger),
		Calendar: cal,
		Logger:   logger,
		Env:      "test",
	})
	return &fixture{handler: h, store: ms, providerID: provider.ID, facilityID: facility.ID, patientID: patient.ID}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (f *fixture) slotsPath(query string) string {
	return "/providers/" + f.providerID.String() + "/facilities/" + f.facilityID.String() + "/slots?" + query
}

func (f *fixture) book(t *testing.T, date, at string) *httptest.ResponseRecorder {
	return f.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		ProviderID: f.providerID.String(),
		FacilityID: f.facilityID.String(),
		PatientID:  f.patientID.String(),
		Date:       date,
		Time:       at,
		Reason:     "checkup",
	})
}

func TestAvailableSlotsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, f.slotsPath("date=2024-03-04"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[AvailableSlotsResponse](t, rec)
	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}
	if len(resp.Times) != len(want) {
		t.Fatalf("times = %v, want %v", resp.Times, want)
	}
	for i := range want {
		if resp.Times[i] != want[i] {
			t.Errorf("times[%d] = %s, want %s", i, resp.Times[i], want[i])
		}
	}

	// Tuesday has no template.
	rec = f.do(t, http.MethodGet, f.slotsPath("date=2024-03-05"), nil)
	if resp := decode[AvailableSlotsResponse](t, rec); len(resp.Times) != 0 {
		t.Errorf("tuesday times = %v, want none", resp.Times)
	}
}

func TestSlotsEndpointBadInput(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"missing date": f.slotsPath(""),
		"bad date":     f.slotsPath("date=03/04/2024"),
		"bad view":     f.slotsPath("date=2024-03-04&view=weekly"),
		"bad provider": "/providers/nope/facilities/" + f.facilityID.String() + "/slots?date=2024-03-04",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			if rec := f.do(t, http.MethodGet, path, nil); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSlotsEmptyDayKeepsTimesKey(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, f.slotsPath("date=2024-03-05"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if got := string(raw["times"]); got != "[]" {
		t.Errorf("times = %q, want []", got)
	}

	rec = f.do(t, http.MethodGet, f.slotsPath("date=2024-03-05&view=all"), nil)
	raw = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if got := string(raw["slots"]); got != "[]" {
		t.Errorf("slots = %q, want []", got)
	}
	if _, ok := raw["times"]; ok {
		t.Error("all view should not carry times")
	}
}

func TestReadEndpointsUnknownOwner(t *testing.T) {
	f := newFixture(t)
	unknown := uuid.NewString()

	cases := []struct {
		name string
		path string
		code string
	}{
		{"slots provider", "/providers/" + unknown + "/facilities/" + f.facilityID.String() + "/slots?date=2024-03-04", "provider_not_found"},
		{"slots facility", "/providers/" + f.providerID.String() + "/facilities/" + unknown + "/slots?date=2024-03-04", "facility_not_found"},
		{"all view provider", "/providers/" + unknown + "/facilities/" + f.facilityID.String() + "/slots?date=2024-03-04&view=all", "provider_not_found"},
		{"week facility", "/facilities/" + unknown + "/week?date=2024-03-04&provider_id=" + f.providerID.String(), "facility_not_found"},
		{"week provider", "/facilities/" + f.facilityID.String() + "/week?date=2024-03-04&provider_id=" + f.providerID.String() + "&provider_id=" + unknown, "provider_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tc.path, nil)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404, body %s", rec.Code, rec.Body)
			}
			if e := decode[ErrorResponse](t, rec); e.Error != tc.code {
				t.Errorf("error = %q, want %q", e.Error, tc.code)
			}
		})
	}
}

func TestCreateBookingAndAllView(t *testing.T) {
	f := newFixture(t)

	rec := f.book(t, "2024-03-04", "10:00")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	b := decode[BookingResponse](t, rec)
	if b.Status != "scheduled" || b.Time != "10:00" || b.PatientName != "Lovelace, Ada" {
		t.Errorf("unexpected booking %+v", b)
	}

	rec = f.do(t, http.MethodGet, f.slotsPath("date=2024-03-04&view=all"), nil)
	resp := decode[AllSlotsResponse](t, rec)
	if len(resp.Slots) != 6 {
		t.Fatalf("slots = %d, want 6", len(resp.Slots))
	}
	for _, s := range resp.Slots {
		booked := s.Time == "10:00"
		if booked != (s.State == "booked") {
			t.Errorf("slot %s state %s", s.Time, s.State)
		}
		if booked && (s.BookingID == nil || *s.BookingID != b.ID) {
			t.Errorf("slot %s booking id = %v, want %s", s.Time, s.BookingID, b.ID)
		}
	}

	rec = f.book(t, "2024-03-04", "10:00")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second booking status = %d, want 409", rec.Code)
	}
	if e := decode[ErrorResponse](t, rec); e.Error != "slot_unavailable" {
		t.Errorf("error = %q", e.Error)
	}
}

func TestCreateBookingErrors(t *testing.T) {
	f := newFixture(t)

	if rec := f.book(t, "2024-03-01", "10:00"); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("past slot status = %d, want 422", rec.Code)
	}
	if rec := f.book(t, "2024-03-04", "12:30"); rec.Code != http.StatusConflict {
		t.Errorf("off-template slot status = %d, want 409", rec.Code)
	}
	if rec := f.book(t, "2024-03-04", "9am"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad time status = %d, want 400", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		ProviderID: f.providerID.String(),
		FacilityID: f.facilityID.String(),
		PatientID:  uuid.NewString(),
		Date:       "2024-03-04",
		Time:       "09:00",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown patient status = %d, want 404", rec.Code)
	}
}

func TestBookingLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)
	b := decode[BookingResponse](t, f.book(t, "2024-03-04", "09:00"))
	base := "/bookings/" + b.ID.String()

	steps := []struct {
		action string
		code   int
		status string
	}{
		{"complete", http.StatusConflict, ""},
		{"confirm", http.StatusOK, "confirmed"},
		{"cancel", http.StatusConflict, ""},
		{"arrive", http.StatusOK, "arrived"},
		{"start", http.StatusOK, "in_progress"},
		{"complete", http.StatusOK, "completed"},
	}
	for _, s := range steps {
		rec := f.do(t, http.MethodPost, base+"/"+s.action, nil)
		if rec.Code != s.code {
			t.Fatalf("%s: status = %d, want %d (%s)", s.action, rec.Code, s.code, rec.Body)
		}
		if s.status != "" {
			if got := decode[BookingResponse](t, rec); got.Status != s.status {
				t.Errorf("%s: booking status = %s, want %s", s.action, got.Status, s.status)
			}
		}
	}

	rec := f.do(t, http.MethodGet, base, nil)
	if got := decode[BookingResponse](t, rec); got.Status != "completed" {
		t.Errorf("GET status = %s", got.Status)
	}
	if rec := f.do(t, http.MethodGet, "/bookings/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown booking status = %d, want 404", rec.Code)
	}
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	b := decode[BookingResponse](t, f.book(t, "2024-03-04", "11:30"))

	if rec := f.do(t, http.MethodPost, "/bookings/"+b.ID.String()+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	if rec := f.book(t, "2024-03-04", "11:30"); rec.Code != http.StatusCreated {
		t.Errorf("rebooking cancelled slot status = %d, want 201", rec.Code)
	}
}

func TestTemplateAndClosureEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/closures", map[string]any{
		"provider_id": f.providerID,
		"facility_id": f.facilityID,
		"date":        "2024-03-04",
		"start_time":  "10:00",
		"end_time":    "11:00",
		"reason":      "staff meeting",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("closure status = %d, body %s", rec.Code, rec.Body)
	}
	closure := decode[CreatedResponse](t, rec)

	resp := decode[AvailableSlotsResponse](t, f.do(t, http.MethodGet, f.slotsPath("date=2024-03-04"), nil))
	if len(resp.Times) != 4 {
		t.Errorf("times with closure = %v, want 4 entries", resp.Times)
	}

	rec = f.do(t, http.MethodPost, "/one-off-templates", map[string]any{
		"provider_id":   f.providerID,
		"facility_id":   f.facilityID,
		"date":          "2024-03-05",
		"start_time":    "14:00",
		"end_time":      "15:00",
		"slot_duration": 20,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("one-off status = %d, body %s", rec.Code, rec.Body)
	}
	resp = decode[AvailableSlotsResponse](t, f.do(t, http.MethodGet, f.slotsPath("date=2024-03-05"), nil))
	if len(resp.Times) != 3 || resp.Times[0] != "14:00" {
		t.Errorf("one-off times = %v", resp.Times)
	}

	if rec := f.do(t, http.MethodDelete, "/closures/"+closure.ID.String(), nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete closure status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/closures/"+closure.ID.String(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestInvalidRecordsRejected(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name  string
		path  string
		body  map[string]any
		field string
	}{
		{
			name: "recurring anchor on wrong weekday",
			path: "/recurring-templates",
			body: map[string]any{
				"provider_id": f.providerID, "facility_id": f.facilityID,
				"weekday": 0, "interval_weeks": 1, "start_date": "2024-03-05",
				"start_time": "09:00", "end_time": "10:00", "slot_duration": 15,
			},
			field: "start_date",
		},
		{
			name: "one-off slot too short",
			path: "/one-off-templates",
			body: map[string]any{
				"provider_id": f.providerID, "facility_id": f.facilityID, "date": "2024-03-05",
				"start_time": "09:00", "end_time": "10:00", "slot_duration": 2,
			},
			field: "slot_duration",
		},
		{
			name: "partial closure without times",
			path: "/closures",
			body: map[string]any{
				"provider_id": f.providerID, "facility_id": f.facilityID, "date": "2024-03-05",
			},
			field: "start_time",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tc.path, tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422 (%s)", rec.Code, rec.Body)
			}
			if e := decode[ErrorResponse](t, rec); e.Error != "invalid_record" || e.Field != tc.field {
				t.Errorf("error = %+v, want field %s", e, tc.field)
			}
		})
	}
}

func TestWeekEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/facilities/"+f.facilityID.String()+"/week?date=2024-03-06&provider_id="+f.providerID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[WeekResponse](t, rec)
	if resp.WeekStart != "2024-03-04" {
		t.Errorf("week start = %s", resp.WeekStart)
	}
	if len(resp.Providers) != 1 || len(resp.Providers[0].Days) != 7 {
		t.Fatalf("unexpected grid %+v", resp)
	}
	if n := len(resp.Providers[0].Days[0].Slots); n != 6 {
		t.Errorf("monday slots = %d, want 6", n)
	}

	if rec := f.do(t, http.MethodGet, "/facilities/"+f.facilityID.String()+"/week", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing provider status = %d, want 400", rec.Code)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoints(t *testing.T) {
	h := NewHealthHandler(failingPinger{}, nil, "test", "v1")

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("live status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503", rec.Code)
	}
	resp := decode[ReadinessResponse](t, rec)
	if resp.Dependencies["postgres"] != "down" {
		t.Errorf("deps = %v", resp.Dependencies)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}
