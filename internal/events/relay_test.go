package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/hackgods/availability-engine/internal/schedule"
)

type fakeOutbox struct {
	pending []Event
	limits  []int
}

func (o *fakeOutbox) DrainOutbox(ctx context.Context, limit int, fn func(context.Context, []Event) error) (int, error) {
	o.limits = append(o.limits, limit)
	n := limit
	if n > len(o.pending) {
		n = len(o.pending)
	}
	if n == 0 {
		return 0, nil
	}
	if err := fn(ctx, o.pending[:n]); err != nil {
		return 0, err
	}
	o.pending = o.pending[n:]
	return n, nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func testBooking() *schedule.Booking {
	return &schedule.Booking{
		ID:          uuid.New(),
		ProviderID:  uuid.New(),
		FacilityID:  uuid.New(),
		PatientID:   uuid.New(),
		ScheduledAt: time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
		Status:      schedule.StatusConfirmed,
	}
}

func TestNewBookingEventPayload(t *testing.T) {
	b := testBooking()
	ev, err := NewBookingEvent(BookingStatusChanged, b, schedule.StatusScheduled)
	if err != nil {
		t.Fatal(err)
	}
	if ev.EventType != BookingStatusChanged || ev.AggregateID != b.ID {
		t.Errorf("event = %+v", ev)
	}

	var payload map[string]string
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["scheduled_at"] != "2024-03-04T09:30:00" || payload["status"] != "confirmed" || payload["previous_status"] != "scheduled" {
		t.Errorf("payload = %v", payload)
	}
}

func TestRelayPublishesInBatches(t *testing.T) {
	b := testBooking()
	var pending []Event
	for i := 1; i <= 5; i++ {
		ev, err := NewBookingEvent(BookingReserved, b, "")
		if err != nil {
			t.Fatal(err)
		}
		ev.ID = int64(i)
		pending = append(pending, ev)
	}
	outbox := &fakeOutbox{pending: pending}
	writer := &fakeWriter{}
	relay := NewRelay(outbox, writer, nil, 2)

	total := 0
	for {
		n, err := relay.RunOnce(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != 5 || len(writer.msgs) != 5 {
		t.Fatalf("published %d, wrote %d messages", total, len(writer.msgs))
	}

	m := writer.msgs[0]
	if m.Topic != BookingReserved || string(m.Key) != b.ID.String() {
		t.Errorf("message = %+v", m)
	}
	if len(m.Headers) != 2 || string(m.Headers[0].Value) != "1" {
		t.Errorf("headers = %+v", m.Headers)
	}
	for _, l := range outbox.limits {
		if l != 2 {
			t.Errorf("drain limit = %d, want 2", l)
		}
	}
}

func TestRelayWriteFailureKeepsEvents(t *testing.T) {
	ev, err := NewBookingEvent(BookingReserved, testBooking(), "")
	if err != nil {
		t.Fatal(err)
	}
	outbox := &fakeOutbox{pending: []Event{ev}}
	writer := &fakeWriter{err: errors.New("leader not available")}
	relay := NewRelay(outbox, writer, nil, 10)

	if _, err := relay.RunOnce(context.Background()); err == nil {
		t.Fatal("expected write error")
	}
	if len(outbox.pending) != 1 {
		t.Error("event dropped after failed write")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Errorf("SplitBrokers = %v", got)
	}
}
