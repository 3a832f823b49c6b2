package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/clinicbook/libs/kafkax"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type sliceSource struct {
	mu        sync.Mutex
	records   []Record
	published int
}

func (s *sliceSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

func (s *sliceSource) PublishPending(ctx context.Context, limit int, fn func(context.Context, []Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(limit, len(s.records))
	if n == 0 {
		return nil
	}
	if err := fn(ctx, s.records[:n]); err != nil {
		return err
	}
	s.records = s.records[n:]
	s.published += n
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublisherWritesRecordsAsMessages(t *testing.T) {
	src := &sliceSource{records: []Record{
		{ID: 1, EventID: "e-1", AggregateID: "appt-1", EventType: EventAppointmentBooked, Payload: []byte(`{"a":1}`)},
		{ID: 2, EventID: "e-2", AggregateID: "appt-1", EventType: EventAppointmentCancelled, Payload: []byte(`{"a":2}`)},
		{ID: 3, EventID: "e-3", AggregateID: "appt-2", EventType: EventAppointmentBooked, Payload: []byte(`{"a":3}`)},
	}}
	w := &fakeWriter{}
	p := newPublisher(src, w, discard(), PublisherConfig{BatchSize: 2})

	if err := p.PublishOnce(context.Background()); err != nil {
		t.Fatalf("PublishOnce failed: %v", err)
	}
	if len(w.msgs) != 2 || src.published != 2 {
		t.Fatalf("expected one batch of 2, got %d messages", len(w.msgs))
	}
	msg := w.msgs[1]
	if msg.Topic != EventAppointmentCancelled || string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected routing topic=%s key=%s", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != "e-2" {
		t.Fatalf("expected event_id header, got %+v", msg.Headers)
	}
}

func TestPublisherKeepsRecordsOnWriteFailure(t *testing.T) {
	src := &sliceSource{records: []Record{{ID: 1, EventID: "e-1", EventType: EventAppointmentBooked}}}
	w := &fakeWriter{err: errors.New("broker down")}
	p := newPublisher(src, w, discard(), PublisherConfig{})

	if err := p.PublishOnce(context.Background()); err == nil {
		t.Fatal("expected write error")
	}
	if len(src.records) != 1 {
		t.Fatal("records must stay pending after a failed write")
	}
}

func TestPublisherRunStopsOnCancel(t *testing.T) {
	src := &sliceSource{records: []Record{{ID: 1, EventID: "e-1", EventType: EventAppointmentBooked}}}
	w := &fakeWriter{}
	p := newPublisher(src, w, discard(), PublisherConfig{PollEvery: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for src.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("publisher never drained the source")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
	if !w.closed {
		t.Fatal("expected writer to be closed on shutdown")
	}
}

func TestNilPublisherWithoutBrokers(t *testing.T) {
	p := NewPublisher(&sliceSource{}, discard(), PublisherConfig{Brokers: " "})
	if p != nil {
		t.Fatal("expected nil publisher without brokers")
	}
	p.Run(context.Background())
}

func TestRepositoryPublishPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := NewRepository(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}).
			AddRow(int64(9), "e-9", "appointment", "appt-2", EventAppointmentCancelled, []byte(`{}`), "", "", now).
			AddRow(int64(7), "e-7", "appointment", "appt-1", EventAppointmentBooked, []byte(`{}`), "", "", now))
	mock.ExpectCommit()

	var got []Record
	err = repo.PublishPending(context.Background(), 50, func(_ context.Context, recs []Record) error {
		got = recs
		return nil
	})
	if err != nil {
		t.Fatalf("PublishPending failed: %v", err)
	}
	if len(got) != 2 || got[0].EventID != "e-7" || got[1].EventID != "e-9" {
		t.Fatalf("unexpected records %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryEmptyBatchCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE outbox_events").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}))
	mock.ExpectCommit()

	called := false
	err = NewRepository(mock).PublishPending(context.Background(), 10, func(context.Context, []Record) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Fatalf("expected quiet commit, err=%v called=%v", err, called)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryPublishFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}).
			AddRow(int64(1), "e-1", "appointment", "appt-1", EventAppointmentBooked, []byte(`{}`), "", "", time.Now()))
	mock.ExpectRollback()

	err = repo.PublishPending(context.Background(), 10, func(context.Context, []Record) error { return errors.New("broker down") })
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
