package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := NewWithWriter(w, testLogger())

	value := map[string]any{"norad_id": 25544, "passes": []int{}}
	if err := p.Publish(context.Background(), "25544", value); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "25544" {
		t.Errorf("key = %q", msg.Key)
	}
	var got map[string]any
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if got["norad_id"] != float64(25544) {
		t.Errorf("value = %v", got)
	}
	if len(msg.Headers) != 1 || msg.Headers[0].Key != "content-type" {
		t.Errorf("headers = %v", msg.Headers)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close = %v, closed = %v", err, w.closed)
	}
}

func TestPublishErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := NewWithWriter(&fakeWriter{err: boom}, testLogger())
	if err := p.Publish(context.Background(), "1", "x"); !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped broker error", err)
	}

	if err := p.Publish(context.Background(), "1", func() {}); err == nil {
		t.Error("expected encoding error for a func value")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Topic: "passes"}, testLogger()); !errors.Is(err, ErrNoBrokers) {
		t.Errorf("no brokers: %v", err)
	}
	if _, err := New(Config{Brokers: []string{"localhost:9092"}}, testLogger()); err == nil {
		t.Error("expected error without topic")
	}

	p, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "passes"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close on idle writer: %v", err)
	}
}
