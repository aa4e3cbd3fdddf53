package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"figureworks/internal/domain"
)

func TestNewDispatcherValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "unsupported driver", cfg: Config{Driver: "sqs"}},
		{name: "qstash missing token", cfg: Config{Driver: DriverQStash}},
		{name: "default driver missing token", cfg: Config{}},
		{name: "kafka missing brokers", cfg: Config{Driver: DriverKafka, Topic: "t1"}},
		{name: "kafka missing topic", cfg: Config{Driver: DriverKafka, Brokers: []string{"127.0.0.1:9092"}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, err := NewDispatcher(tc.cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if d != nil {
				t.Fatalf("expected nil dispatcher on error")
			}
		})
	}
}

func TestNewConsumerValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  ConsumerConfig
	}{
		{name: "missing brokers", cfg: ConsumerConfig{Group: "g1", Topic: "t1"}},
		{name: "missing group", cfg: ConsumerConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "t1"}},
		{name: "missing topic", cfg: ConsumerConfig{Brokers: []string{"127.0.0.1:9092"}, Group: "g1"}},
		{name: "max below min", cfg: ConsumerConfig{Brokers: []string{"127.0.0.1:9092"}, Group: "g1", Topic: "t1", MinBytes: 10, MaxBytes: 5}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			c, err := NewKafkaConsumer(ctx, tc.cfg)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if c != nil {
				t.Fatalf("expected nil consumer on error")
			}
		})
	}
}

func TestQStashDispatcherPublishes(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotRetries string
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRetries = r.Header.Get("Upstash-Retries")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"messageId":"msg_123"}`)
	}))
	defer srv.Close()

	d, err := NewQStashDispatcher(QStashOptions{BaseURL: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	enqueued := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	payload := NewPayload("fig-1", domain.FigureParams{
		ImageRef: "user-1/uploads/me.png",
		Name:     "Max",
		Tagline:  "Ships on Fridays",
		Size:     domain.SizePortrait,
	}, enqueued)
	id, err := d.Enqueue(context.Background(), "https://api.example.com/v1/figures/worker", payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id != "msg_123" {
		t.Fatalf("unexpected message id %q", id)
	}
	if !strings.HasSuffix(gotPath, "/publish/https://api.example.com/v1/figures/worker") {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth %q", gotAuth)
	}
	if gotRetries != "3" {
		t.Fatalf("unexpected retries header %q", gotRetries)
	}
	for _, key := range []string{"figureId", "imageUrl", "name", "tagline", "size", "enqueuedAt"} {
		if _, ok := gotBody[key]; !ok {
			t.Fatalf("published body missing %q: %v", key, gotBody)
		}
	}
	if _, ok := gotBody["params"]; ok {
		t.Fatalf("published body must be flat: %v", gotBody)
	}
	var figureID string
	_ = json.Unmarshal(gotBody["figureId"], &figureID)
	if figureID != "fig-1" {
		t.Fatalf("unexpected figureId %q", figureID)
	}
}

func TestPayloadJSONIsFlat(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewPayload("fig-2", domain.FigureParams{
		ImageRef: "https://cdn.example.com/a.png",
		Name:     "Ada",
		Tagline:  "Debugs in prod",
	}, time.Unix(0, 0).UTC()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]bool{"figureId": true, "imageUrl": true, "name": true, "tagline": true, "enqueuedAt": true}
	if len(got) != len(want) {
		t.Fatalf("unexpected keys %v", got)
	}
	for key := range got {
		if !want[key] {
			t.Fatalf("unexpected key %q in %s", key, raw)
		}
	}
	if got["imageUrl"] != "https://cdn.example.com/a.png" {
		t.Fatalf("imageUrl = %v", got["imageUrl"])
	}
}

func TestQStashDispatcherErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"invalid token"}`},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "missing message id", status: http.StatusCreated, body: `{}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			d, err := NewQStashDispatcher(QStashOptions{BaseURL: srv.URL, Token: "tok"})
			if err != nil {
				t.Fatalf("new dispatcher: %v", err)
			}
			_, err = d.Enqueue(context.Background(), "https://x/worker", Payload{FigureID: "f"})
			if err == nil || !strings.HasPrefix(err.Error(), "qstash:") {
				t.Fatalf("expected qstash error, got %v", err)
			}
		})
	}
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaDispatcherWritesEnvelope(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	d := &KafkaDispatcher{writer: w, topic: "figures.generate"}
	id, err := d.Enqueue(context.Background(), "https://api/worker", Payload{FigureID: "fig-9"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one record, got %d", len(w.msgs))
	}
	m := w.msgs[0]
	if m.Topic != "figures.generate" || string(m.Key) != "fig-9" {
		t.Fatalf("unexpected record routing %q %q", m.Topic, m.Key)
	}
	if len(m.Headers) != 1 || m.Headers[0].Key != HeaderMessageID || string(m.Headers[0].Value) != id {
		t.Fatalf("unexpected headers %+v", m.Headers)
	}
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.MessageID != id || env.TargetURL != "https://api/worker" || env.Payload.FigureID != "fig-9" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	w.err = errors.New("broker down")
	if _, err := d.Enqueue(context.Background(), "https://api/worker", Payload{FigureID: "fig-10"}); err == nil {
		t.Fatalf("expected write error")
	}
}

func TestMemoryDispatcher(t *testing.T) {
	t.Parallel()

	d := NewMemoryDispatcher()
	id, err := d.Enqueue(context.Background(), "u", Payload{FigureID: "a"})
	if err != nil || id == "" {
		t.Fatalf("enqueue: id=%q err=%v", id, err)
	}
	if got := d.Published(); len(got) != 1 || got[0].MessageID != id {
		t.Fatalf("unexpected published %+v", got)
	}
	d.Err = errors.New("down")
	if _, err := d.Enqueue(context.Background(), "u", Payload{FigureID: "b"}); err == nil {
		t.Fatalf("expected configured error")
	}
}
