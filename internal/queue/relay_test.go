package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"figureworks/internal/webhook"
)

func envelopeMessage(t *testing.T, target string, acked *int32) Message {
	t.Helper()
	raw, err := json.Marshal(Envelope{MessageID: "msg_1", TargetURL: target, Payload: Payload{FigureID: "fig-1"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return Message{
		Value: raw,
		ackFn: func(context.Context) error {
			atomic.AddInt32(acked, 1)
			return nil
		},
	}
}

func newTestRelay(t *testing.T, retries int) *Relay {
	t.Helper()
	signer, err := webhook.NewSigner("current-key", time.Minute)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	r, err := NewRelay(&chanConsumer{}, signer, RelayConfig{Retries: retries, Backoff: time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

type chanConsumer struct {
	msgs chan Message
	errs chan error
}

func (c *chanConsumer) Messages() <-chan Message { return c.msgs }
func (c *chanConsumer) Errors() <-chan error { return c.errs }
func (c *chanConsumer) Close() error { return nil }

func TestRelayDeliversSignedPayload(t *testing.T) {
	t.Parallel()

	verifier, err := webhook.NewVerifier(webhook.Config{CurrentKey: "current-key", Strict: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	type delivery struct {
		verifyErr error
		retried   string
	}
	got := make(chan delivery, 1)
	var srvURL atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{
			verifyErr: verifier.Verify(r.Header.Get(webhook.SignatureHeader), body, srvURL.Load().(string)+"/worker"),
			retried:   r.Header.Get(HeaderUpstashRetried),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	srvURL.Store(srv.URL)

	var acked int32
	r := newTestRelay(t, 3)
	if err := r.Handle(context.Background(), envelopeMessage(t, srv.URL+"/worker", &acked)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	d := <-got
	if d.verifyErr != nil {
		t.Fatalf("worker rejected signature: %v", d.verifyErr)
	}
	if d.retried != "0" {
		t.Fatalf("unexpected retried header %q", d.retried)
	}
	if acked != 1 {
		t.Fatalf("expected ack, got %d", acked)
	}
}

func TestRelayRetryPolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		statuses  []int
		wantCalls int32
	}{
		{name: "retries server errors until success", statuses: []int{500, 503, 200}, wantCalls: 3},
		{name: "gives up after three retries", statuses: []int{500, 500, 500, 500, 500}, wantCalls: 4},
		{name: "client error is not retried", statuses: []int{404}, wantCalls: 1},
		{name: "too many requests is retried", statuses: []int{429, 204}, wantCalls: 2},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.statuses[n-1])
			}))
			defer srv.Close()

			var acked int32
			r := newTestRelay(t, 3)
			if err := r.Handle(context.Background(), envelopeMessage(t, srv.URL, &acked)); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if got := atomic.LoadInt32(&calls); got != tc.wantCalls {
				t.Fatalf("expected %d calls, got %d", tc.wantCalls, got)
			}
			if acked != 1 {
				t.Fatalf("expected single ack, got %d", acked)
			}
		})
	}
}

func TestRelayDropsMalformedEnvelope(t *testing.T) {
	t.Parallel()

	var acked int32
	r := newTestRelay(t, 3)
	msg := Message{Value: []byte("not json"), ackFn: func(context.Context) error {
		atomic.AddInt32(&acked, 1)
		return nil
	}}
	if err := r.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if acked != 1 {
		t.Fatalf("expected malformed message to be committed")
	}
}

func TestRelayRunStopsWhenConsumerCloses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var acked int32
	c := &chanConsumer{msgs: make(chan Message, 2), errs: make(chan error, 1)}
	c.msgs <- envelopeMessage(t, srv.URL, &acked)
	c.msgs <- envelopeMessage(t, srv.URL, &acked)
	c.errs <- io.ErrUnexpectedEOF
	close(c.msgs)
	close(c.errs)

	r := newTestRelay(t, 1)
	r.consumer = c
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := atomic.LoadInt32(&acked); got != 2 {
		t.Fatalf("expected 2 acks, got %d", got)
	}
}
