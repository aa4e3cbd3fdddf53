package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"figureworks/internal/adapter/memory"
	"figureworks/internal/domain"
	"figureworks/internal/figures"
)

func TestEnqueueFigure(t *testing.T) {
	tests := []struct {
		name      string
		user      string
		body      any
		balance   int
		wantCode  int
		wantError string
	}{
		{name: "accepted", user: testUser, body: validRequest(), balance: -1, wantCode: http.StatusAccepted},
		{name: "no user", body: validRequest(), balance: -1, wantCode: http.StatusUnauthorized, wantError: "unauthorized"},
		{name: "bad json", user: testUser, body: []byte("{"), balance: -1, wantCode: http.StatusBadRequest, wantError: "bad_request"},
		{name: "missing name", user: testUser, body: map[string]any{"imageUrl": testUploadKey, "tagline": "x"}, balance: -1, wantCode: http.StatusBadRequest, wantError: "validation_failed"},
		{name: "foreign upload", user: "user-2", body: validRequest(), balance: -1, wantCode: http.StatusBadRequest, wantError: "validation_failed"},
		{name: "no credits", user: testUser, body: validRequest(), balance: 0, wantCode: http.StatusForbidden, wantError: "insufficient_credits"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			if tc.balance >= 0 {
				env.ledger.SetBalance(testUser, tc.balance)
			}
			rec := env.do(t, http.MethodPost, "/v1/figures", tc.user, tc.body, nil)
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantCode, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if tc.wantError != "" {
				if body["error"] != tc.wantError {
					t.Fatalf("error = %v, want %q", body["error"], tc.wantError)
				}
				if got := len(env.dispatcher.Published()); got != 0 {
					t.Fatalf("expected no dispatch, got %d", got)
				}
				return
			}
			if id, _ := body["figureId"].(string); id == "" {
				t.Fatalf("missing figureId in %v", body)
			}
		})
	}
}

func TestEnqueueFigureQueueDown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.dispatcher.Err = errors.New("connection refused")

	rec := env.do(t, http.MethodPost, "/v1/figures", testUser, validRequest(), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "queue_unavailable" || body["error_detail"] == "" {
		t.Fatalf("unexpected body %v", body)
	}
	id, _ := body["figureId"].(string)
	fig, err := env.figures.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get figure: %v", err)
	}
	if fig.Status != domain.FigureStatusError {
		t.Fatalf("status = %s, want error", fig.Status)
	}
}

func TestFigureStatusLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/v1/figures", testUser, validRequest(), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue: %d %s", rec.Code, rec.Body.String())
	}
	id := decodeBody(t, rec)["figureId"].(string)

	status := decodeBody(t, env.do(t, http.MethodGet, "/v1/figures/"+id, testUser, nil, nil))
	if status["status"] != "queued" {
		t.Fatalf("status before worker = %v", status["status"])
	}

	published := env.dispatcher.Published()
	if len(published) != 1 {
		t.Fatalf("published %d messages", len(published))
	}
	if rec := env.deliver(t, published[0].Payload); rec.Code != http.StatusOK {
		t.Fatalf("worker: %d %s", rec.Code, rec.Body.String())
	}

	status = decodeBody(t, env.do(t, http.MethodGet, "/v1/figures/"+id, testUser, nil, nil))
	if status["status"] != "done" {
		t.Fatalf("status after worker = %v", status)
	}
	if url, _ := status["image_url"].(string); url == "" {
		t.Fatalf("expected image_url in %v", status)
	}

	if rec := env.do(t, http.MethodGet, "/v1/figures/"+id, "user-2", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/figures/missing", testUser, nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rec.Code)
	}
}

func TestListAndExportFigures(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/v1/figures", testUser, validRequest(), nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("enqueue %d: %d", i, rec.Code)
		}
	}
	published := env.dispatcher.Published()
	if rec := env.deliver(t, published[0].Payload); rec.Code != http.StatusOK {
		t.Fatalf("worker: %d", rec.Code)
	}

	list := decodeBody(t, env.do(t, http.MethodGet, "/v1/figures?limit=10", testUser, nil, nil))
	items, _ := list["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("listed %d figures, want 2", len(items))
	}

	rec := env.do(t, http.MethodGet, "/v1/figures/export", testUser, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type %q", ct)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	if len(zr.File) != 1 {
		t.Fatalf("zip has %d files, want 1", len(zr.File))
	}
}

type brokenListing struct {
	*memory.FigureStore
}

func (brokenListing) ListByOwner(context.Context, string, int) ([]domain.Figure, error) {
	return nil, errors.New("connection reset")
}

func TestExportFiguresListingFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.app.Figures = figures.NewService(brokenListing{env.figures}, env.ledger, env.dispatcher, env.blobs, figures.Config{
		WorkerURL:    testWorkerURL,
		SignedURLTTL: time.Hour,
	}, zerolog.Nop())

	rec := env.do(t, http.MethodGet, "/v1/figures/export", testUser, nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (%s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q, want application/json", ct)
	}
	if rec.Header().Get("Content-Disposition") != "" {
		t.Fatalf("failed export must not be an attachment")
	}
	if body := decodeBody(t, rec); body["error_detail"] != "connection reset" {
		t.Fatalf("unexpected body %v", body)
	}
}
