package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"figureworks/internal/adapter/memory"
	"figureworks/internal/billing"
	"figureworks/internal/figures"
	"figureworks/internal/imagegen"
	"figureworks/internal/middleware"
	"figureworks/internal/notify"
	"figureworks/internal/queue"
	"figureworks/internal/storage"
	"figureworks/internal/webhook"
)

const (
	testUser          = "user-1"
	testWorkerURL     = "https://api.example.com/v1/figures/worker"
	testSigningKey    = "sig_current"
	testStripeSecret  = "whsec_test"
	testUploadKey     = testUser + "/uploads/me.png"
	testDefaultCredit = 2
)

type stubGenerator struct {
	err error
}

func (g stubGenerator) Generate(ctx context.Context, req imagegen.Request) (imagegen.Result, error) {
	if g.err != nil {
		return imagegen.Result{}, g.err
	}
	return imagegen.Result{Data: []byte("png-bytes"), MIMEType: "image/png"}, nil
}

type testEnv struct {
	app        *App
	router     http.Handler
	figures    *memory.FigureStore
	ledger     *memory.Ledger
	dispatcher *queue.MemoryDispatcher
	blobs      *storage.FileStore
	signer     *webhook.Signer
}

func newTestEnv(t *testing.T, gen imagegen.Generator) *testEnv {
	t.Helper()
	if gen == nil {
		gen = stubGenerator{}
	}
	blobs, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/v1/blobs", "blob-secret")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	if err := blobs.Put(context.Background(), testUploadKey, []byte("face"), "image/png"); err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	verifier, err := webhook.NewVerifier(webhook.Config{CurrentKey: testSigningKey, Strict: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	signer, err := webhook.NewSigner(testSigningKey, time.Minute)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	env := &testEnv{
		figures:    memory.NewFigureStore(),
		ledger:     memory.NewLedger(),
		dispatcher: queue.NewMemoryDispatcher(),
		blobs:      blobs,
		signer:     signer,
	}
	processor, err := billing.NewProcessor(testStripeSecret, nil, env.ledger, zerolog.Nop())
	if err != nil {
		t.Fatalf("billing: %v", err)
	}
	svc := figures.NewService(env.figures, env.ledger, env.dispatcher, blobs, figures.Config{
		WorkerURL:      testWorkerURL,
		DefaultCredits: testDefaultCredit,
		SignedURLTTL:   time.Hour,
		AllowedHosts:   []string{"localhost"},
	}, zerolog.Nop())
	worker := figures.NewWorker(env.figures, blobs, gen, figures.WorkerConfig{GenerationTimeout: time.Second}, zerolog.Nop())
	env.app = &App{
		Figures:         svc,
		Worker:          worker,
		Verifier:        verifier,
		Billing:         processor,
		Ledger:          env.ledger,
		Payments:        env.ledger,
		Hub:             notify.NewHub(zerolog.Nop()),
		Blobs:           blobs,
		Uploads:         blobs,
		WorkerURL:       testWorkerURL,
		DefaultCredits:  testDefaultCredit,
		Logger:          zerolog.Nop(),
		EventsKeepAlive: 50 * time.Millisecond,
	}
	env.router = testRouter(env.app)
	return env
}

// testRouter mounts the handlers with a header-based identity instead of
// bearer tokens.
func testRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.ContextWithUserID(r.Context(), r.Header.Get("X-Test-User"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Get("/v1/healthz", app.Health)
	r.Post("/v1/figures", app.EnqueueFigure)
	r.Get("/v1/figures", app.ListFigures)
	r.Get("/v1/figures/export", app.ExportFigures)
	r.Get("/v1/figures/events", app.FigureEvents)
	r.Get("/v1/figures/{id}", app.FigureStatus)
	r.Post("/v1/figures/worker", app.FigureWorker)
	r.Get("/v1/credits", app.Credits)
	r.Post("/v1/payments/webhook", app.PaymentsWebhook)
	r.Get("/v1/blobs/*", app.ServeBlob)
	r.Post("/v1/uploads", app.UploadPhoto)
	return r
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) deliver(t *testing.T, payload queue.Payload) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	sig, err := e.signer.Sign(testWorkerURL, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return e.do(t, http.MethodPost, "/v1/figures/worker", "", body, map[string]string{webhook.SignatureHeader: sig})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func stripeSignature(payload []byte, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testStripeSecret))
	mac.Write([]byte(t + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", t, hex.EncodeToString(mac.Sum(nil)))
}

func validRequest() map[string]any {
	return map[string]any{
		"imageUrl": testUploadKey,
		"name":     "Ada",
		"tagline":  "Ships on Fridays",
		"style":    "superhero",
	}
}
