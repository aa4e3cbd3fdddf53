package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"figureworks/internal/billing"
	"figureworks/internal/domain"
	"figureworks/internal/figures"
	"figureworks/internal/middleware"
	"figureworks/internal/notify"
	"figureworks/internal/storage"
	"figureworks/internal/webhook"
)

const (
	maxJSONBody    = 1 << 20
	maxWebhookBody = 64 << 10
)

// BlobFiles serves blobs behind signed URLs. Only the file store driver
// needs it; S3 hands out presigned URLs.
type BlobFiles interface {
	Get(ctx context.Context, key string) (storage.Object, error)
	VerifyToken(key, token string) error
}

// Pinger reports database reachability for the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Figures        *figures.Service
	Worker         *figures.Worker
	Verifier       *webhook.Verifier
	Billing        *billing.Processor
	Ledger         domain.CreditLedger
	Payments       domain.PaymentHistory
	Hub            *notify.Hub
	Blobs          BlobFiles
	Uploads        storage.Store
	DB             Pinger
	WorkerURL      string
	DefaultCredits int
	Logger         zerolog.Logger

	// EventsKeepAlive is the SSE comment interval.
	EventsKeepAlive time.Duration
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, msg string) {
	a.json(w, code, map[string]string{"error": slug, "message": msg})
}

// writeError maps domain errors to HTTP responses. Server-side failures
// carry the underlying detail in error_detail.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, map[string]string{"error": "validation_failed", "field": verr.Field, "message": verr.Message})
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusForbidden, "insufficient_credits", "no credits left, top up to continue")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "figure not found")
	default:
		slug := "internal"
		if errors.Is(err, domain.ErrQueueUnavailable) {
			slug = "queue_unavailable"
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		a.json(w, http.StatusInternalServerError, map[string]string{
			"error":        slug,
			"message":      "internal server error",
			"error_detail": err.Error(),
		})
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	return dec.Decode(dst)
}
