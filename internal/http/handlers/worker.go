package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"figureworks/internal/domain"
	"figureworks/internal/queue"
	"figureworks/internal/webhook"
)

// FigureWorker is the queue delivery target. 2xx acknowledges the message;
// 5xx asks the queue to retry.
func (a *App) FigureWorker(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	log := zerolog.Ctx(r.Context())
	if err := a.Verifier.Verify(r.Header.Get(webhook.SignatureHeader), body, a.WorkerURL); err != nil {
		log.Warn().Err(err).Msg("rejected queue delivery")
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}
	var payload queue.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	outcome, err := a.Worker.Handle(r.Context(), payload)
	switch {
	case err == nil:
		a.json(w, http.StatusOK, map[string]string{"status": string(outcome), "figureId": payload.FigureID})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		a.writeError(w, r, err)
	default:
		log.Error().Err(err).Str("figure_id", payload.FigureID).Str("outcome", string(outcome)).Msg("worker failed")
		a.json(w, http.StatusInternalServerError, map[string]string{
			"error":        "worker_failed",
			"figureId":     payload.FigureID,
			"error_detail": err.Error(),
		})
	}
}
