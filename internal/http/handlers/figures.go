package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"figureworks/internal/domain"
	"figureworks/internal/middleware"
)

type enqueueResponse struct {
	FigureID string `json:"figureId"`
}

func (a *App) EnqueueFigure(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req domain.EnqueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Country = middleware.CountryFromContext(r.Context())

	figureID, err := a.Figures.Enqueue(r.Context(), userID, req)
	if err != nil {
		if figureID != "" && errors.Is(err, domain.ErrQueueUnavailable) {
			a.json(w, http.StatusInternalServerError, map[string]string{
				"error":        "queue_unavailable",
				"figureId":     figureID,
				"message":      "failed to enqueue job",
				"error_detail": err.Error(),
			})
			return
		}
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, enqueueResponse{FigureID: figureID})
}

func (a *App) FigureStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	view, err := a.Figures.Status(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, view)
}

func (a *App) ListFigures(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := a.Figures.List(r.Context(), userID, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// ExportFigures streams a zip of the caller's finished figures.
func (a *App) ExportFigures(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	name := fmt.Sprintf("figures-%s.zip", time.Now().UTC().Format("20060102"))
	zw := &attachmentWriter{w: w, contentType: "application/zip", filename: name}
	n, err := a.Figures.Export(r.Context(), userID, zw)
	if err != nil {
		if !zw.started {
			a.writeError(w, r, err)
			return
		}
		// The archive already started; the client sees a truncated download.
		a.Logger.Error().Err(err).Str("owner_id", userID).Msg("export failed")
		return
	}
	a.Logger.Info().Str("owner_id", userID).Int("figures", n).Msg("export done")
}

// attachmentWriter sends the download headers on the first write so a failure
// before any output can still become a JSON error.
type attachmentWriter struct {
	w           http.ResponseWriter
	contentType string
	filename    string
	started     bool
}

func (aw *attachmentWriter) Write(p []byte) (int, error) {
	if !aw.started {
		aw.started = true
		aw.w.Header().Set("Content-Type", aw.contentType)
		aw.w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", aw.filename))
		aw.w.WriteHeader(http.StatusOK)
	}
	return aw.w.Write(p)
}
