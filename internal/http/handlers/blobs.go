package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"figureworks/internal/storage"
)

// ServeBlob serves a file-store object to holders of a signed URL.
func (a *App) ServeBlob(w http.ResponseWriter, r *http.Request) {
	if a.Blobs == nil {
		a.error(w, http.StatusNotFound, "not_found", "blob serving disabled")
		return
	}
	key := chi.URLParam(r, "*")
	if err := a.Blobs.VerifyToken(key, r.URL.Query().Get("token")); err != nil {
		a.error(w, http.StatusForbidden, "forbidden", "invalid or expired link")
		return
	}
	obj, err := a.Blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "blob not found")
			return
		}
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}
