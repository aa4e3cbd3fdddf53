package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"figureworks/internal/storage"
)

const (
	maxUploadSize = 8 << 20
	uploadURLTTL  = time.Hour
)

var uploadTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// UploadPhoto stores a source photo under the caller's prefix. The returned
// path is what POST /v1/figures accepts as imageUrl.
func (a *App) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Uploads == nil {
		a.error(w, http.StatusServiceUnavailable, "uploads_disabled", "uploads are not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			a.error(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds maximum size of 8MB")
			return
		}
		a.error(w, http.StatusBadRequest, "validation_failed", "no file uploaded, send it in the \"file\" field")
		return
	}
	defer file.Close()
	if header.Size > maxUploadSize {
		a.error(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds maximum size of 8MB")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if len(data) > maxUploadSize {
		a.error(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds maximum size of 8MB")
		return
	}

	mime := mimetype.Detect(data)
	ext, ok := uploadTypes[mime.String()]
	if !ok {
		a.error(w, http.StatusBadRequest, "validation_failed", "invalid file type, allowed types: image/jpeg, image/png")
		return
	}

	key := storage.UploadKey(userID, uuid.NewString(), ext)
	if err := a.Uploads.Put(r.Context(), key, data, mime.String()); err != nil {
		a.writeError(w, r, err)
		return
	}
	signed, err := a.Uploads.SignedURL(r.Context(), key, uploadURLTTL)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{
		"path":        key,
		"url":         signed,
		"contentType": mime.String(),
		"size":        len(data),
	})
}
