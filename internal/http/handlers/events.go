package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"figureworks/internal/notify"
)

const defaultEventsKeepAlive = 25 * time.Second

// eventView is the updated row as the owner sees it, with the result image
// as a signed URL.
func (a *App) eventView(r *http.Request, ev notify.Event) any {
	if a.Figures == nil {
		return ev
	}
	return a.Figures.View(r.Context(), ev.Figure())
}

// FigureEvents streams the caller's status changes as Server-Sent Events.
func (a *App) FigureEvents(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Hub == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "event stream disabled")
		return
	}
	rc := http.NewResponseController(w)
	sub := a.Hub.Subscribe(userID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		a.Logger.Warn().Err(err).Msg("events: flush unsupported")
		return
	}

	interval := a.EventsKeepAlive
	if interval <= 0 {
		interval = defaultEventsKeepAlive
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(a.eventView(r, ev))
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: figure.%s\ndata: %s\n\n", ev.ID, ev.Status, data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
