// Package notify fans figure status changes out to per-owner subscribers.
// Changes arrive from PostgreSQL LISTEN/NOTIFY so every API replica sees
// updates written by any worker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"figureworks/internal/domain"
	"figureworks/internal/sqlinline"
)

const subscriberBuffer = 16

// Event is the updated figure row as emitted by the figures trigger.
type Event struct {
	ID             string              `json:"id"`
	OwnerID        string              `json:"owner_id"`
	Status         domain.FigureStatus `json:"status"`
	Params         domain.FigureParams `json:"params"`
	ResultImageRef string              `json:"result_image_ref,omitempty"`
	Error          string              `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Figure rebuilds the row the event was emitted for.
func (e Event) Figure() domain.Figure {
	return domain.Figure{
		ID:             e.ID,
		OwnerID:        e.OwnerID,
		Status:         e.Status,
		Params:         e.Params,
		ResultImageRef: e.ResultImageRef,
		ErrorDetail:    e.Error,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// Subscription receives events for one owner until closed.
type Subscription struct {
	owner string
	ch    chan Event
	hub   *Hub
	once  sync.Once
}

func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
	log  zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  log.With().Str("component", "notify").Logger(),
	}
}

func (h *Hub) Subscribe(ownerID string) *Subscription {
	sub := &Subscription{owner: ownerID, ch: make(chan Event, subscriberBuffer), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[ownerID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[ownerID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.owner]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.owner)
		}
	}
	close(sub.ch)
}

// Publish delivers ev to the owner's subscribers. A full subscriber misses
// the event rather than stalling the hub.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ev.OwnerID] {
		select {
		case sub.ch <- ev:
		default:
			h.log.Warn().Str("figure_id", ev.ID).Str("owner_id", ev.OwnerID).Msg("subscriber slow, event dropped")
		}
	}
}

// Subscribers reports the live subscription count for an owner.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID])
}

// Source yields raw notifications; *pq.Listener satisfies it.
type Source interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
}

// Run decodes notifications from src and publishes them until ctx ends.
func (h *Hub) Run(ctx context.Context, src Source) error {
	ch := src.NotificationChannel()
	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				return errors.New("notify: listener closed")
			}
			if n == nil {
				h.log.Info().Msg("listener reconnected")
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
				h.log.Warn().Err(err).Str("channel", n.Channel).Msg("malformed notification")
				continue
			}
			h.Publish(ev)
		case <-keepalive.C:
			go func() {
				if err := src.Ping(); err != nil {
					h.log.Warn().Err(err).Msg("listener ping failed")
				}
			}()
		}
	}
}

// NewListener opens a pq listener subscribed to figure status changes.
func NewListener(dsn string, log zerolog.Logger) (*pq.Listener, error) {
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("listener event")
		}
	})
	if err := l.Listen(sqlinline.FigureStatusChannel); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}
