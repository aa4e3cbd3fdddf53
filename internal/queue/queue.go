// Package queue hands figure jobs to a durable delivery queue that later POSTs
// them, signed, to the worker endpoint.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"figureworks/internal/domain"
)

const (
	DriverQStash = "qstash"
	DriverKafka  = "kafka"
	DriverMemory = "memory"

	// DefaultRetries is the delivery retry bound requested from the queue.
	DefaultRetries = 3
)

var ErrInvalidConfig = errors.New("queue: invalid config")

// Payload is the body delivered to the worker: the figure parameters plus
// figureId and enqueuedAt. The worker reloads the record by FigureID, so the
// rest is informational.
type Payload struct {
	FigureID    string    `json:"figureId"`
	ImageURL    string    `json:"imageUrl"`
	Name        string    `json:"name"`
	Tagline     string    `json:"tagline"`
	Style       string    `json:"style,omitempty"`
	Accessories []string  `json:"accessories,omitempty"`
	Size        string    `json:"size,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// NewPayload builds the delivery body for a figure.
func NewPayload(figureID string, params domain.FigureParams, enqueuedAt time.Time) Payload {
	return Payload{
		FigureID:    figureID,
		ImageURL:    params.ImageRef,
		Name:        params.Name,
		Tagline:     params.Tagline,
		Style:       params.Style,
		Accessories: params.Accessories,
		Size:        string(params.Size),
		EnqueuedAt:  enqueuedAt,
	}
}

// Dispatcher submits a job for at-least-once delivery to targetURL and
// returns the queue's message id.
type Dispatcher interface {
	Enqueue(ctx context.Context, targetURL string, payload Payload) (string, error)
}

// Config selects and configures a Dispatcher.
type Config struct {
	Driver string

	// QStash fields.
	QStashURL   string
	QStashToken string

	// Kafka fields.
	Brokers []string
	Topic   string

	Retries int
	Timeout time.Duration
}

// NewDispatcher creates a dispatcher for the configured driver.
func NewDispatcher(cfg Config) (Dispatcher, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverQStash:
		return NewQStashDispatcher(QStashOptions{
			BaseURL: cfg.QStashURL,
			Token:   cfg.QStashToken,
			Retries: cfg.Retries,
			Timeout: cfg.Timeout,
		})
	case DriverKafka:
		return NewKafkaDispatcher(cfg.Brokers, cfg.Topic)
	case DriverMemory:
		return NewMemoryDispatcher(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverQStash
	}
	return v
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
