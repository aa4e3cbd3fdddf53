package domain

import (
	"strings"
	"time"
)

// FigureStatus enumerates figure lifecycle states. done and error are terminal.
type FigureStatus string

const (
	FigureStatusQueued FigureStatus = "queued"
	FigureStatusDone   FigureStatus = "done"
	FigureStatusError  FigureStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s FigureStatus) Terminal() bool {
	return s == FigureStatusDone || s == FigureStatusError
}

// Size is the requested output resolution.
type Size string

const (
	SizeSquare    Size = "1024x1024"
	SizePortrait  Size = "1024x1536"
	SizeLandscape Size = "1536x1024"

	DefaultSize = SizePortrait
)

// ParseSize normalizes raw input, falling back to DefaultSize when empty.
// Unknown values are returned as-is with ok=false.
func ParseSize(raw string) (Size, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultSize, true
	}
	switch s := Size(raw); s {
	case SizeSquare, SizePortrait, SizeLandscape:
		return s, true
	default:
		return s, false
	}
}

// DefaultFigureCostCents is the audit amount recorded per figure ($1.99).
const DefaultFigureCostCents = 199

// FigureParams are the generation inputs, immutable after creation.
type FigureParams struct {
	ImageRef    string   `json:"image_ref"`
	Name        string   `json:"name"`
	Tagline     string   `json:"tagline"`
	Style       string   `json:"style,omitempty"`
	Accessories []string `json:"accessories,omitempty"`
	Size        Size     `json:"size"`
}

// FigureMeta is bookkeeping merged in after creation. Nothing relies on it
// for correctness.
type FigureMeta struct {
	QueueMessageID        string     `json:"queue_message_id,omitempty"`
	Country               string     `json:"country,omitempty"`
	EnqueuedAt            *time.Time `json:"enqueued_at,omitempty"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
}

// Figure is one generation job.
type Figure struct {
	ID             string
	OwnerID        string
	Params         FigureParams
	Meta           FigureMeta
	Status         FigureStatus
	ResultImageRef string
	ErrorDetail    string
	FailedAt       *time.Time
	CostCents      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewFigure captures everything the store needs to insert a queued figure.
type NewFigure struct {
	OwnerID   string
	Params    FigureParams
	Meta      FigureMeta
	CostCents int
}
