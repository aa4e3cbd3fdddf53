// Package figures implements the enqueue protocol, the status surface and
// the generation worker for action-figure jobs.
package figures

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"figureworks/internal/domain"
	"figureworks/internal/queue"
	"figureworks/internal/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Config struct {
	WorkerURL      string
	DefaultCredits int
	CostCents      int
	SignedURLTTL   time.Duration
	// AllowedHosts lists hosts an http(s) image reference may point at.
	AllowedHosts []string
}

type Service struct {
	figures    domain.FigureRepository
	ledger     domain.CreditLedger
	dispatcher queue.Dispatcher
	blobs      storage.Store
	validator  *requestValidator
	cfg        Config
	allowed    map[string]struct{}
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(figures domain.FigureRepository, ledger domain.CreditLedger, dispatcher queue.Dispatcher, blobs storage.Store, cfg Config, log zerolog.Logger) *Service {
	if cfg.CostCents <= 0 {
		cfg.CostCents = domain.DefaultFigureCostCents
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = struct{}{}
		}
	}
	return &Service{
		figures:    figures,
		ledger:     ledger,
		dispatcher: dispatcher,
		blobs:      blobs,
		validator:  newRequestValidator(),
		cfg:        cfg,
		allowed:    allowed,
		log:        log.With().Str("component", "figures").Logger(),
		now:        time.Now,
	}
}

// Enqueue creates a queued figure, spends one credit and submits the job.
// When submission fails the figure is marked as errored and its id is
// returned together with an ErrQueueUnavailable error.
func (s *Service) Enqueue(ctx context.Context, ownerID string, req domain.EnqueueRequest) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", domain.ErrUnauthorized
	}
	req = normalizeRequest(req)
	if err := s.validator.Validate(req); err != nil {
		return "", err
	}
	size, ok := domain.ParseSize(req.Size)
	if !ok {
		return "", &domain.ValidationError{Field: "size", Message: "unsupported size"}
	}
	imageRef, err := s.resolveImageRef(ctx, ownerID, req.ImageURL)
	if err != nil {
		return "", err
	}

	balance, err := s.ledger.Ensure(ctx, ownerID, s.cfg.DefaultCredits)
	if err != nil {
		return "", err
	}
	if balance < 1 {
		return "", domain.ErrInsufficientCredits
	}

	enqueuedAt := s.now().UTC()
	params := domain.FigureParams{
		ImageRef:    imageRef,
		Name:        req.Name,
		Tagline:     req.Tagline,
		Style:       req.Style,
		Accessories: req.Accessories,
		Size:        size,
	}
	fig, err := s.figures.Create(ctx, domain.NewFigure{
		OwnerID:   ownerID,
		Params:    params,
		Meta:      domain.FigureMeta{Country: req.Country, EnqueuedAt: &enqueuedAt},
		CostCents: s.cfg.CostCents,
	})
	if err != nil {
		return "", err
	}
	logger := s.log.With().Str("figure_id", fig.ID).Str("owner_id", ownerID).Logger()

	if remaining, err := s.ledger.DebitOne(ctx, ownerID); err != nil {
		logger.Error().Err(err).Msg("credit debit failed after figure creation")
	} else {
		logger.Debug().Int("balance", remaining).Msg("credit debited")
	}

	msgID, err := s.dispatcher.Enqueue(ctx, s.cfg.WorkerURL, queue.NewPayload(fig.ID, params, enqueuedAt))
	if err != nil {
		detail := "failed to enqueue job: " + err.Error()
		if markErr := s.figures.MarkError(context.WithoutCancel(ctx), fig.ID, detail, s.now()); markErr != nil {
			logger.Error().Err(markErr).Msg("mark figure error after dispatch failure")
		}
		logger.Error().Err(err).Msg("dispatch failed")
		return fig.ID, fmt.Errorf("%w: %s", domain.ErrQueueUnavailable, detail)
	}

	if err := s.figures.MergeMeta(ctx, fig.ID, domain.FigureMeta{QueueMessageID: msgID}); err != nil {
		logger.Warn().Err(err).Str("message_id", msgID).Msg("record queue message id")
	}
	logger.Info().Str("message_id", msgID).Msg("figure enqueued")
	return fig.ID, nil
}

// resolveImageRef accepts a blob key under the caller's prefix that exists,
// or an http(s) URL on an allowed host.
func (s *Service) resolveImageRef(ctx context.Context, ownerID, raw string) (string, error) {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", &domain.ValidationError{Field: "imageUrl", Message: "unsupported scheme"}
		}
		if _, ok := s.allowed[strings.ToLower(u.Hostname())]; !ok {
			return "", &domain.ValidationError{Field: "imageUrl", Message: "host is not allowed"}
		}
		return raw, nil
	}
	if !storage.OwnedBy(raw, ownerID) {
		return "", &domain.ValidationError{Field: "imageUrl", Message: "must reference one of your uploads"}
	}
	exists, err := s.blobs.Exists(ctx, raw)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			return "", &domain.ValidationError{Field: "imageUrl", Message: "invalid key"}
		}
		return "", fmt.Errorf("%w: blob lookup: %v", domain.ErrCollaborator, err)
	}
	if !exists {
		return "", &domain.ValidationError{Field: "imageUrl", Message: "upload not found"}
	}
	return raw, nil
}

// StatusView is the client-facing summary of a figure.
type StatusView struct {
	ID        string              `json:"id"`
	Status    domain.FigureStatus `json:"status"`
	ImageURL  string              `json:"image_url,omitempty"`
	Error     string              `json:"error,omitempty"`
	Name      string              `json:"name"`
	Tagline   string              `json:"tagline"`
	Style     string              `json:"style,omitempty"`
	Size      domain.Size         `json:"size"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Status returns the caller's figure. Figures owned by someone else are
// reported as not found.
func (s *Service) Status(ctx context.Context, figureID, ownerID string) (StatusView, error) {
	fig, err := s.figures.Get(ctx, figureID)
	if err != nil {
		return StatusView{}, err
	}
	if fig.OwnerID != ownerID {
		return StatusView{}, domain.ErrNotFound
	}
	return s.View(ctx, *fig), nil
}

// List returns the caller's figures, newest first.
func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]StatusView, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	figs, err := s.figures.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, 0, len(figs))
	for _, f := range figs {
		out = append(out, s.View(ctx, f))
	}
	return out, nil
}

// View renders fig for its owner, signing the result image URL.
func (s *Service) View(ctx context.Context, fig domain.Figure) StatusView {
	v := StatusView{
		ID:        fig.ID,
		Status:    fig.Status,
		Name:      fig.Params.Name,
		Tagline:   fig.Params.Tagline,
		Style:     fig.Params.Style,
		Size:      fig.Params.Size,
		CreatedAt: fig.CreatedAt,
		UpdatedAt: fig.UpdatedAt,
	}
	switch fig.Status {
	case domain.FigureStatusDone:
		signed, err := s.blobs.SignedURL(ctx, fig.ResultImageRef, s.cfg.SignedURLTTL)
		if err != nil {
			s.log.Warn().Err(err).Str("figure_id", fig.ID).Msg("sign result url")
		}
		v.ImageURL = signed
	case domain.FigureStatusError:
		v.Error = fig.ErrorDetail
	}
	return v
}
