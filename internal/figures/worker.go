package figures

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"figureworks/internal/domain"
	"figureworks/internal/imagegen"
	"figureworks/internal/queue"
	"figureworks/internal/storage"
)

const (
	defaultGenerationTimeout = 120 * time.Second
	rescueTimeout            = 10 * time.Second
)

// Outcome is what a worker invocation did.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

type WorkerConfig struct {
	GenerationTimeout time.Duration
	MaxDownload       int64
	HTTPClient        *http.Client
}

// Worker moves a queued figure to done or error. It is safe to invoke any
// number of times per figure: terminal figures are skipped and the store
// only accepts the first terminal write.
type Worker struct {
	figures   domain.FigureRepository
	blobs     storage.Store
	generator imagegen.Generator
	client    *http.Client
	cfg       WorkerConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewWorker(figures domain.FigureRepository, blobs storage.Store, generator imagegen.Generator, cfg WorkerConfig, log zerolog.Logger) *Worker {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.MaxDownload <= 0 {
		cfg.MaxDownload = imagegen.DefaultMaxDownload
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Worker{
		figures:   figures,
		blobs:     blobs,
		generator: generator,
		client:    client,
		cfg:       cfg,
		log:       log.With().Str("component", "worker").Logger(),
		now:       time.Now,
	}
}

// Handle processes one delivery. Errors wrapping domain.ErrValidation or
// domain.ErrNotFound are permanent; anything else asks the queue to retry.
func (w *Worker) Handle(ctx context.Context, payload queue.Payload) (outcome Outcome, err error) {
	figureID := strings.TrimSpace(payload.FigureID)
	if figureID == "" {
		return OutcomeFailed, &domain.ValidationError{Field: "figureId", Message: "is required"}
	}
	fig, err := w.figures.Get(ctx, figureID)
	if err != nil {
		return OutcomeFailed, err
	}
	logger := w.log.With().Str("figure_id", fig.ID).Str("owner_id", fig.OwnerID).Logger()
	if fig.Status.Terminal() {
		logger.Info().Str("status", string(fig.Status)).Msg("figure already terminal, skipping")
		return OutcomeSkipped, nil
	}

	started := w.now().UTC()
	if err := w.figures.MergeMeta(ctx, fig.ID, domain.FigureMeta{ProcessingStartedAt: &started}); err != nil {
		logger.Warn().Err(err).Msg("record processing start")
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("worker panic")
			w.fail(ctx, fig.ID, fmt.Sprintf("internal error: %v", r), logger)
			outcome, err = OutcomeFailed, fmt.Errorf("%w: panic: %v", domain.ErrCollaborator, r)
		}
	}()

	ref, err := w.process(ctx, fig)
	if err != nil {
		logger.Error().Err(err).Msg("generation failed")
		w.fail(ctx, fig.ID, err.Error(), logger)
		return OutcomeFailed, fmt.Errorf("%w: %v", domain.ErrCollaborator, err)
	}

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rescueTimeout)
	defer cancel()
	switch err := w.figures.MarkDone(markCtx, fig.ID, ref, w.now()); {
	case err == nil:
		logger.Info().Str("result_ref", ref).Dur("elapsed", w.now().Sub(started)).Msg("figure done")
		return OutcomeDone, nil
	case errors.Is(err, domain.ErrAlreadyTerminal):
		logger.Info().Msg("another attempt finished first")
		w.discard(markCtx, ref, logger)
		return OutcomeSkipped, nil
	default:
		logger.Error().Err(err).Msg("mark figure done")
		w.discard(markCtx, ref, logger)
		w.fail(ctx, fig.ID, "failed to save result: "+err.Error(), logger)
		return OutcomeFailed, err
	}
}

// process runs the collaborator call and stores the image under a key
// private to this attempt. It returns the blob key of the result.
func (w *Worker) process(ctx context.Context, fig *domain.Figure) (string, error) {
	source, err := w.loadSource(ctx, fig.Params.ImageRef)
	if err != nil {
		return "", fmt.Errorf("load source image: %w", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, w.cfg.GenerationTimeout)
	defer cancel()
	res, err := w.generator.Generate(genCtx, imagegen.Request{
		Source: source,
		Prompt: imagegen.BuildPrompt(imagegen.PromptParams{
			Name:        fig.Params.Name,
			Tagline:     fig.Params.Tagline,
			Style:       fig.Params.Style,
			Accessories: fig.Params.Accessories,
		}),
		Size: string(fig.Params.Size),
	})
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("image generation timed out after %s", w.cfg.GenerationTimeout)
		}
		return "", err
	}

	data := res.Data
	if len(data) == 0 {
		if res.URL == "" {
			return "", imagegen.ErrEmptyResult
		}
		data, _, err = imagegen.Download(genCtx, w.client, res.URL, w.cfg.MaxDownload)
		if err != nil {
			return "", fmt.Errorf("download result: %w", err)
		}
	}

	key := storage.FigureKey(fig.OwnerID, fig.ID, uuid.NewString())
	if err := w.blobs.Put(ctx, key, data, "image/png"); err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return key, nil
}

func (w *Worker) loadSource(ctx context.Context, ref string) (imagegen.SourceImage, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, contentType, err := imagegen.Download(ctx, w.client, ref, w.cfg.MaxDownload)
		if err != nil {
			return imagegen.SourceImage{}, err
		}
		return imagegen.SourceImage{URL: ref, Data: data, MIMEType: contentType}, nil
	}
	obj, err := w.blobs.Get(ctx, ref)
	if err != nil {
		return imagegen.SourceImage{}, err
	}
	return imagegen.SourceImage{Data: obj.Data, MIMEType: obj.ContentType}, nil
}

// discard removes the image of an attempt that lost the terminal write.
func (w *Worker) discard(ctx context.Context, ref string, logger zerolog.Logger) {
	if err := w.blobs.Delete(ctx, ref); err != nil {
		logger.Warn().Err(err).Str("result_ref", ref).Msg("discard losing attempt image")
	}
}

// fail writes the error transition on a context detached from the request
// so a cancelled delivery still records the outcome.
func (w *Worker) fail(ctx context.Context, figureID, detail string, logger zerolog.Logger) {
	rescueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rescueTimeout)
	defer cancel()
	switch err := w.figures.MarkError(rescueCtx, figureID, detail, w.now()); {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyTerminal):
		logger.Info().Msg("figure already terminal, error not recorded")
	default:
		logger.Error().Err(err).Msg("rescue write failed, figure left queued")
	}
}
