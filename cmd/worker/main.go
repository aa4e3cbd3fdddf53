package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"figureworks/internal/adapter/repo"
	"figureworks/internal/figures"
	"figureworks/internal/http/handlers"
	"figureworks/internal/imagegen"
	"figureworks/internal/infra"
	"figureworks/internal/infra/credentials"
	"figureworks/internal/middleware"
	"figureworks/internal/storage"
	"figureworks/internal/webhook"
)

// The worker binary serves only the queue delivery endpoint so generation
// can scale apart from the public API.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	blobs, err := storage.Open(ctx, storage.Config{
		Driver:        cfg.StorageDriver,
		BasePath:      cfg.StoragePath,
		BaseURL:       cfg.StorageBaseURL,
		SigningSecret: cfg.JWTSecret,
		Bucket:        cfg.S3Bucket,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: blob store")
	}

	verifier, err := webhook.NewVerifier(webhook.Config{
		CurrentKey: cfg.QStashCurrentKey,
		NextKey:    cfg.QStashNextKey,
		Strict:     cfg.WebhookStrict,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: webhook verifier")
	}

	creds := credentials.NewStore(runner)
	openAIKey, err := creds.Resolve(ctx, credentials.ProviderOpenAI, cfg.OpenAIAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: load stored openai key")
	}
	qwenKey, err := creds.Resolve(ctx, credentials.ProviderQwen, cfg.QwenAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: load stored qwen key")
	}
	generator, err := imagegen.NewGenerator(imagegen.Options{
		Provider:      cfg.ImageProvider,
		OpenAIAPIKey:  openAIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIImageModel,
		QwenAPIKey:    qwenKey,
		QwenBaseURL:   cfg.QwenBaseURL,
		Timeout:       cfg.GenerationTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: image provider")
	}

	app := &handlers.App{
		Worker:    figures.NewWorker(repo.NewFigureRepository(runner), blobs, generator, figures.WorkerConfig{GenerationTimeout: cfg.GenerationTimeout}, logger),
		Verifier:  verifier,
		DB:        pool,
		WorkerURL: cfg.WorkerURL(),
		Logger:    logger,
	}
	server := infra.NewHTTPServer(cfg, workerRouter(app, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("provider", cfg.ImageProvider).Msgf("worker listening on %s", server.Addr())
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.GenerationTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker stopped")
}

func workerRouter(app *handlers.App, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, middleware.Logger(logger), chimw.Recoverer)
	r.Get("/v1/healthz", app.Health)
	r.Post("/v1/figures/worker", app.FigureWorker)
	return r
}
