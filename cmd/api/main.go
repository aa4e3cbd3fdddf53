package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"figureworks/internal/adapter/repo"
	"figureworks/internal/billing"
	"figureworks/internal/figures"
	"figureworks/internal/http/handlers"
	httpapi "figureworks/internal/http/httpapi"
	"figureworks/internal/imagegen"
	"figureworks/internal/infra"
	"figureworks/internal/infra/credentials"
	"figureworks/internal/infra/geoip"
	"figureworks/internal/middleware"
	"figureworks/internal/notify"
	"figureworks/internal/queue"
	"figureworks/internal/storage"
	"figureworks/internal/webhook"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)
	if err := repo.EnsureSchema(ctx, runner); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}
	sqlxDB, err := infra.NewSQLXDB(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open sqlx handle")
	}
	defer sqlxDB.Close()

	figureRepo := repo.NewFigureRepository(runner)
	ledger := repo.NewCreditLedger(runner)

	blobs, err := storage.Open(ctx, storage.Config{
		Driver:        cfg.StorageDriver,
		BasePath:      cfg.StoragePath,
		BaseURL:       cfg.StorageBaseURL,
		SigningSecret: cfg.JWTSecret,
		Bucket:        cfg.S3Bucket,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}

	dispatcher, err := queue.NewDispatcher(queue.Config{
		Driver:      cfg.QueueDriver,
		QStashURL:   cfg.QStashURL,
		QStashToken: cfg.QStashToken,
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.QueueTopic,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure queue")
	}

	verifier, err := webhook.NewVerifier(webhook.Config{
		CurrentKey: cfg.QStashCurrentKey,
		NextKey:    cfg.QStashNextKey,
		Strict:     cfg.WebhookStrict,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure webhook verifier")
	}

	generator := newGenerator(ctx, cfg, credentials.NewStore(runner), logger)

	svc := figures.NewService(figureRepo, ledger, dispatcher, blobs, figures.Config{
		WorkerURL:      cfg.WorkerURL(),
		DefaultCredits: cfg.DefaultCredits,
		CostCents:      cfg.FigureCostCents,
		SignedURLTTL:   cfg.SignedURLTTL,
		AllowedHosts:   cfg.ImageSourceAllowlist,
	}, logger)
	worker := figures.NewWorker(figureRepo, blobs, generator, figures.WorkerConfig{
		GenerationTimeout: cfg.GenerationTimeout,
	}, logger)

	var processor *billing.Processor
	if cfg.StripeWebhookSecret != "" {
		if processor, err = billing.NewProcessor(cfg.StripeWebhookSecret, billing.PlanPrices(cfg.StripePriceSingleID, cfg.StripePriceGroupID), ledger, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to configure billing")
		}
	}

	hub := notify.NewHub(logger)
	app := &handlers.App{
		Figures:        svc,
		Worker:         worker,
		Verifier:       verifier,
		Billing:        processor,
		Ledger:         ledger,
		Payments:       repo.NewPaymentRepository(sqlxDB),
		Hub:            hub,
		Uploads:        blobs,
		DB:             pool,
		WorkerURL:      cfg.WorkerURL(),
		DefaultCredits: cfg.DefaultCredits,
		Logger:         logger,
	}
	if fs, ok := blobs.(*storage.FileStore); ok {
		app.Blobs = fs
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	var lookup middleware.CountryLookup
	if resolver != nil {
		defer resolver.Close()
		lookup = resolver.CountryCode
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Country:         lookup,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	listener, err := notify.NewListener(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to listen for figure updates")
	}
	defer listener.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msgf("API listening on %s", server.Addr())
		return server.Start()
	})
	g.Go(func() error {
		return hub.Run(gctx, listener)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTPIdleTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}

// newGenerator builds the image client. A missing key leaves the worker
// running so deliveries fail visibly instead of the API refusing to start.
func newGenerator(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) imagegen.Generator {
	openAIKey, err := creds.Resolve(ctx, credentials.ProviderOpenAI, cfg.OpenAIAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("load stored openai key")
	}
	qwenKey, err := creds.Resolve(ctx, credentials.ProviderQwen, cfg.QwenAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("load stored qwen key")
	}
	gen, err := imagegen.NewGenerator(imagegen.Options{
		Provider:      cfg.ImageProvider,
		OpenAIAPIKey:  openAIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIImageModel,
		QwenAPIKey:    qwenKey,
		QwenBaseURL:   cfg.QwenBaseURL,
		Timeout:       cfg.GenerationTimeout,
	})
	if err != nil {
		logger.Warn().Err(err).Str("provider", cfg.ImageProvider).Msg("image generation unavailable")
		return unavailableGenerator{err: err}
	}
	return gen
}

type unavailableGenerator struct{ err error }

func (g unavailableGenerator) Generate(context.Context, imagegen.Request) (imagegen.Result, error) {
	return imagegen.Result{}, g.err
}
