package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"figureworks/internal/http/handlers"
	"figureworks/internal/middleware"
)

type Options struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	Country         middleware.CountryLookup
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, middleware.Logger(opts.Logger), chimw.Recoverer)
	r.Use(middleware.CORS(opts.CORSOrigins), middleware.Country(opts.Country))

	// Health
	r.Get("/v1/healthz", app.Health)

	// Machine callers authenticate with their own signatures.
	r.Post("/v1/figures/worker", app.FigureWorker)
	r.Post("/v1/payments/webhook", app.PaymentsWebhook)
	r.Get("/v1/blobs/*", app.ServeBlob)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Route("/v1/figures", func(r chi.Router) {
			limit := opts.RateLimitPerMin
			if limit <= 0 {
				limit = 30
			}
			r.With(middleware.RateLimit(limit, time.Minute, middleware.ByUser)).Post("/", app.EnqueueFigure)
			r.Get("/", app.ListFigures)
			r.Get("/export", app.ExportFigures)
			r.Get("/events", app.FigureEvents)
			r.Get("/{id}", app.FigureStatus)
		})
		r.Get("/v1/credits", app.Credits)
		r.Post("/v1/uploads", app.UploadPhoto)
	})

	return r
}
