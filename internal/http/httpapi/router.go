package httpapi

import (
	"net/http"

	"fluxgen/internal/http/handlers"
	"fluxgen/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		middleware.Logger(app.Logger),
	)
	if app.Metrics != nil {
		r.Use(middleware.Metrics(app.Metrics))
	}
	r.Use(middleware.Recoverer(app.Logger))
	if app.Config != nil && len(app.Config.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(app.Config.AllowedOrigins))
	}

	r.Get("/", app.Home)
	r.Post("/generate", app.Generate)
	r.Get("/healthz", app.Health)
	r.Get("/openapi.json", app.OpenAPIJSON)
	r.Get("/docs", app.OpenAPIDocs)
	if app.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", app.Metrics.Handler())
	}

	return r
}
