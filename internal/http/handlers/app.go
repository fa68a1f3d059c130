package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"fluxgen/internal/imagegen"
	"fluxgen/internal/infra"
	"fluxgen/internal/metrics"
)

// ImageGenerator runs one prompt to completion.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*imagegen.Result, error)
}

type App struct {
	Config    *infra.Config
	Generator ImageGenerator
	Metrics   *metrics.Metrics
	Logger    infra.Logger
}

func NewApp(cfg *infra.Config, generator ImageGenerator, m *metrics.Metrics, logger infra.Logger) *App {
	return &App{Config: cfg, Generator: generator, Metrics: m, Logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, errorResponse{Error: message})
}
