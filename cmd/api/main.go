package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fluxgen/internal/http/handlers"
	httpapi "fluxgen/internal/http/httpapi"
	"fluxgen/internal/imagegen"
	"fluxgen/internal/infra"
	"fluxgen/internal/metrics"
	"fluxgen/internal/providers/inference"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if !cfg.HasCredentials() {
		logger.Warn().Msg("MODEL_ACCESS_KEY is not set; /generate will answer with a configuration error")
	}

	client, err := inference.NewClient(inference.Options{
		APIKey:       cfg.ModelAccessKey,
		BaseURL:      cfg.InferenceURL,
		Model:        cfg.ModelID,
		OutputFormat: cfg.OutputFormat,
		HTTPClient:   &http.Client{Timeout: cfg.UpstreamTimeout},
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure inference client")
	}

	m := metrics.New()
	generator, err := imagegen.NewGenerator(imagegen.Options{
		Client:       client,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
		Recorder:     m,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure generator")
	}

	app := handlers.NewApp(cfg, generator, m, logger)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("model", client.Model()).
			Dur("poll_interval", cfg.PollInterval).
			Dur("poll_timeout", cfg.PollTimeout).
			Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// In-flight generations may still be polling; give them the full window.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PollTimeout+10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
