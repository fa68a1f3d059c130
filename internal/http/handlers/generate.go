package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"fluxgen/internal/domain"
	"fluxgen/internal/imagegen"
	"fluxgen/internal/middleware"
	"fluxgen/internal/providers/inference"
)

const maxGenerateBody = 64 << 10

const (
	msgMissingCredential = "Server is missing MODEL_ACCESS_KEY environment variable."
	msgInvalidBody       = "Invalid request body."
	msgNoPrompt          = "No prompt provided."
	msgSubmitFailed      = "Failed to submit job to inference API."
	msgJobFailed         = "Model generation failed."
	msgTimeout           = "Request timed out while waiting for model."
	msgUnparseable       = "Could not parse image URL from model response."
	msgUpstreamPrefix    = "API request failed: "
	msgInternal          = "An internal server error occurred."
)

type generateResponse struct {
	ImageURL string `json:"imageUrl"`
}

// Generate proxies one prompt through the inference API and answers with the
// image URL. Credential and prompt are checked before any outbound call.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	if a.Config == nil || !a.Config.HasCredentials() {
		a.Logger.Error().Msg("generate: MODEL_ACCESS_KEY is not configured")
		a.error(w, http.StatusInternalServerError, msgMissingCredential)
		return
	}

	var req domain.GenerationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if err := req.Normalize(); err != nil {
		a.error(w, http.StatusBadRequest, msgNoPrompt)
		return
	}

	// Polling outlives a disconnected browser; the poll timeout bounds it.
	ctx := context.WithoutCancel(r.Context())
	res, err := a.Generator.Generate(ctx, req.Prompt)
	if err != nil {
		a.generationError(w, r, err)
		return
	}
	a.Logger.Info().
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("job", string(res.RequestID)).
		Int("polls", res.Polls).
		Dur("elapsed", res.Elapsed).
		Msg("generate: image ready")
	a.json(w, http.StatusOK, generateResponse{ImageURL: res.ImageURL})
}

func (a *App) generationError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := statusFor(err)
	a.Logger.Error().
		Err(err).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("outcome", imagegen.Outcome(err)).
		Int("status", code).
		Msg("generate: failed")
	a.error(w, code, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrMissingCredential):
		return http.StatusInternalServerError, msgMissingCredential
	case errors.Is(err, domain.ErrInvalidPrompt):
		return http.StatusBadRequest, msgNoPrompt
	case errors.Is(err, domain.ErrSubmitFailed):
		return http.StatusInternalServerError, msgSubmitFailed
	case errors.Is(err, domain.ErrJobFailed):
		return http.StatusInternalServerError, msgJobFailed
	case errors.Is(err, domain.ErrJobTimeout):
		return http.StatusGatewayTimeout, msgTimeout
	case errors.Is(err, domain.ErrUnparseableResult):
		return http.StatusInternalServerError, msgUnparseable
	case errors.Is(err, domain.ErrUpstreamTransport):
		var upstream *inference.UpstreamError
		if errors.As(err, &upstream) {
			return http.StatusBadGateway, msgUpstreamPrefix + upstream.Error()
		}
		return http.StatusBadGateway, msgUpstreamPrefix + err.Error()
	default:
		return http.StatusInternalServerError, msgInternal
	}
}
