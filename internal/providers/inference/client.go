// Package inference talks to the DigitalOcean serverless inference
// async-invoke API: submit a job, read its status, fetch its result.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fluxgen/internal/domain"
	"fluxgen/internal/infra"
	"fluxgen/internal/middleware"
)

const maxResponseBytes = 4 << 20

// Options configures the async-invoke client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	OutputFormat   string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the async-invoke endpoint.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	httpClient   *http.Client
	logger       *infra.Logger
}

// UpstreamError describes a failed exchange with the inference API: the
// transport failed, the API answered with a non-2xx status, or the body could
// not be decoded. It always matches domain.ErrUpstreamTransport.
type UpstreamError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("inference: %s: status %d: %s", e.Op, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("inference: %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("inference: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("inference: %s failed", e.Op)
	}
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrUpstreamTransport}
	}
	return []error{domain.ErrUpstreamTransport, e.Err}
}

type submitRequest struct {
	ModelID string      `json:"model_id"`
	Input   submitInput `json:"input"`
}

type submitInput struct {
	Prompt       string `json:"prompt"`
	OutputFormat string `json:"output_format"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
}

// NewClient constructs a client with defaults for anything left empty.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = infra.DefaultInferenceURL
	}
	if parsed, err := url.Parse(baseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("inference: invalid base url %q", baseURL)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = infra.DefaultModelID
	}
	outputFormat := strings.TrimSpace(opts.OutputFormat)
	if outputFormat == "" {
		outputFormat = infra.DefaultOutputFormat
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		model:        model,
		outputFormat: outputFormat,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit queues a generation job and returns its handle.
func (c *Client) Submit(ctx context.Context, prompt string) (domain.JobHandle, error) {
	if !c.HasCredentials() {
		return "", domain.ErrMissingCredential
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", domain.ErrInvalidPrompt
	}
	payload := submitRequest{
		ModelID: c.model,
		Input:   submitInput{Prompt: prompt, OutputFormat: c.outputFormat},
	}
	raw, err := c.do(ctx, "submit", http.MethodPost, c.baseURL, payload)
	if err != nil {
		return "", err
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &UpstreamError{Op: "submit", Err: fmt.Errorf("decode response: %w", err)}
	}
	handle := domain.JobHandle(strings.TrimSpace(decoded.RequestID))
	if handle == "" {
		c.logger.Error().Str("body", truncate(raw)).Msg("inference: submit response without request_id")
		return "", domain.ErrSubmitFailed
	}
	c.logger.Debug().Str("model", c.model).Str("request_id", string(handle)).Msg("inference: job submitted")
	return handle, nil
}

// Status reads the current job status. A missing status field is reported as
// an empty, non-terminal status.
func (c *Client) Status(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error) {
	raw, err := c.do(ctx, "status", http.MethodGet, c.jobURL(handle)+"/status", nil)
	if err != nil {
		return "", err
	}
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &UpstreamError{Op: "status", Err: fmt.Errorf("decode response: %w", err)}
	}
	return domain.ParseJobStatus(decoded.Status), nil
}

// Result fetches the raw result document of a finished job.
func (c *Client) Result(ctx context.Context, handle domain.JobHandle) ([]byte, error) {
	raw, err := c.do(ctx, "result", http.MethodGet, c.jobURL(handle), nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, &UpstreamError{Op: "result", Err: errors.New("response is not valid json")}
	}
	return raw, nil
}

func (c *Client) jobURL(handle domain.JobHandle) string {
	return c.baseURL + "/" + url.PathEscape(string(handle))
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("inference: encode %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("inference: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rid := middleware.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("body", truncate(raw)).
			Msg("inference: unexpected status")
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Detail: errorDetail(raw, resp.StatusCode)}
	}
	return raw, nil
}

// errorDetail pulls a human readable message out of an error body, falling
// back to the status text.
func errorDetail(raw []byte, status int) string {
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if msg := strings.TrimSpace(decoded.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(decoded.Detail); msg != "" {
			return msg
		}
		if len(decoded.Error) > 0 {
			var text string
			if json.Unmarshal(decoded.Error, &text) == nil && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(decoded.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
				return strings.TrimSpace(nested.Message)
			}
		}
	}
	return http.StatusText(status)
}

func truncate(raw []byte) string {
	const limit = 2048
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
