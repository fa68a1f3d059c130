package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxgen/internal/imagegen"
	"fluxgen/internal/infra"
	"fluxgen/internal/providers/inference"
)

type fakeUpstream struct {
	mu        sync.Mutex
	submit    string
	submitSC  int
	statuses  []string
	result    string
	calls     []string
	authz     []string
	submitted map[string]any
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authz = append(f.authz, r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/async-invoke":
		f.calls = append(f.calls, "submit")
		_ = json.NewDecoder(r.Body).Decode(&f.submitted)
		if f.submitSC != 0 {
			w.WriteHeader(f.submitSC)
		}
		_, _ = w.Write([]byte(f.submit))
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/status"):
		f.calls = append(f.calls, "status")
		status := "IN_PROGRESS"
		if len(f.statuses) > 0 {
			status = f.statuses[0]
			f.statuses = f.statuses[1:]
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	case r.Method == http.MethodGet && r.URL.Path == "/v1/async-invoke/req-7":
		f.calls = append(f.calls, "result")
		_, _ = w.Write([]byte(f.result))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type upstreamSnapshot struct {
	calls     []string
	authz     []string
	submitted map[string]any
}

func (f *fakeUpstream) snapshot() upstreamSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return upstreamSnapshot{
		calls:     append([]string(nil), f.calls...),
		authz:     append([]string(nil), f.authz...),
		submitted: f.submitted,
	}
}

func (f *fakeUpstream) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, made := range f.calls {
		if made == call {
			n++
		}
	}
	return n
}

type stepClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type harness struct {
	app      *App
	upstream *fakeUpstream
	clock    *stepClock
	logs     *bytes.Buffer
}

func newHarness(t *testing.T, apiKey string, upstream *fakeUpstream) *harness {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	cfg := &infra.Config{
		ModelAccessKey: apiKey,
		InferenceURL:   srv.URL + "/v1/async-invoke",
		ModelID:        infra.DefaultModelID,
		OutputFormat:   infra.DefaultOutputFormat,
		PollInterval:   3 * time.Second,
		PollTimeout:    120 * time.Second,
	}
	client, err := inference.NewClient(inference.Options{
		APIKey:     cfg.ModelAccessKey,
		BaseURL:    cfg.InferenceURL,
		Model:      cfg.ModelID,
		HTTPClient: srv.Client(),
		Logger:     &logger,
	})
	require.NoError(t, err)
	clock := &stepClock{now: time.Unix(0, 0)}
	generator, err := imagegen.NewGenerator(imagegen.Options{
		Client:       client,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
		Clock:        clock,
		Logger:       &logger,
	})
	require.NoError(t, err)
	return &harness{
		app:      NewApp(cfg, generator, nil, logger),
		upstream: upstream,
		clock:    clock,
		logs:     &logs,
	}
}

func (h *harness) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.app.Generate(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func wellFormed() *fakeUpstream {
	return &fakeUpstream{
		submit:   `{"request_id":"req-7"}`,
		statuses: []string{"QUEUED", "IN_PROGRESS", "COMPLETE"},
		result:   `{"result":{"output":{"images":[{"url":"https://x/y.png"}]}}}`,
	}
}

func TestGenerateSuccess(t *testing.T) {
	h := newHarness(t, "secret", wellFormed())

	rec := h.post(`{"prompt":"a cat programming"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"imageUrl":"https://x/y.png"}`, rec.Body.String())
	seen := h.upstream.snapshot()
	assert.Equal(t, []string{"submit", "status", "status", "status", "result"}, seen.calls)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, h.clock.sleeps)
	for _, authz := range seen.authz {
		assert.Equal(t, "Bearer secret", authz)
	}
	assert.Equal(t, "fal-ai/flux/schnell", seen.submitted["model_id"])
	input := seen.submitted["input"].(map[string]any)
	assert.Equal(t, "a cat programming", input["prompt"])
	assert.Equal(t, "landscape_4_3", input["output_format"])
}

func TestGenerateMissingCredential(t *testing.T) {
	h := newHarness(t, "", wellFormed())

	rec := h.post(`{"prompt":"a cat"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgMissingCredential, decodeBody(t, rec)["error"])
	assert.Empty(t, h.upstream.snapshot().calls)
}

func TestGenerateRejectsMissingPrompt(t *testing.T) {
	for _, body := range []string{`{}`, `{"prompt":""}`, `{"prompt":"   "}`, ``, `not json`} {
		h := newHarness(t, "secret", wellFormed())

		rec := h.post(body)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.NotEmpty(t, decodeBody(t, rec)["error"])
		assert.Empty(t, h.upstream.snapshot().calls)
	}
}

func TestGenerateSubmitWithoutHandle(t *testing.T) {
	upstream := wellFormed()
	upstream.submit = `{"message":"accepted"}`
	h := newHarness(t, "secret", upstream)

	rec := h.post(`{"prompt":"a cat"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgSubmitFailed, decodeBody(t, rec)["error"])
	assert.Zero(t, upstream.count("status"))
}

func TestGenerateJobFailure(t *testing.T) {
	for _, terminal := range []string{"FAILED", "ERROR"} {
		upstream := wellFormed()
		upstream.statuses = []string{"IN_PROGRESS", terminal}
		h := newHarness(t, "secret", upstream)

		rec := h.post(`{"prompt":"a cat"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, msgJobFailed, decodeBody(t, rec)["error"])
		assert.Equal(t, 2, upstream.count("status"))
		assert.Zero(t, upstream.count("result"))
	}
}

func TestGenerateTimeout(t *testing.T) {
	upstream := wellFormed()
	upstream.statuses = nil
	h := newHarness(t, "secret", upstream)

	rec := h.post(`{"prompt":"a cat"}`)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, msgTimeout, decodeBody(t, rec)["error"])
	assert.Equal(t, 41, upstream.count("status"))
	assert.Zero(t, upstream.count("result"))
	waited := time.Duration(0)
	for _, d := range h.clock.sleeps {
		waited += d
	}
	assert.GreaterOrEqual(t, waited, 120*time.Second)
	assert.LessOrEqual(t, waited, 123*time.Second)
}

func TestGenerateUnparseableResult(t *testing.T) {
	upstream := wellFormed()
	upstream.result = `{"result":{"output":{"files":[]}}}`
	h := newHarness(t, "secret", upstream)

	rec := h.post(`{"prompt":"a cat"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgUnparseable, decodeBody(t, rec)["error"])
	assert.Contains(t, h.logs.String(), "unexpected result structure")
}

func TestGenerateUpstreamErrorStatus(t *testing.T) {
	upstream := wellFormed()
	upstream.submitSC = http.StatusUnauthorized
	upstream.submit = `{"message":"bad token"}`
	h := newHarness(t, "secret", upstream)

	rec := h.post(`{"prompt":"a cat"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	msg := decodeBody(t, rec)["error"]
	assert.True(t, strings.HasPrefix(msg, msgUpstreamPrefix), msg)
	assert.Contains(t, msg, "bad token")
	assert.NotContains(t, msg, "secret")
}

type failingGenerator struct{ err error }

func (p failingGenerator) Generate(context.Context, string) (*imagegen.Result, error) {
	return nil, p.err
}

func TestGenerateUnexpectedError(t *testing.T) {
	app := NewApp(&infra.Config{ModelAccessKey: "secret"}, failingGenerator{err: context.DeadlineExceeded}, nil, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"a cat"}`))
	rec := httptest.NewRecorder()

	app.Generate(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgInternal, decodeBody(t, rec)["error"])
}

func TestHomeServesPage(t *testing.T) {
	app := NewApp(&infra.Config{}, nil, nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	app.Home(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "fetch('/generate'")
}

func TestHealth(t *testing.T) {
	app := NewApp(&infra.Config{}, nil, nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	app.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestOpenAPIDocumentsGenerate(t *testing.T) {
	app := NewApp(&infra.Config{}, nil, nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	app.OpenAPIJSON(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	for _, path := range []string{"/", "/generate", "/healthz", "/metrics"} {
		assert.Contains(t, doc.Paths, path)
	}

	rec = httptest.NewRecorder()
	app.OpenAPIDocs(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))
	assert.Contains(t, rec.Body.String(), `spec-url="/openapi.json"`)
}
