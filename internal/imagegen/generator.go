// Package imagegen runs one image generation against an async job API:
// submit, poll until a terminal status or the deadline, fetch, extract.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fluxgen/internal/domain"
	"fluxgen/internal/infra"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 120 * time.Second
)

// Outcome labels used when recording generations.
const (
	OutcomeSuccess     = "success"
	OutcomeSubmitError = "submit_failed"
	OutcomeJobFailed   = "job_failed"
	OutcomeTimeout     = "timeout"
	OutcomeParseError  = "parse_error"
	OutcomeUpstream    = "upstream_error"
	OutcomeInternal    = "internal_error"
)

// Options configures a Generator.
type Options struct {
	Client       JobClient
	PollInterval time.Duration
	PollTimeout  time.Duration
	Clock        Clock
	Recorder     Recorder
	Logger       *infra.Logger
}

// Generator drives the submit/poll/fetch lifecycle. It holds no per-job
// state and is safe for concurrent use.
type Generator struct {
	client       JobClient
	pollInterval time.Duration
	pollTimeout  time.Duration
	clock        Clock
	recorder     Recorder
	logger       *infra.Logger
}

func NewGenerator(opts Options) (*Generator, error) {
	if opts.Client == nil {
		return nil, errors.New("imagegen: job client is required")
	}
	g := &Generator{
		client:       opts.Client,
		pollInterval: opts.PollInterval,
		pollTimeout:  opts.PollTimeout,
		clock:        opts.Clock,
		recorder:     opts.Recorder,
		logger:       opts.Logger,
	}
	if g.pollInterval <= 0 {
		g.pollInterval = DefaultPollInterval
	}
	if g.pollTimeout <= 0 {
		g.pollTimeout = DefaultPollTimeout
	}
	if g.clock == nil {
		g.clock = systemClock{}
	}
	if g.recorder == nil {
		g.recorder = nopRecorder{}
	}
	if g.logger == nil {
		g.logger = infra.NopLogger()
	}
	return g, nil
}

// Generate submits prompt and blocks until the image URL is known or the
// job fails. Errors match one of the domain sentinels where applicable.
func (g *Generator) Generate(ctx context.Context, prompt string) (*Result, error) {
	start := g.clock.Now()
	res, polls, err := g.run(ctx, prompt)
	elapsed := g.clock.Now().Sub(start)
	g.recorder.ObserveGeneration(Outcome(err), polls, elapsed)
	if err != nil {
		return nil, err
	}
	res.Elapsed = elapsed
	return res, nil
}

func (g *Generator) run(ctx context.Context, prompt string) (*Result, int, error) {
	handle, err := g.client.Submit(ctx, prompt)
	if err != nil {
		return nil, 0, err
	}
	if handle == "" {
		return nil, 0, domain.ErrSubmitFailed
	}
	log := g.logger.With().Str("job", string(handle)).Logger()

	polls, err := g.poll(ctx, handle)
	if err != nil {
		return nil, polls, err
	}

	raw, err := g.client.Result(ctx, handle)
	if err != nil {
		return nil, polls, err
	}
	url, err := ExtractImageURL(raw)
	if err != nil {
		log.Error().Err(err).Str("body", string(raw)).Msg("imagegen: unexpected result structure")
		return nil, polls, err
	}
	log.Debug().Int("polls", polls).Str("url", url).Msg("imagegen: job complete")
	return &Result{ImageURL: url, RequestID: handle, Polls: polls}, polls, nil
}

// poll checks the deadline before every status call: a status is requested as
// long as no more than pollTimeout has elapsed since the loop started.
func (g *Generator) poll(ctx context.Context, handle domain.JobHandle) (int, error) {
	start := g.clock.Now()
	polls := 0
	for {
		if elapsed := g.clock.Now().Sub(start); elapsed > g.pollTimeout {
			return polls, fmt.Errorf("%w after %s and %d polls", domain.ErrJobTimeout, elapsed.Round(time.Millisecond), polls)
		}
		status, err := g.client.Status(ctx, handle)
		polls++
		if err != nil {
			return polls, err
		}
		switch {
		case status == domain.JobStatusComplete:
			return polls, nil
		case status.IsFailure():
			return polls, fmt.Errorf("%w: status %s", domain.ErrJobFailed, status)
		}
		if err := g.clock.Sleep(ctx, g.pollInterval); err != nil {
			return polls, err
		}
	}
}

// Outcome classifies a Generate error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrSubmitFailed):
		return OutcomeSubmitError
	case errors.Is(err, domain.ErrJobFailed):
		return OutcomeJobFailed
	case errors.Is(err, domain.ErrJobTimeout):
		return OutcomeTimeout
	case errors.Is(err, domain.ErrUnparseableResult):
		return OutcomeParseError
	case errors.Is(err, domain.ErrUpstreamTransport):
		return OutcomeUpstream
	default:
		return OutcomeInternal
	}
}
