package domain

import "errors"

var (
	ErrMissingCredential = errors.New("missing model access credential")
	ErrInvalidPrompt     = errors.New("invalid prompt")
	ErrSubmitFailed      = errors.New("submit returned no job handle")
	ErrJobFailed         = errors.New("generation job failed")
	ErrJobTimeout        = errors.New("generation job timed out")
	ErrUnparseableResult = errors.New("unparseable generation result")
	ErrUpstreamTransport = errors.New("upstream request failed")
)
