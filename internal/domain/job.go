package domain

import "strings"

// JobHandle is the opaque identifier the inference API returns on submit.
// It is valid only for the lifetime of the request that obtained it.
type JobHandle string

// JobStatus is the state reported by the inference API status endpoint.
type JobStatus string

const (
	JobStatusComplete JobStatus = "COMPLETE"
	JobStatusFailed   JobStatus = "FAILED"
	JobStatusError    JobStatus = "ERROR"
)

// ParseJobStatus normalizes a raw status string. Unknown values are kept
// verbatim and treated as still in progress.
func ParseJobStatus(raw string) JobStatus {
	return JobStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsTerminal reports whether no further state change is expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s.IsFailure()
}

// IsFailure reports whether the job ended without a result.
func (s JobStatus) IsFailure() bool {
	return s == JobStatusFailed || s == JobStatusError
}

// GenerationRequest is the prompt submitted by the browser page.
type GenerationRequest struct {
	Prompt string `json:"prompt"`
}

// Normalize trims the prompt and reports ErrInvalidPrompt when nothing is left.
func (r *GenerationRequest) Normalize() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return ErrInvalidPrompt
	}
	return nil
}
