package imagegen

import (
	"context"
	"time"

	"fluxgen/internal/domain"
)

// JobClient is the async job API the generator drives.
type JobClient interface {
	Submit(ctx context.Context, prompt string) (domain.JobHandle, error)
	Status(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error)
	Result(ctx context.Context, handle domain.JobHandle) ([]byte, error)
}

// Clock abstracts wall time and waiting so the poll loop can be driven by tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Recorder observes finished generation attempts.
type Recorder interface {
	ObserveGeneration(outcome string, polls int, elapsed time.Duration)
}

// Result is a completed generation.
type Result struct {
	ImageURL  string
	RequestID domain.JobHandle
	Polls     int
	Elapsed   time.Duration
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveGeneration(string, int, time.Duration) {}
