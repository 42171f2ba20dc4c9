// Package step defines the executor contracts for the processing pipeline.
// Executors are pure input -> output capabilities: they know nothing about
// jobs or job ids, and every failure they return carries a retry
// classification the orchestrator acts on.
package step

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkravets/vidprep/pkg/models"
)

// Failure is a classified step error. Retryable failures (timeouts, rate
// limits) are retried by the orchestrator with backoff; terminal failures
// (invalid input, bad credentials, quota exhausted) fail the job at once.
type Failure struct {
	Step      string
	Cause     string
	Retryable bool
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Step, f.Cause, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Step, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewRetryable builds a transient failure.
func NewRetryable(step, cause string, err error) *Failure {
	return &Failure{Step: step, Cause: cause, Retryable: true, Err: err}
}

// NewTerminal builds a permanent failure.
func NewTerminal(step, cause string, err error) *Failure {
	return &Failure{Step: step, Cause: cause, Retryable: false, Err: err}
}

// IsRetryable reports whether an executor error should be retried. Deadline
// expiry counts as retryable even when an executor forgot to classify it;
// anything else unclassified is treated as permanent.
func IsRetryable(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// MediaTool wraps the local media binary used before the remote calls.
type MediaTool interface {
	ExtractAudio(ctx context.Context, videoPath string) (string, error)
	ProbeDuration(ctx context.Context, videoPath string) (time.Duration, error)
}

// Transcriber turns an extracted audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, languageHint string) (*models.Transcript, error)
}

// RemovalRequest carries everything the background-removal step needs.
type RemovalRequest struct {
	VideoPath      string
	OutputDir      string
	OutputFormat   string
	BackgroundPath string
}

// RemovalResult is the success payload of the background-removal step.
type RemovalResult struct {
	OutputPath    string
	OriginalSize  int64
	ProcessedSize int64
	Duration      time.Duration
}

// BackgroundRemover strips or replaces the background of a video.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, req RemovalRequest) (*RemovalResult, error)
}
