package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mkravets/vidprep/pkg/models"
)

var (
	// ErrNotFound is returned when no job exists for the given id.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when an update would violate the job
	// state machine: leaving a terminal status, decreasing progress, or
	// attaching a result/error to the wrong status. These are programming
	// errors, never retried.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Store owns all job records. The pipeline is the only writer; handlers and
// other callers are read-only observers. Implementations must be safe for
// concurrent use, and reads must return snapshots: a reader never observes
// a half-applied update.
type Store interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, input models.JobInput) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Update(ctx context.Context, id uuid.UUID, opts ...UpdateOption) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close()
}

type updateParams struct {
	Status      *string
	Progress    *int
	CurrentStep *string
	Result      *models.JobResult
	Error       *string
}

// UpdateOption mutates a single job field. All options passed to one Update
// call are applied atomically with respect to concurrent readers.
type UpdateOption func(*updateParams)

func WithStatus(status string) UpdateOption {
	return func(p *updateParams) { p.Status = &status }
}

func WithProgress(progress int) UpdateOption {
	return func(p *updateParams) { p.Progress = &progress }
}

func WithCurrentStep(step string) UpdateOption {
	return func(p *updateParams) { p.CurrentStep = &step }
}

func WithResult(result *models.JobResult) UpdateOption {
	return func(p *updateParams) { p.Result = result }
}

func WithError(msg string) UpdateOption {
	return func(p *updateParams) { p.Error = &msg }
}

// applyUpdate validates and applies an update to a job in place, enforcing
// the lifecycle invariants shared by every backend:
//
//   - terminal statuses are sticky
//   - progress never decreases and reaches 100 only on completion
//   - result is set iff the job completes, error iff it fails
func applyUpdate(job *models.Job, p updateParams, now time.Time) error {
	if models.IsTerminal(job.Status) {
		return fmt.Errorf("%w: job %s already %s", ErrInvalidTransition, job.ID, job.Status)
	}

	if p.Status != nil {
		if !validTransition(job.Status, *p.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *p.Status)
		}
	}

	target := job.Status
	if p.Status != nil {
		target = *p.Status
	}

	if p.Result != nil && target != models.JobStatusCompleted {
		return fmt.Errorf("%w: result requires completed status, got %s", ErrInvalidTransition, target)
	}
	if p.Error != nil && target != models.JobStatusFailed {
		return fmt.Errorf("%w: error requires failed status, got %s", ErrInvalidTransition, target)
	}
	if target == models.JobStatusCompleted && p.Result == nil {
		return fmt.Errorf("%w: completed status requires a result", ErrInvalidTransition)
	}
	if target == models.JobStatusFailed && p.Error == nil {
		return fmt.Errorf("%w: failed status requires an error", ErrInvalidTransition)
	}

	// Validate against the prospective values; the record is only written
	// below, once every check has passed, so a rejected update leaves it
	// untouched.
	progress := job.Progress
	if p.Progress != nil {
		if *p.Progress < job.Progress {
			return fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, job.Progress, *p.Progress)
		}
		if *p.Progress > 100 {
			return fmt.Errorf("%w: progress %d out of range", ErrInvalidTransition, *p.Progress)
		}
		progress = *p.Progress
	}
	if target == models.JobStatusCompleted && progress != 100 {
		return fmt.Errorf("%w: completed status requires progress 100, got %d", ErrInvalidTransition, progress)
	}

	job.Progress = progress
	if p.CurrentStep != nil {
		job.CurrentStep = *p.CurrentStep
	}
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.Result != nil {
		job.Result = p.Result
	}
	if p.Error != nil {
		job.Error = p.Error
	}

	job.UpdatedAt = now
	if models.IsTerminal(job.Status) {
		t := now
		job.CompletedAt = &t
	}
	return nil
}

func validTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case models.JobStatusPending:
		return to == models.JobStatusRunning || to == models.JobStatusFailed
	case models.JobStatusRunning:
		return to == models.JobStatusCompleted || to == models.JobStatusFailed
	default:
		return false
	}
}

// cloneJob deep-copies a job so callers can never mutate stored state
// through a returned snapshot.
func cloneJob(j *models.Job) *models.Job {
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		r.Transcript.Segments = append([]models.Segment(nil), j.Result.Transcript.Segments...)
		r.StepTimings = append([]models.StepTiming(nil), j.Result.StepTimings...)
		c.Result = &r
	}
	return &c
}
