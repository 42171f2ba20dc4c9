// Package pipeline drives submitted videos through the two processing
// steps, translating step outcomes into job store mutations. It is the
// only writer of job state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mkravets/vidprep/internal/cache"
	"github.com/mkravets/vidprep/internal/config"
	"github.com/mkravets/vidprep/internal/step"
	"github.com/mkravets/vidprep/internal/store"
	"github.com/mkravets/vidprep/pkg/models"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrInvalidInput is returned synchronously by Submit; no job is created.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotReady is returned by FetchResult before the job completes.
	ErrNotReady = errors.New("job result not ready")

	// ErrJobFailed is returned by FetchResult for failed jobs, wrapped with
	// the recorded cause.
	ErrJobFailed = errors.New("job failed")

	// ErrAlreadyFinished is returned when cancelling a terminal job.
	ErrAlreadyFinished = errors.New("job already finished")
)

const cancelledCause = "cancelled"

// snapshotTTL bounds how long terminal snapshots stay in the cache.
const snapshotTTL = 30 * time.Minute

// Service orchestrates the job lifecycle. Submission returns immediately;
// step execution happens on background workers bounded by a weighted
// semaphore of size MaxConcurrentJobs. Semaphore waiters are served FIFO,
// so queued jobs stay pending and start in submission order.
type Service struct {
	store       store.Store
	cache       cache.Cache
	media       step.MediaTool
	transcriber step.Transcriber
	remover     step.BackgroundRemover
	cfg         config.PipelineConfig
	outputDir   string

	sem       *semaphore.Weighted
	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewService creates the orchestrator and, when a sweep interval is
// configured, starts the expiry sweeper.
func NewService(st store.Store, ca cache.Cache, media step.MediaTool, tr step.Transcriber,
	rem step.BackgroundRemover, cfg config.PipelineConfig, outputDir string) *Service {

	slots := cfg.MaxConcurrentJobs
	if slots < 1 {
		slots = 1
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:       st,
		cache:       ca,
		media:       media,
		transcriber: tr,
		remover:     rem,
		cfg:         cfg,
		outputDir:   outputDir,
		sem:         semaphore.NewWeighted(int64(slots)),
		baseCtx:     baseCtx,
		cancelAll:   cancel,
		cancels:     make(map[uuid.UUID]context.CancelFunc),
	}

	if cfg.SweepInterval > 0 && cfg.JobRetention > 0 {
		s.wg.Add(1)
		go s.sweep()
	}
	return s
}

// Submit validates the input reference, creates a pending job, and
// dispatches it. It never blocks on step execution.
func (s *Service) Submit(ctx context.Context, input models.JobInput) (*models.Job, error) {
	if input.VideoPath == "" {
		return nil, fmt.Errorf("%w: missing video reference", ErrInvalidInput)
	}
	if info, err := os.Stat(input.VideoPath); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: video reference %q unreadable", ErrInvalidInput, input.VideoPath)
	}

	job, err := s.store.Create(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	slog.Info("job submitted", "job_id", job.ID, "file", input.OriginalFilename)

	jobCtx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(jobCtx, job.ID, input)

	return job, nil
}

// Query returns a read-only snapshot of a job.
func (s *Service) Query(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if snap, ok, err := s.cache.GetJobSnapshot(ctx, id); err == nil && ok {
		return snap, nil
	}
	return s.store.Get(ctx, id)
}

// FetchResult returns the output of a completed job. Before completion it
// signals not-ready; for a failed job it surfaces the recorded cause.
func (s *Service) FetchResult(ctx context.Context, id uuid.UUID) (*models.JobResult, error) {
	job, err := s.Query(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case models.JobStatusCompleted:
		return job.Result, nil
	case models.JobStatusFailed:
		cause := ""
		if job.Error != nil {
			cause = *job.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, cause)
	default:
		return nil, ErrNotReady
	}
}

// List returns a snapshot of all known jobs.
func (s *Service) List(ctx context.Context) ([]*models.Job, error) {
	return s.store.List(ctx)
}

// Cancel aborts a pending or running job. The job transitions to failed
// with a distinct cancelled cause; terminal jobs are left untouched.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if models.IsTerminal(job.Status) {
		return ErrAlreadyFinished
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	slog.Info("job cancel requested", "job_id", id)
	return nil
}

// Shutdown stops accepting work and waits for in-flight jobs to reach a
// terminal state, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes one job's step sequence. Every exit path leaves the job in
// a terminal state; nothing escapes to crash the worker.
func (s *Service) run(ctx context.Context, jobID uuid.UUID, input models.JobInput) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, jobID)
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job worker", "job_id", jobID, "error", r)
			s.fail(jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.fail(jobID, cancelledCause)
		return
	}
	defer s.sem.Release(1)

	started := time.Now()
	if !s.advance(jobID, models.JobStatusRunning, cpProbing) {
		return
	}

	// Probe and enforce the duration cap before spending money on steps.
	duration, err := runStep(ctx, s.cfg, func(stepCtx context.Context) (time.Duration, error) {
		return s.media.ProbeDuration(stepCtx, input.VideoPath)
	})
	if err != nil {
		s.failFrom(ctx, jobID, err)
		return
	}
	if s.cfg.MaxVideoDuration > 0 && duration > s.cfg.MaxVideoDuration {
		s.fail(jobID, fmt.Sprintf("video duration %s exceeds limit %s", duration.Round(time.Second), s.cfg.MaxVideoDuration))
		return
	}

	if !s.advance(jobID, "", cpExtracting) {
		return
	}
	extractStart := time.Now()
	audioPath, err := runStep(ctx, s.cfg, func(stepCtx context.Context) (string, error) {
		return s.media.ExtractAudio(stepCtx, input.VideoPath)
	})
	if err != nil {
		s.failFrom(ctx, jobID, err)
		return
	}
	defer os.Remove(audioPath)
	extractTook := time.Since(extractStart)

	if !s.advance(jobID, "", cpTranscribe) {
		return
	}
	transcribeStart := time.Now()
	transcript, err := runStep(ctx, s.cfg, func(stepCtx context.Context) (*models.Transcript, error) {
		return s.transcriber.Transcribe(stepCtx, audioPath, input.LanguageHint)
	})
	if err != nil {
		s.failFrom(ctx, jobID, err)
		return
	}
	transcribeTook := time.Since(transcribeStart)

	if !s.advance(jobID, "", cpTranscribed) {
		return
	}
	if ctx.Err() != nil {
		s.fail(jobID, cancelledCause)
		return
	}

	if !s.advance(jobID, "", cpRemoving) {
		return
	}
	removeStart := time.Now()
	removal, err := runStep(ctx, s.cfg, func(stepCtx context.Context) (*step.RemovalResult, error) {
		return s.remover.RemoveBackground(stepCtx, step.RemovalRequest{
			VideoPath:      input.VideoPath,
			OutputDir:      s.outputDir,
			OutputFormat:   input.OutputFormat,
			BackgroundPath: input.BackgroundPath,
		})
	})
	if err != nil {
		s.failFrom(ctx, jobID, err)
		return
	}
	removeTook := time.Since(removeStart)

	if !s.advance(jobID, "", cpRemoved) {
		return
	}
	if !s.advance(jobID, "", cpCompiling) {
		return
	}

	result := &models.JobResult{
		Transcript:     *transcript,
		ProcessedVideo: removal.OutputPath,
		OriginalSize:   removal.OriginalSize,
		ProcessedSize:  removal.ProcessedSize,
		StepTimings: []models.StepTiming{
			{Step: cpExtracting.Name, Duration: extractTook},
			{Step: cpTranscribe.Name, Duration: transcribeTook},
			{Step: cpRemoving.Name, Duration: removeTook},
		},
		TotalDuration: time.Since(started),
	}

	final, err := s.store.Update(context.Background(), jobID,
		store.WithStatus(models.JobStatusCompleted),
		store.WithProgress(cpDone.Progress),
		store.WithCurrentStep(cpDone.Name),
		store.WithResult(result))
	if err != nil {
		slog.Error("finalizing job", "job_id", jobID, "error", err)
		return
	}
	_ = s.cache.SetJobSnapshot(context.Background(), final, snapshotTTL)
	slog.Info("job completed", "job_id", jobID, "took", result.TotalDuration)
}

// advance records a checkpoint, optionally with a status transition.
// Returns false when the update is rejected, which only happens if the job
// was concurrently finalized.
func (s *Service) advance(jobID uuid.UUID, status string, cp Checkpoint) bool {
	opts := []store.UpdateOption{
		store.WithProgress(cp.Progress),
		store.WithCurrentStep(cp.Name),
	}
	if status != "" {
		opts = append(opts, store.WithStatus(status))
	}
	if _, err := s.store.Update(context.Background(), jobID, opts...); err != nil {
		slog.Error("advancing job", "job_id", jobID, "checkpoint", cp.Name, "error", err)
		return false
	}
	slog.Info("job progress", "job_id", jobID, "progress", cp.Progress, "step", cp.Name)
	return true
}

// failFrom finalizes a job from a step error, mapping cancellation to the
// dedicated cause.
func (s *Service) failFrom(ctx context.Context, jobID uuid.UUID, err error) {
	if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.fail(jobID, cancelledCause)
		return
	}
	s.fail(jobID, err.Error())
}

func (s *Service) fail(jobID uuid.UUID, cause string) {
	final, err := s.store.Update(context.Background(), jobID,
		store.WithStatus(models.JobStatusFailed),
		store.WithCurrentStep("failed"),
		store.WithError(cause))
	if err != nil {
		slog.Error("failing job", "job_id", jobID, "error", err)
		return
	}
	_ = s.cache.SetJobSnapshot(context.Background(), final, snapshotTTL)
	slog.Warn("job failed", "job_id", jobID, "cause", cause)
}

// runStep invokes one executor call with a per-attempt timeout, retrying
// transient failures with exponential backoff until the retry budget is
// spent. Terminal failures short-circuit.
func runStep[T any](ctx context.Context, cfg config.PipelineConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	op := func() error {
		stepCtx := ctx
		if cfg.StepTimeout > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, cfg.StepTimeout)
			defer cancel()
		}

		v, err := fn(stepCtx)
		if err != nil {
			if ctx.Err() != nil || !step.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryBaseDelay
	b.MaxInterval = cfg.RetryMaxDelay
	b.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxRetries)), ctx))
	return out, err
}

// sweep periodically deletes terminal jobs older than the retention window.
func (s *Service) sweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.cfg.JobRetention)
			n, err := s.store.DeleteTerminalBefore(s.baseCtx, cutoff)
			if err != nil {
				slog.Error("sweeping expired jobs", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("swept expired jobs", "count", n)
			}
		}
	}
}
