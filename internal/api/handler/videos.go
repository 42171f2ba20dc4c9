package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mkravets/vidprep/internal/api/response"
	"github.com/mkravets/vidprep/internal/pipeline"
	"github.com/mkravets/vidprep/internal/store"
	"github.com/mkravets/vidprep/internal/upload"
	"github.com/mkravets/vidprep/pkg/models"
)

// multipartMemory is how much of a parsed form stays in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// Pipeline defines the orchestrator surface the handlers depend on.
type Pipeline interface {
	Submit(ctx context.Context, input models.JobInput) (*models.Job, error)
	Query(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FetchResult(ctx context.Context, id uuid.UUID) (*models.JobResult, error)
	List(ctx context.Context) ([]*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// NewSubmitHandler returns the handler for POST /api/v1/videos. The request
// is a multipart form with a required "video" part, an optional
// "background_image" part, and optional "language", "quality" and
// "output_format" fields.
func NewSubmitHandler(p Pipeline, videos, images *upload.Saver, maxBody int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
					"Request body exceeds the upload limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"Request must be a multipart form", nil)
			return
		}

		file, header, err := r.FormFile("video")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"video file is required", nil)
			return
		}
		defer file.Close()

		videoPath, err := videos.Save(file, header)
		if err != nil {
			writeUploadError(w, err)
			return
		}

		input := models.JobInput{
			VideoPath:        videoPath,
			OriginalFilename: header.Filename,
			LanguageHint:     r.FormValue("language"),
			Quality:          r.FormValue("quality"),
			OutputFormat:     r.FormValue("output_format"),
		}

		if bg, bgHeader, bgErr := r.FormFile("background_image"); bgErr == nil {
			defer bg.Close()
			bgPath, saveErr := images.Save(bg, bgHeader)
			if saveErr != nil {
				os.Remove(videoPath)
				writeUploadError(w, saveErr)
				return
			}
			input.BackgroundPath = bgPath
		}

		job, err := p.Submit(r.Context(), input)
		if err != nil {
			os.Remove(videoPath)
			if input.BackgroundPath != "" {
				os.Remove(input.BackgroundPath)
			}
			if errors.Is(err, pipeline.ErrInvalidInput) {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Accepted(w, newJobView(job))
	}
}

// NewStatusHandler returns the handler for GET /api/v1/videos/{jobID}.
func NewStatusHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, err := p.Query(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, newJobView(job))
	}
}

// NewListHandler returns the handler for GET /api/v1/videos.
func NewListHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := p.List(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		views := make([]jobView, 0, len(jobs))
		for _, job := range jobs {
			views = append(views, newJobView(job))
		}
		response.JSON(w, views)
	}
}

// NewResultHandler returns the handler for GET /api/v1/videos/{jobID}/result.
func NewResultHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		result, err := p.FetchResult(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, newResultView(result))
	}
}

// NewDownloadHandler returns the handler for GET /api/v1/videos/{jobID}/download.
// It streams the processed video of a completed job.
func NewDownloadHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		result, err := p.FetchResult(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}

		if _, err := os.Stat(result.ProcessedVideo); err != nil {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
				"Processed video is no longer available", nil)
			return
		}

		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", filepath.Base(result.ProcessedVideo)))
		http.ServeFile(w, r, result.ProcessedVideo)
	}
}

// NewCancelHandler returns the handler for POST /api/v1/videos/{jobID}/cancel.
func NewCancelHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		if err := p.Cancel(r.Context(), id); err != nil {
			writeJobError(w, err)
			return
		}
		response.Accepted(w, map[string]string{
			"job_id": id.String(),
			"status": "cancelling",
		})
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
			err.Error(), nil)
	case errors.Is(err, upload.ErrUnsupportedFormat):
		response.Error(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT",
			err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to store upload", nil)
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
			"Job not found", nil)
	case errors.Is(err, pipeline.ErrNotReady):
		response.Error(w, http.StatusConflict, "NOT_READY",
			"Job has not completed yet", nil)
	case errors.Is(err, pipeline.ErrJobFailed):
		response.Error(w, http.StatusConflict, "JOB_FAILED",
			err.Error(), nil)
	case errors.Is(err, pipeline.ErrAlreadyFinished):
		response.Error(w, http.StatusConflict, "ALREADY_FINISHED",
			"Job already reached a terminal state", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

type jobView struct {
	ID               string      `json:"id"`
	Status           string      `json:"status"`
	Progress         int         `json:"progress"`
	CurrentStep      string      `json:"current_step"`
	OriginalFilename string      `json:"original_filename"`
	Error            *string     `json:"error,omitempty"`
	Result           *resultView `json:"result,omitempty"`
	CreatedAt        string      `json:"created_at"`
	UpdatedAt        string      `json:"updated_at"`
	CompletedAt      *string     `json:"completed_at,omitempty"`
}

type resultView struct {
	Transcript     models.Transcript `json:"transcript"`
	ProcessedVideo string            `json:"processed_video"`
	OriginalSize   int64             `json:"original_size"`
	ProcessedSize  int64             `json:"processed_size"`
	StepTimings    []stepTimingView  `json:"step_timings"`
	TotalDuration  string            `json:"total_duration"`
}

type stepTimingView struct {
	Step     string `json:"step"`
	Duration string `json:"duration"`
}

func newJobView(job *models.Job) jobView {
	v := jobView{
		ID:               job.ID.String(),
		Status:           job.Status,
		Progress:         job.Progress,
		CurrentStep:      job.CurrentStep,
		OriginalFilename: job.Input.OriginalFilename,
		Error:            job.Error,
		CreatedAt:        job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.Result != nil {
		rv := newResultView(job.Result)
		v.Result = &rv
	}
	if job.CompletedAt != nil {
		s := job.CompletedAt.UTC().Format(time.RFC3339)
		v.CompletedAt = &s
	}
	return v
}

func newResultView(result *models.JobResult) resultView {
	timings := make([]stepTimingView, 0, len(result.StepTimings))
	for _, st := range result.StepTimings {
		timings = append(timings, stepTimingView{
			Step:     st.Step,
			Duration: st.Duration.Round(time.Millisecond).String(),
		})
	}
	return resultView{
		Transcript:     result.Transcript,
		ProcessedVideo: result.ProcessedVideo,
		OriginalSize:   result.OriginalSize,
		ProcessedSize:  result.ProcessedSize,
		StepTimings:    timings,
		TotalDuration:  result.TotalDuration.Round(time.Millisecond).String(),
	}
}
