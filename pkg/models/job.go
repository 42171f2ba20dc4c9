package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// IsTerminal reports whether a status is absorbing. A job in a terminal
// status never transitions again.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// Job tracks one submitted video's end-to-end processing request.
// The API returns a job id on POST /api/v1/videos; the client polls
// GET /api/v1/videos/{job_id} until status is completed or failed.
type Job struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	Status      string     `db:"status"       json:"status"`
	Progress    int        `db:"progress"     json:"progress"`
	CurrentStep string     `db:"current_step" json:"current_step"`
	Input       JobInput   `db:"input"        json:"input"`
	Result      *JobResult `db:"result"       json:"result,omitempty"`
	Error       *string    `db:"error"        json:"error,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// JobInput references the uploaded source video. The file itself is owned
// by the upload directory; the job holds only paths and hints.
type JobInput struct {
	VideoPath        string `json:"video_path"`
	OriginalFilename string `json:"original_filename"`
	LanguageHint     string `json:"language_hint,omitempty"`
	Quality          string `json:"quality,omitempty"`
	OutputFormat     string `json:"output_format,omitempty"`
	BackgroundPath   string `json:"background_path,omitempty"`
}

// JobResult is populated exactly once, on the transition to completed.
type JobResult struct {
	Transcript     Transcript    `json:"transcript"`
	ProcessedVideo string        `json:"processed_video"`
	OriginalSize   int64         `json:"original_size"`
	ProcessedSize  int64         `json:"processed_size"`
	StepTimings    []StepTiming  `json:"step_timings"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// StepTiming records how long one pipeline step took.
type StepTiming struct {
	Step     string        `json:"step"`
	Duration time.Duration `json:"duration"`
}
