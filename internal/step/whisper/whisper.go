// Package whisper implements the transcription step against the OpenAI
// audio API.
package whisper

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/mkravets/vidprep/internal/step"
	"github.com/mkravets/vidprep/pkg/models"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const stepName = "transcription"

// Client satisfies step.Transcriber. Retries are left to the orchestrator,
// so the SDK's own retry loop is disabled.
type Client struct {
	client openai.Client
	model  string
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		model: model,
	}
}

// verboseTranscription mirrors the verbose_json response shape, which
// carries segment timestamps the SDK's plain transcription type drops.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (c *Client) Transcribe(ctx context.Context, audioPath, languageHint string) (*models.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, step.NewTerminal(stepName, "opening audio file", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(c.model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if languageHint != "" {
		params.Language = openai.String(languageHint)
	}

	var verbose verboseTranscription
	_, err = c.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&verbose))
	if err != nil {
		return nil, classify(err)
	}

	tr := &models.Transcript{
		Text:     verbose.Text,
		Language: verbose.Language,
		Duration: verbose.Duration,
		Segments: make([]models.Segment, 0, len(verbose.Segments)),
	}
	for _, s := range verbose.Segments {
		tr.Segments = append(tr.Segments, models.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return tr, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return step.NewRetryable(stepName, "timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return step.NewTerminal(stepName, "cancelled", err)
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return step.NewTerminal(stepName, "invalid credentials", err)
		case apierr.StatusCode == http.StatusTooManyRequests:
			return step.NewRetryable(stepName, "rate limited", err)
		case apierr.StatusCode >= http.StatusInternalServerError:
			return step.NewRetryable(stepName, "provider error", err)
		default:
			return step.NewTerminal(stepName, "request rejected", err)
		}
	}

	// Connection-level faults with no HTTP status are transient.
	return step.NewRetryable(stepName, "network error", err)
}
