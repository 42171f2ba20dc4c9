// Package ffmpeg shells out to the local ffmpeg/ffprobe binaries for audio
// extraction and input probing.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/mkravets/vidprep/internal/step"
)

const (
	stepExtract = "audio extraction"
	stepProbe   = "input probe"
)

// Tool invokes ffmpeg and ffprobe. Satisfies step.MediaTool.
type Tool struct {
	ffmpegPath  string
	ffprobePath string
	sampleRate  int
}

// NewTool creates a Tool; empty paths fall back to binaries on $PATH.
func NewTool(ffmpegPath, ffprobePath string, sampleRate int) *Tool {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Tool{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, sampleRate: sampleRate}
}

// ExtractAudio demuxes the video's audio track into a temporary mono mp3
// and returns its path. The caller owns the file and removes it when done.
func (t *Tool) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	tmp, err := os.CreateTemp("", "vidprep-audio-*.mp3")
	if err != nil {
		return "", step.NewTerminal(stepExtract, "creating temp file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	cmd := exec.CommandContext(ctx, t.ffmpegPath, extractArgs(videoPath, tmpPath, t.sampleRate)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmpPath)
		if ctx.Err() != nil {
			return "", step.NewRetryable(stepExtract, "timed out", ctx.Err())
		}
		return "", step.NewTerminal(stepExtract, "ffmpeg failed", fmt.Errorf("%w: %s", err, tail(out)))
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		os.Remove(tmpPath)
		return "", step.NewTerminal(stepExtract, "extracted audio is empty", err)
	}
	return tmpPath, nil
}

// ProbeDuration reads the container duration via ffprobe.
func (t *Tool) ProbeDuration(ctx context.Context, videoPath string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "quiet", "-print_format", "json", "-show_format", videoPath)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, step.NewRetryable(stepProbe, "timed out", ctx.Err())
		}
		return 0, step.NewTerminal(stepProbe, "ffprobe failed", err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, step.NewTerminal(stepProbe, "parsing ffprobe output", err)
	}
	if probe.Format.Duration == "" {
		return 0, step.NewTerminal(stepProbe, "no duration in ffprobe output", errors.New("missing format.duration"))
	}
	secs, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, step.NewTerminal(stepProbe, "parsing duration", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func extractArgs(videoPath, audioPath string, sampleRate int) []string {
	return []string{
		"-i", videoPath,
		"-vn",
		"-acodec", "mp3",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-y",
		audioPath,
	}
}

// tail keeps the last part of command output for error messages.
func tail(b []byte) string {
	const max = 400
	if len(b) <= max {
		return string(b)
	}
	return "..." + string(b[len(b)-max:])
}
