package pipeline

// Checkpoint is a named point in the step sequence with its progress value.
// The table is the single source of truth for progress reporting: values
// strictly increase and only the final checkpoint reaches 100.
type Checkpoint struct {
	Name     string
	Progress int
}

var (
	cpQueued      = Checkpoint{"queued", 0}
	cpProbing     = Checkpoint{"probing input", 5}
	cpExtracting  = Checkpoint{"extracting audio", 10}
	cpTranscribe  = Checkpoint{"transcribing", 35}
	cpTranscribed = Checkpoint{"transcription complete", 50}
	cpRemoving    = Checkpoint{"removing background", 60}
	cpRemoved     = Checkpoint{"background removal complete", 90}
	cpCompiling   = Checkpoint{"compiling result", 95}
	cpDone        = Checkpoint{"done", 100}
)

// Checkpoints lists every checkpoint in execution order.
var Checkpoints = []Checkpoint{
	cpQueued,
	cpProbing,
	cpExtracting,
	cpTranscribe,
	cpTranscribed,
	cpRemoving,
	cpRemoved,
	cpCompiling,
	cpDone,
}
