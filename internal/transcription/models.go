package transcription

import (
	"time"

	"github.com/yegors/livecaptions/internal/segments"
)

// Engine names accepted by NewEngine
const (
	EngineWhisperCLI    = "whisper-cli"
	EngineWhisperServer = "whisper-server"
	EngineOpenAI        = "openai"
)

// TimestampLayout is how caption timestamps are rendered
const TimestampLayout = "15:04:05"

// WorkItem is a segment waiting for transcription
type WorkItem struct {
	Segment segments.Segment
	Attempt int
}

// Result is one accepted caption
type Result struct {
	Timestamp     time.Time     `json:"timestamp"`
	Text          string        `json:"text"`
	SegmentIndex  int           `json:"segment_index"`
	Attempt       int           `json:"attempt"`
	AudioDuration time.Duration `json:"audio_duration"`
}

// Format renders the result as a console caption line
func (r Result) Format() string {
	return "[" + r.Timestamp.Format(TimestampLayout) + "] " + r.Text
}

// Config represents the configuration for the transcription engine
type Config struct {
	Engine         string
	Model          string
	Language       string
	Prompt         string
	TimeoutSeconds int

	// whisper-cli
	WhisperPath string

	// whisper-server
	ServerURL string

	// openai
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// Timeout returns the per-call timeout, zero meaning none
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
