package transcription

import "context"

// Engine turns one audio file into text. Calls are synchronous and block
// for the duration of the recognition.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Name() string
}

// EngineFunc adapts a function to the Engine interface
type EngineFunc func(ctx context.Context, audioPath string) (string, error)

// Transcribe implements Engine
func (f EngineFunc) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return f(ctx, audioPath)
}

// Name implements Engine
func (f EngineFunc) Name() string {
	return "func"
}

// Sink receives accepted captions
type Sink interface {
	Emit(ctx context.Context, r Result) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, r Result) error

// Emit implements Sink
func (f SinkFunc) Emit(ctx context.Context, r Result) error {
	return f(ctx, r)
}

// Ensure the worker's collaborators satisfy their interfaces
var (
	_ Engine = (*OpenAIEngine)(nil)
	_ Engine = (*WhisperCLI)(nil)
	_ Engine = (*WhisperServer)(nil)
	_ Sink   = (*WriterSink)(nil)
	_ Sink   = MultiSink(nil)
)
