package transcription

import "fmt"

// NewEngine builds the engine named by config.Engine
func NewEngine(config Config) (Engine, error) {
	switch config.Engine {
	case EngineWhisperCLI, "":
		return NewWhisperCLI(config), nil
	case EngineWhisperServer:
		return NewWhisperServer(config)
	case EngineOpenAI:
		return NewOpenAIEngine(config)
	default:
		return nil, fmt.Errorf("unknown transcription engine: %q", config.Engine)
	}
}
