package transcription

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured
const DefaultOpenAIModel = openai.AudioModelWhisper1

// OpenAIEngine transcribes segments with the OpenAI audio transcription API
type OpenAIEngine struct {
	client   openai.Client
	model    string
	language string
	prompt   string
}

// NewOpenAIEngine creates an engine from config
func NewOpenAIEngine(config Config) (*OpenAIEngine, error) {
	if config.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai engine: API key must not be empty")
	}
	model := config.Model
	if model == "" {
		model = string(DefaultOpenAIModel)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.OpenAIAPIKey),
		option.WithMaxRetries(1),
	}
	if config.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.OpenAIBaseURL))
	}
	if t := config.Timeout(); t > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: t}))
	}

	return &OpenAIEngine{
		client:   openai.NewClient(opts...),
		model:    model,
		language: config.Language,
		prompt:   config.Prompt,
	}, nil
}

// Name implements Engine
func (e *OpenAIEngine) Name() string {
	return EngineOpenAI
}

// Transcribe uploads the segment and returns the recognized text
func (e *OpenAIEngine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open segment: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(e.model),
	}
	if e.language != "" {
		params.Language = openai.String(e.language)
	}
	if e.prompt != "" {
		params.Prompt = openai.String(e.prompt)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription failed: %w", err)
	}
	return resp.Text, nil
}
