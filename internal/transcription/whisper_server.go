package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WhisperServer posts segments to a whisper.cpp server's /inference endpoint
type WhisperServer struct {
	serverURL  string
	language   string
	prompt     string
	httpClient *http.Client
}

// NewWhisperServer creates an engine talking to the server at config.ServerURL
func NewWhisperServer(config Config) (*WhisperServer, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("whisper-server engine: server URL must not be empty")
	}
	timeout := config.Timeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WhisperServer{
		serverURL:  strings.TrimRight(config.ServerURL, "/"),
		language:   config.Language,
		prompt:     config.Prompt,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name implements Engine
func (e *WhisperServer) Name() string {
	return EngineWhisperServer
}

// Transcribe sends the segment as a multipart form and returns the text field
func (e *WhisperServer) Transcribe(ctx context.Context, audioPath string) (string, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to read segment: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        e.language,
		"prompt":          e.prompt,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper-server request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper-server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode whisper-server response: %w", err)
	}
	return result.Text, nil
}
