package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Defaults for the local whisper command
const (
	DefaultWhisperPath  = "whisper"
	DefaultWhisperModel = "base"
	DefaultLanguage     = "en"
)

// WhisperCLI runs the openai-whisper command line tool once per segment
type WhisperCLI struct {
	path     string
	model    string
	language string
	prompt   string
}

// NewWhisperCLI creates an engine from config, filling in defaults
func NewWhisperCLI(config Config) *WhisperCLI {
	e := &WhisperCLI{
		path:     config.WhisperPath,
		model:    config.Model,
		language: config.Language,
		prompt:   config.Prompt,
	}
	if e.path == "" {
		e.path = DefaultWhisperPath
	}
	if e.model == "" {
		e.model = DefaultWhisperModel
	}
	if e.language == "" {
		e.language = DefaultLanguage
	}
	return e
}

// Name implements Engine
func (e *WhisperCLI) Name() string {
	return EngineWhisperCLI
}

// Args returns the command line for transcribing audioPath into outDir
func (e *WhisperCLI) Args(audioPath, outDir string) []string {
	args := []string{
		audioPath,
		"--model", e.model,
		"--language", e.language,
		"--fp16", "False",
		"--output_format", "txt",
		"--output_dir", outDir,
	}
	if e.prompt != "" {
		args = append(args, "--initial_prompt", e.prompt)
	}
	return args
}

// Transcribe runs whisper and reads back the text file it writes
func (e *WhisperCLI) Transcribe(ctx context.Context, audioPath string) (string, error) {
	outDir, err := os.MkdirTemp("", "whisper-out-")
	if err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.path, e.Args(audioPath, outDir)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("whisper failed: %s", lastLine(stderr.String()))
		}
		return "", fmt.Errorf("failed to run whisper: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	out, err := os.ReadFile(filepath.Join(outDir, stem+".txt"))
	if err != nil {
		return "", fmt.Errorf("failed to read whisper output: %w", err)
	}
	return strings.Join(strings.Fields(string(out)), " "), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
