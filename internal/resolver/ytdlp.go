package resolver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/yegors/livecaptions/pkg/logger"
)

// YTDLP extracts the best audio URL of a page with yt-dlp
type YTDLP struct {
	path      string
	extraArgs []string
	logger    *logger.Logger
}

// NewYTDLP creates a resolver running the yt-dlp binary at path
func NewYTDLP(path string, extraArgs []string, log *logger.Logger) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &YTDLP{path: path, extraArgs: extraArgs, logger: log.Named("yt-dlp")}
}

// Args returns the yt-dlp command line for sourceRef
func (y *YTDLP) Args(sourceRef string) []string {
	args := []string{
		"--format", "bestaudio/best",
		"--quiet",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=default",
	}
	args = append(args, y.extraArgs...)
	return append(args, "--get-url", sourceRef)
}

// Resolve returns the first URL yt-dlp prints
func (y *YTDLP) Resolve(ctx context.Context, sourceRef string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.path, y.Args(sourceRef)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("yt-dlp failed: %s: %w", strings.TrimSpace(stderr.String()), ErrNoURL)
		}
		return "", fmt.Errorf("failed to run yt-dlp: %w", err)
	}

	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			y.logger.Debug("Resolved stream URL", logger.String("source", sourceRef))
			return line, nil
		}
	}
	return "", fmt.Errorf("yt-dlp printed nothing for %s: %w", sourceRef, ErrNoURL)
}
