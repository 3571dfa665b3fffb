package resolver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yegors/livecaptions/internal/observe"
	"github.com/yegors/livecaptions/pkg/logger"
)

// DirectConfig tunes the direct resolver's probe
type DirectConfig struct {
	// Probe issues a GET against http(s) sources before accepting them
	Probe      bool
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	UserAgent  string
}

// DefaultDirectConfig probes up to three times with a doubling delay
func DefaultDirectConfig() DirectConfig {
	return DirectConfig{
		Probe:      true,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
		UserAgent:  "livecaptions/1.0",
	}
}

// Direct accepts stream URLs as they are, optionally checking that an HTTP
// source answers before handing it to the capture process.
type Direct struct {
	config     DirectConfig
	httpClient *http.Client
	metrics    *observe.Metrics
	logger     *logger.Logger
}

// NewDirect creates a direct resolver. metrics may be nil.
func NewDirect(config DirectConfig, metrics *observe.Metrics, log *logger.Logger) *Direct {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	transport := &http.Transport{
		MaxIdleConns:       10,
		IdleConnTimeout:    30 * time.Second,
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   config.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: config.Timeout,
	}
	return &Direct{
		config:     config,
		httpClient: &http.Client{Transport: transport},
		metrics:    metrics,
		logger:     log.Named("direct"),
	}
}

// Resolve validates sourceRef and returns it unchanged
func (d *Direct) Resolve(ctx context.Context, sourceRef string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(sourceRef))
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("not a stream URL %q: %w", sourceRef, ErrNoURL)
	}
	ref := u.String()
	if !d.config.Probe || (u.Scheme != "http" && u.Scheme != "https") {
		return ref, nil
	}

	meta, err := d.probe(ctx, ref)
	if err != nil {
		return "", err
	}
	d.logger.Info("Stream is reachable",
		logger.String("content_type", meta.ContentType),
		logger.String("format", meta.Format),
		logger.String("name", meta.Name),
		logger.Int("bitrate", meta.Bitrate))
	return ref, nil
}

// addCacheBreaker makes every probe bypass intermediate caches
func addCacheBreaker(rawURL string) string {
	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%snocache=%d", rawURL, separator, time.Now().UnixNano())
}

// probe GETs the stream with retries and exponential backoff. Only the
// response headers are read.
func (d *Direct) probe(ctx context.Context, ref string) (StreamMetadata, error) {
	target := addCacheBreaker(ref)
	delay := d.config.RetryDelay

	var lastErr error
	for attempt := 0; attempt < d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			d.metrics.ResolveRetry(ctx)
			d.logger.Warn("Retrying stream probe",
				logger.Int("attempt", attempt+1),
				logger.Int("max_attempts", d.config.MaxRetries),
				logger.Error(lastErr))
			select {
			case <-ctx.Done():
				return StreamMetadata{}, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return StreamMetadata{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Icy-MetaData", "1")
		if d.config.UserAgent != "" {
			req.Header.Set("User-Agent", d.config.UserAgent)
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return ExtractMetadata(resp.Header), nil
		}
		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return StreamMetadata{}, fmt.Errorf("stream probe failed after %d attempts: %v: %w", d.config.MaxRetries, lastErr, ErrNoURL)
}
