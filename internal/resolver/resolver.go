// Package resolver turns a source reference (a page URL, a video ID or a
// direct stream address) into a URL the capture process can read.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/yegors/livecaptions/internal/observe"
	"github.com/yegors/livecaptions/pkg/logger"
)

// ErrNoURL is returned when a source yields no playable URL
var ErrNoURL = errors.New("no playable stream URL")

// Resolver resolves source references to stream URLs
type Resolver interface {
	Resolve(ctx context.Context, sourceRef string) (string, error)
}

// Func adapts a function to the Resolver interface
type Func func(ctx context.Context, sourceRef string) (string, error)

// Resolve implements Resolver
func (f Func) Resolve(ctx context.Context, sourceRef string) (string, error) {
	return f(ctx, sourceRef)
}

// Resolver kinds accepted in configuration
const (
	KindAuto   = "auto"
	KindYTDLP  = "ytdlp"
	KindDirect = "direct"
)

// pageHosts are sites whose URLs point at web pages that need extraction
var pageHosts = []string{
	"youtube.com",
	"youtu.be",
	"twitch.tv",
	"vimeo.com",
	"dailymotion.com",
	"kick.com",
}

// Auto routes page URLs and bare IDs through an extractor and everything
// else straight to the direct resolver.
type Auto struct {
	Extractor Resolver
	Direct    Resolver
	logger    *logger.Logger
}

// NewAuto creates an auto resolver
func NewAuto(extractor, direct Resolver, log *logger.Logger) *Auto {
	if log == nil {
		log = logger.Nop()
	}
	return &Auto{Extractor: extractor, Direct: direct, logger: log.Named("resolver")}
}

// Resolve implements Resolver
func (a *Auto) Resolve(ctx context.Context, sourceRef string) (string, error) {
	if NeedsExtraction(sourceRef) {
		a.logger.Debug("Resolving through extractor", logger.String("source", sourceRef))
		return a.Extractor.Resolve(ctx, sourceRef)
	}
	return a.Direct.Resolve(ctx, sourceRef)
}

// NeedsExtraction reports whether sourceRef names a page or video ID rather
// than a stream
func NeedsExtraction(sourceRef string) bool {
	u, err := url.Parse(strings.TrimSpace(sourceRef))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range pageHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Config selects and configures a resolver
type Config struct {
	Kind      string
	YTDLPPath string
	YTDLPArgs []string
	Direct    DirectConfig
}

// New builds the resolver named by config.Kind
func New(config Config, metrics *observe.Metrics, log *logger.Logger) (Resolver, error) {
	extractor := NewYTDLP(config.YTDLPPath, config.YTDLPArgs, log)
	direct := NewDirect(config.Direct, metrics, log)
	switch config.Kind {
	case KindAuto, "":
		return NewAuto(extractor, direct, log), nil
	case KindYTDLP:
		return extractor, nil
	case KindDirect:
		return direct, nil
	default:
		return nil, fmt.Errorf("unknown resolver: %q", config.Kind)
	}
}
