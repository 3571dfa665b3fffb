// Package app wires the captioning pipeline together and orders its shutdown.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yegors/livecaptions/internal/api"
	"github.com/yegors/livecaptions/internal/capture"
	"github.com/yegors/livecaptions/internal/config"
	"github.com/yegors/livecaptions/internal/diagnostics"
	"github.com/yegors/livecaptions/internal/observe"
	"github.com/yegors/livecaptions/internal/resolver"
	"github.com/yegors/livecaptions/internal/segments"
	"github.com/yegors/livecaptions/internal/session"
	"github.com/yegors/livecaptions/internal/storage/sqlite"
	"github.com/yegors/livecaptions/internal/supervisor"
	"github.com/yegors/livecaptions/internal/transcription"
	"github.com/yegors/livecaptions/pkg/logger"
)

// Version is reported with metrics
var Version = "dev"

// Options replace production collaborators. Zero values build the real ones.
type Options struct {
	Launcher capture.Launcher
	Resolver resolver.Resolver
	Engine   transcription.Engine
	// Captions receives console caption lines; defaults to os.Stdout
	Captions io.Writer
	// Now stamps captions; defaults to time.Now
	Now func() time.Time
}

// App is a fully wired captioning service
type App struct {
	config *config.Config
	logger *logger.Logger

	provider   *observe.Provider
	metrics    *observe.Metrics
	db         *sql.DB
	store      *sqlite.CaptionStorage
	hub        *api.Hub
	queue      *transcription.Queue
	worker     *transcription.Worker
	controller *session.Controller
	server     *http.Server
	listener   net.Listener
}

// New builds every component. Nothing runs until Run.
func New(cfg *config.Config, log *logger.Logger, opts Options) (_ *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{config: cfg, logger: log.Named("app")}
	defer func() {
		if err != nil {
			a.closeResources(context.Background())
		}
	}()

	if cfg.Metrics.Enabled {
		a.provider, err = observe.InitProvider(observe.ProviderConfig{
			ServiceName:    cfg.Metrics.ServiceName,
			ServiceVersion: Version,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init metrics: %w", err)
		}
		a.metrics = a.provider.Metrics
	}

	res := opts.Resolver
	if res == nil {
		res, err = resolver.New(resolverConfig(cfg), a.metrics, log)
		if err != nil {
			return nil, err
		}
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = capture.NewFFmpeg(captureConfig(cfg), log)
	}

	engine := opts.Engine
	if engine == nil {
		engine, err = transcription.NewEngine(engineConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create transcription engine: %w", err)
		}
	}

	captions := opts.Captions
	if captions == nil {
		captions = os.Stdout
	}
	sinks := transcription.MultiSink{transcription.NewWriterSink(captions)}

	if cfg.Storage.Enabled {
		a.db, err = sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.store, err = sqlite.NewCaptionStorage(a.db, cfg.Source.Ref, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a.store)
	}

	if cfg.Server.Enabled {
		a.hub = api.NewHub(log)
		sinks = append(sinks, a.hub)
	}

	a.queue = transcription.NewQueue()
	a.worker = transcription.NewWorker(
		engine,
		a.queue,
		transcription.NewSeenSet(cfg.Transcription.Similarity),
		sinks,
		transcription.WorkerConfig{
			CallTimeout: time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
			Now:         opts.Now,
		},
		a.metrics,
		log,
	)

	sup := supervisor.New(launcher, a.queue, supervisorConfig(cfg), a.metrics, log)
	a.controller = session.NewController(res, sup, session.Config{
		RestartBudget: cfg.Session.RestartBudget,
		RestartDelay:  cfg.Session.RestartDelay(),
		WorkRoot:      cfg.Session.WorkDir,
	}, a.metrics, log)

	if cfg.Server.Enabled {
		a.listener, err = net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
		}
		var store api.CaptionStore
		if a.store != nil {
			store = a.store
		}
		router := api.NewRouter(
			api.NewHandler(store, a.controller, log),
			a.hub,
			api.RouterConfig{
				CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
				ServeMetrics:       cfg.Metrics.Enabled,
			},
			a.metrics,
			log,
		)
		a.server = &http.Server{
			Handler:           router.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

// Addr returns the API listen address, or "" when the server is disabled
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Status returns the session snapshot
func (a *App) Status() session.Status {
	return a.controller.Status()
}

// Run captions the configured source until the session ends, then drains
// the worker and releases everything. The App cannot be reused.
func (a *App) Run(ctx context.Context) (session.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)

	// Captions already queued are worth finishing after an interrupt
	a.worker.Start(context.WithoutCancel(ctx))

	var (
		summary session.Summary
		runErr  error
	)
	sessionDone := make(chan struct{})

	g.Go(func() error {
		defer close(sessionDone)
		summary, runErr = a.controller.Run(gctx, a.config.Source.Ref)

		a.logger.Info("Draining transcription queue",
			logger.Int("queued", a.queue.Len()),
			logger.Duration("timeout", a.config.Transcription.DrainTimeout()))
		if err := a.worker.Shutdown(a.config.Transcription.DrainTimeout()); err != nil {
			a.logger.Warn("Transcription queue not fully drained", logger.Error(err))
		}
		stats := a.worker.Stats()
		a.logger.Info("Transcription finished",
			logger.Int64("processed", stats.Processed),
			logger.Int64("emitted", stats.Emitted),
			logger.Int64("duplicates", stats.Duplicates),
			logger.Int64("failures", stats.Failures))
		return nil
	})

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("API server listening", logger.String("addr", a.Addr()))
			if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-sessionDone:
			case <-gctx.Done():
			}
			a.hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.Server.ShutdownTimeout())
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down api server: %w", err)
			}
			return nil
		})
	}

	groupErr := g.Wait()
	a.closeResources(context.WithoutCancel(ctx))

	if runErr != nil {
		return summary, runErr
	}
	return summary, groupErr
}

func (a *App) closeResources(ctx context.Context) {
	if a.controller != nil {
		if err := a.controller.Close(); err != nil {
			a.logger.Warn("Failed to remove work dir", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close caption database", logger.Error(err))
		}
	}
	if a.provider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.provider.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Failed to shut down metrics provider", logger.Error(err))
		}
	}
}

func resolverConfig(cfg *config.Config) resolver.Config {
	return resolver.Config{
		Kind:      cfg.Source.Resolver,
		YTDLPPath: cfg.Source.YTDLPPath,
		YTDLPArgs: cfg.Source.YTDLPArgs,
		Direct: resolver.DirectConfig{
			Probe:      !cfg.Source.SkipProbe,
			Timeout:    cfg.Source.ProbeTimeout(),
			MaxRetries: cfg.Source.ProbeRetries,
			RetryDelay: cfg.Source.ProbeRetryDelay(),
			UserAgent:  cfg.Source.UserAgent,
		},
	}
}

func captureConfig(cfg *config.Config) capture.Config {
	c := capture.DefaultConfig()
	c.FFmpegPath = cfg.Capture.FFmpegPath
	c.SampleRate = cfg.Capture.SampleRate
	c.Channels = cfg.Capture.Channels
	c.SegmentDuration = cfg.Capture.SegmentDuration()
	if d := cfg.Capture.ReconnectDelayMax(); d > 0 {
		c.ReconnectDelayMax = d
	}
	if d := cfg.Capture.IOTimeout(); d > 0 {
		c.IOTimeout = d
	}
	c.LogLevel = cfg.Capture.LogLevel
	return c
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	s := cfg.Supervisor
	return supervisor.Config{
		PollInterval:    s.PollInterval(),
		InactivityLimit: s.InactivityLimit(),
		ExitGrace:       s.ExitGrace(),
		TerminateGrace:  s.TerminateGrace(),
		Watcher: segments.WatcherConfig{
			Window:   s.Window,
			Lookback: s.Lookback,
			Debounce: s.Debounce(),
		},
		Classifier: diagnostics.NewClassifier(
			append(slices.Clone(diagnostics.DefaultIgnorePatterns), s.IgnorePatterns...),
			append(slices.Clone(diagnostics.DefaultTriggerPatterns), s.TriggerPatterns...),
		),
		HistorySize: s.HistorySize,
	}
}

func engineConfig(cfg *config.Config) transcription.Config {
	t := cfg.Transcription
	return transcription.Config{
		Engine:         t.Engine,
		Model:          t.Model,
		Language:       t.Language,
		Prompt:         t.Prompt,
		TimeoutSeconds: t.TimeoutSeconds,
		WhisperPath:    t.WhisperPath,
		ServerURL:      t.ServerURL,
		OpenAIAPIKey:   t.OpenAIAPIKey,
		OpenAIBaseURL:  t.OpenAIBaseURL,
	}
}
