package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yegors/livecaptions/internal/app"
	"github.com/yegors/livecaptions/internal/config"
	"github.com/yegors/livecaptions/internal/session"
	"github.com/yegors/livecaptions/pkg/logger"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "Path to a .toml or .yaml config file")
		source      = flag.String("source", "", "Source to caption: a page URL, video ID or direct stream URL")
		restarts    = flag.Int("restarts", -1, "Restart budget; overrides session.restart_budget")
		inactivity  = flag.Int("inactivity", -1, "Seconds without a new segment before capture is restarted")
		showVersion = flag.Bool("version", false, "Print the version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [source]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(app.Version)
		return exitOK
	}

	loader := config.Loader{}
	loader.Overrides.SourceRef = *source
	if loader.Overrides.SourceRef == "" && flag.NArg() > 0 {
		loader.Overrides.SourceRef = flag.Arg(0)
	}
	if *restarts >= 0 {
		loader.Overrides.RestartBudget = restarts
	}
	if *inactivity >= 0 {
		loader.Overrides.InactivityLimitSeconds = inactivity
	}

	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecaptions: %v\n", err)
		return exitUsage
	}
	if cfg.Source.Ref == "" {
		fmt.Fprintln(os.Stderr, "livecaptions: no source given")
		flag.Usage()
		return exitUsage
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecaptions: failed to create logger: %v\n", err)
		return exitUsage
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, log, app.Options{})
	if err != nil {
		log.Error("Failed to start", logger.Error(err))
		return exitFailure
	}

	log.Info("Captioning started",
		logger.String("source", cfg.Source.Ref),
		logger.String("engine", cfg.Transcription.Engine),
		logger.Int("restart_budget", cfg.Session.RestartBudget))

	summary, err := a.Run(ctx)
	switch summary.Reason {
	case session.Completed:
		if err != nil {
			log.Error("Captioning finished with errors", logger.Error(err))
			return exitFailure
		}
		return exitOK
	case session.Canceled:
		return exitInterrupted
	default:
		log.Error("Captioning stopped", logger.String("reason", summary.Reason.String()), logger.Error(err))
		return exitFailure
	}
}
