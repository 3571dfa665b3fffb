package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yegors/livecaptions/internal/capture/mock"
	"github.com/yegors/livecaptions/internal/config"
	"github.com/yegors/livecaptions/internal/resolver"
	"github.com/yegors/livecaptions/internal/session"
	"github.com/yegors/livecaptions/internal/storage/sqlite"
	"github.com/yegors/livecaptions/internal/transcription"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source.Ref = "https://www.youtube.com/watch?v=live"
	cfg.Supervisor.PollIntervalMs = 10
	cfg.Supervisor.DebounceMs = 5
	cfg.Supervisor.ExitGraceMs = 30
	cfg.Supervisor.TerminateGraceMs = 50
	cfg.Session.RestartDelayMs = 1
	cfg.Session.WorkDir = t.TempDir()
	cfg.Transcription.DrainTimeoutSeconds = 5
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

var staticResolver = resolver.Func(func(context.Context, string) (string, error) {
	return "https://cdn.example.com/live.m3u8", nil
})

var fileEngine = transcription.EngineFunc(func(_ context.Context, path string) (string, error) {
	return "caption for " + filepath.Base(path), nil
})

func fixedNow() time.Time { return time.Date(2026, 3, 14, 9, 0, 5, 0, time.UTC) }

func TestApp_RunCompleted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Enabled = true
	cfg.Storage.Path = filepath.Join(t.TempDir(), "captions.db")
	cfg.Server.Enabled = true
	cfg.Server.Addr = "127.0.0.1:0"

	launcher := &mock.Launcher{Script: func(_ int, dir string, p *mock.Process) {
		for i := range 2 {
			mock.WriteSegment(dir, i, 100*time.Millisecond)
			time.Sleep(15 * time.Millisecond)
		}
		p.Exit(0)
	}}
	var out bytes.Buffer
	a, err := New(cfg, nil, Options{
		Launcher: launcher,
		Resolver: staticResolver,
		Engine:   fileEngine,
		Captions: &out,
		Now:      fixedNow,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Addr() == "" {
		t.Fatal("server enabled but no listen address")
	}
	addr := a.Addr()

	sum, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Reason != session.Completed || sum.Attempts != 1 {
		t.Errorf("summary = %+v", sum)
	}

	want := "[09:00:05] caption for segment_000.wav\n[09:00:05] caption for segment_001.wav\n"
	if out.String() != want {
		t.Errorf("captions = %q, want %q", out.String(), want)
	}

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	store, err := sqlite.NewCaptionStorage(db, cfg.Source.Ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountCaptions(context.Background()); n != 2 {
		t.Errorf("stored captions = %d, want 2", n)
	}

	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("api server still serving after Run returned")
	}
}

func TestApp_RestartsExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.RestartBudget = 2

	launcher := &mock.Launcher{Script: func(_ int, _ string, p *mock.Process) {
		p.Diagnostic("Connection refused")
		time.Sleep(10 * time.Millisecond)
		p.Exit(1)
	}}
	var out bytes.Buffer
	a, err := New(cfg, nil, Options{Launcher: launcher, Resolver: staticResolver, Engine: fileEngine, Captions: &out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sum, err := a.Run(context.Background())
	if !errors.Is(err, session.ErrRestartsExhausted) {
		t.Fatalf("err = %v, want ErrRestartsExhausted", err)
	}
	if sum.Attempts != 2 || sum.Reason != session.RestartsExhausted {
		t.Errorf("summary = %+v", sum)
	}
	if len(launcher.Calls()) != 2 {
		t.Errorf("launches = %d", len(launcher.Calls()))
	}
	if out.Len() != 0 {
		t.Errorf("unexpected captions %q", out.String())
	}
}

func TestApp_InterruptDrainsQueuedCaptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.TerminateGraceMs = 20

	written := make(chan struct{})
	launcher := &mock.Launcher{Script: func(_ int, dir string, _ *mock.Process) {
		mock.WriteSegment(dir, 0, 100*time.Millisecond)
		mock.WriteSegment(dir, 1, 100*time.Millisecond)
		close(written)
	}}
	var out bytes.Buffer
	a, err := New(cfg, nil, Options{Launcher: launcher, Resolver: staticResolver, Engine: fileEngine, Captions: &out, Now: fixedNow})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-written
		// both segments settle within a few polls
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	sum, err := a.Run(ctx)
	if !errors.Is(err, context.Canceled) || sum.Reason != session.Canceled {
		t.Fatalf("summary = %+v, err = %v", sum, err)
	}
	if !strings.Contains(out.String(), "caption for segment_000.wav") {
		t.Errorf("queued caption lost on interrupt: %q", out.String())
	}
}

func TestNew_InvalidEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transcription.Engine = "vosk"
	if _, err := New(cfg, nil, Options{Launcher: &mock.Launcher{}, Resolver: staticResolver}); err == nil {
		t.Error("New accepted an unknown engine")
	}
}
