package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNeedsExtraction(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=abc123", true},
		{"https://youtu.be/abc123", true},
		{"https://m.youtube.com/live/abc123", true},
		{"https://www.twitch.tv/somechannel", true},
		{"abc123", true},
		{"https://radio.example.com/live.mp3", false},
		{"https://cdn.example.com/hls/master.m3u8", false},
		{"rtmp://ingest.example.com/live/key", false},
		{"https://notyoutube.com/stream", false},
	}
	for _, tc := range tests {
		t.Run(tc.ref, func(t *testing.T) {
			if got := NeedsExtraction(tc.ref); got != tc.want {
				t.Errorf("NeedsExtraction(%q) = %v, want %v", tc.ref, got, tc.want)
			}
		})
	}
}

func TestAuto_Routes(t *testing.T) {
	extractor := Func(func(context.Context, string) (string, error) { return "extracted", nil })
	direct := Func(func(context.Context, string) (string, error) { return "direct", nil })
	a := NewAuto(extractor, direct, nil)

	got, _ := a.Resolve(context.Background(), "https://www.youtube.com/watch?v=x")
	if got != "extracted" {
		t.Errorf("youtube routed to %q", got)
	}
	got, _ = a.Resolve(context.Background(), "https://radio.example.com/live.mp3")
	if got != "direct" {
		t.Errorf("plain stream routed to %q", got)
	}
}

func TestDirect_ProbeSucceeds(t *testing.T) {
	var sawCacheBreaker atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("nocache") != "" && r.URL.Query().Get("id") == "7" {
			sawCacheBreaker.Store(true)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("icy-br", "128")
		w.Header().Set("icy-name", "Test FM")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDirect(DefaultDirectConfig(), nil, nil)
	ref := srv.URL + "/live.mp3?id=7"
	got, err := d.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != ref {
		t.Errorf("Resolve = %q, want the reference unchanged", got)
	}
	if !sawCacheBreaker.Load() {
		t.Error("probe did not add a cache breaker")
	}
}

func TestDirect_ProbeRetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := DefaultDirectConfig()
	cfg.RetryDelay = time.Millisecond
	d := NewDirect(cfg, nil, nil)

	_, err := d.Resolve(context.Background(), srv.URL+"/live")
	if !errors.Is(err, ErrNoURL) {
		t.Fatalf("err = %v, want ErrNoURL", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestDirect_RecoversOnRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultDirectConfig()
	cfg.RetryDelay = time.Millisecond
	d := NewDirect(cfg, nil, nil)
	if _, err := d.Resolve(context.Background(), srv.URL); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestDirect_NonHTTPSkipsProbe(t *testing.T) {
	d := NewDirect(DefaultDirectConfig(), nil, nil)
	got, err := d.Resolve(context.Background(), "rtmp://ingest.example.com/live/key")
	if err != nil || got != "rtmp://ingest.example.com/live/key" {
		t.Errorf("Resolve = %q, %v", got, err)
	}
	if _, err := d.Resolve(context.Background(), "not a url"); !errors.Is(err, ErrNoURL) {
		t.Errorf("err = %v, want ErrNoURL", err)
	}
}

func TestExtractMetadata(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/vnd.apple.mpegurl; charset=utf-8")
	h.Set("icy-br", "96")
	m := ExtractMetadata(h)
	if m.Format != "hls" || m.Bitrate != 96 {
		t.Errorf("metadata = %+v", m)
	}
}

func TestYTDLP_Args(t *testing.T) {
	y := NewYTDLP("", nil, nil)
	got := strings.Join(y.Args("https://youtu.be/x"), " ")
	want := "--format bestaudio/best --quiet --no-warnings --extractor-args youtube:player_client=default --get-url https://youtu.be/x"
	if got != want {
		t.Errorf("args = %q", got)
	}
}

func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestYTDLP_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    string
		wantErr error
	}{
		{"first url", "echo\necho 'https://cdn.example.com/a.m3u8'\necho 'https://cdn.example.com/b.m3u8'\n", "https://cdn.example.com/a.m3u8", nil},
		{"no output", "exit 0\n", "", ErrNoURL},
		{"tool error", "echo 'ERROR: video unavailable' >&2\nexit 1\n", "", ErrNoURL},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			y := NewYTDLP(fakeTool(t, tc.script), nil, nil)
			got, err := y.Resolve(context.Background(), "https://youtu.be/x")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tc.want {
				t.Errorf("Resolve = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []string{"", KindAuto, KindYTDLP, KindDirect} {
		if _, err := New(Config{Kind: kind}, nil, nil); err != nil {
			t.Errorf("New(%q): %v", kind, err)
		}
	}
	if _, err := New(Config{Kind: "magic"}, nil, nil); err == nil {
		t.Error("unknown kind accepted")
	}
}
