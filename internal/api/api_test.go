package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/yegors/livecaptions/internal/session"
	"github.com/yegors/livecaptions/internal/storage/sqlite"
	"github.com/yegors/livecaptions/internal/transcription"
)

type fakeStore struct {
	records  []*sqlite.CaptionRecord
	err      error
	gotLimit int
	gotStart time.Time
	gotEnd   time.Time
}

func (f *fakeStore) GetRecentCaptions(_ context.Context, limit int) ([]*sqlite.CaptionRecord, error) {
	f.gotLimit = limit
	return f.records, f.err
}

func (f *fakeStore) GetCaptionsByTimeRange(_ context.Context, start, end time.Time) ([]*sqlite.CaptionRecord, error) {
	f.gotStart, f.gotEnd = start, end
	return f.records, f.err
}

type fixedStatus session.Status

func (s fixedStatus) Status() session.Status { return session.Status(s) }

func newTestServer(t *testing.T, store CaptionStore, hub *Hub, cfg RouterConfig) *httptest.Server {
	t.Helper()
	status := fixedStatus{State: session.StateCapturing, Attempt: 2, Restarts: 1, RestartBudget: 5}
	h := NewHandler(store, status, nil)
	srv := httptest.NewServer(NewRouter(h, hub, cfg, nil, nil).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestGetRecentCaptions(t *testing.T) {
	store := &fakeStore{records: []*sqlite.CaptionRecord{{ID: 2, Text: "second"}, {ID: 1, Text: "first"}}}
	srv := newTestServer(t, store, nil, RouterConfig{})

	tests := []struct {
		query      string
		wantStatus int
		wantLimit  int
	}{
		{"", http.StatusOK, defaultCaptionLimit},
		{"?limit=5", http.StatusOK, 5},
		{"?limit=50000", http.StatusOK, maxCaptionLimit},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			store.gotLimit = 0
			code, body := get(t, srv.URL+"/api/v1/captions"+tc.query)
			if code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", code, tc.wantStatus, body)
			}
			if store.gotLimit != tc.wantLimit {
				t.Errorf("limit = %d, want %d", store.gotLimit, tc.wantLimit)
			}
			if code != http.StatusOK {
				return
			}
			var resp CaptionsResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Count != 2 || resp.Captions[0].Text != "second" {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestGetRecentCaptions_StoreError(t *testing.T) {
	srv := newTestServer(t, &fakeStore{err: errors.New("disk I/O error")}, nil, RouterConfig{})
	if code, _ := get(t, srv.URL+"/api/v1/captions"); code != http.StatusInternalServerError {
		t.Errorf("status = %d", code)
	}
}

func TestGetRecentCaptions_EmptyListIsArray(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, nil, RouterConfig{})
	_, body := get(t, srv.URL+"/api/v1/captions")
	if !strings.Contains(string(body), `"captions":[]`) {
		t.Errorf("body = %s", body)
	}
}

func TestGetCaptionsByTimeRange(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(t, store, nil, RouterConfig{})

	code, body := get(t, srv.URL+"/api/v1/captions/time-range?start=2026-03-14T09:00:00Z&end=2026-03-14T10:00:00Z")
	if code != http.StatusOK {
		t.Fatalf("status = %d (%s)", code, body)
	}
	if !store.gotStart.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)) || !store.gotEnd.Equal(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("range = %s .. %s", store.gotStart, store.gotEnd)
	}

	for _, q := range []string{
		"",
		"?start=yesterday&end=2026-03-14T10:00:00Z",
		"?start=2026-03-14T10:00:00Z&end=2026-03-14T09:00:00Z",
	} {
		if code, _ := get(t, srv.URL+"/api/v1/captions/time-range"+q); code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want 400", q, code)
		}
	}
}

func TestCaptions_StorageDisabled(t *testing.T) {
	srv := newTestServer(t, nil, nil, RouterConfig{})
	if code, _ := get(t, srv.URL+"/api/v1/captions"); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestGetStatusAndHealth(t *testing.T) {
	srv := newTestServer(t, nil, nil, RouterConfig{})

	code, body := get(t, srv.URL+"/api/v1/status")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var st session.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != session.StateCapturing || st.Attempt != 2 || st.RestartBudget != 5 {
		t.Errorf("status = %+v", st)
	}

	code, body = get(t, srv.URL+"/health")
	if code != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("health = %d %s", code, body)
	}
}

func TestMetricsRoute(t *testing.T) {
	off := newTestServer(t, nil, nil, RouterConfig{})
	if code, _ := get(t, off.URL+"/metrics"); code != http.StatusNotFound {
		t.Errorf("/metrics without ServeMetrics = %d, want 404", code)
	}

	on := newTestServer(t, nil, nil, RouterConfig{ServeMetrics: true})
	code, body := get(t, on.URL+"/metrics")
	if code != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("/metrics = %d", code)
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, nil, nil, RouterConfig{CORSAllowedOrigins: []string{"https://captions.example.com"}})

	tests := []struct {
		origin string
		want   string
	}{
		{"https://captions.example.com", "https://captions.example.com"},
		{"https://evil.example.com", ""},
	}
	for _, tc := range tests {
		req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/status", nil)
		req.Header.Set("Origin", tc.origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("preflight: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("%s: preflight status = %d", tc.origin, resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tc.want {
			t.Errorf("%s: allow origin = %q, want %q", tc.origin, got, tc.want)
		}
	}
}

func dialHub(t *testing.T, srv *httptest.Server, hub *Hub) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	ws, err := websocket.Dial(url, "", "http://localhost/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return ws
}

func TestHub_BroadcastsCaptions(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, nil, hub, RouterConfig{})
	ws := dialHub(t, srv, hub)

	result := transcription.Result{
		Timestamp:    time.Date(2026, 3, 14, 9, 0, 5, 0, time.UTC),
		Text:         "hello world",
		SegmentIndex: 3,
		Attempt:      1,
	}
	if err := hub.Emit(context.Background(), result); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string               `json:"type"`
		Data transcription.Result `json:"data"`
	}
	if err := websocket.JSON.Receive(ws, &msg); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Type != MessageTypeCaption || msg.Data.Text != "hello world" || msg.Data.SegmentIndex != 3 {
		t.Errorf("message = %+v", msg)
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, nil, hub, RouterConfig{})
	ws := dialHub(t, srv, hub)
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client still registered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_CloseRefusesClients(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()
	hub.Broadcast(&Message{Type: "noop"})
	if hub.ClientCount() != 0 {
		t.Error("closed hub has clients")
	}
}
