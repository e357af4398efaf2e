package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/pflag"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"id": "s1"})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if body["id"] != "s1" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestJSONNilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusNoContent, nil)
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %s", rec.Body.String())
	}
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusNotFound, "SESSION_NOT_FOUND")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != false || body["error"] != "SESSION_NOT_FOUND" {
		t.Errorf("unexpected error envelope: %+v", body)
	}
}

// ---------------------------------------------------------------------------
// Flags and env
// ---------------------------------------------------------------------------

func TestBindFlags(t *testing.T) {
	cfg := &Config{Name: "test"}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, cfg)

	if err := fs.Parse([]string{"--port", "4100", "-v"}); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 4100 {
		t.Errorf("expected port 4100, got %d", cfg.Port)
	}
	if !cfg.Verbose {
		t.Error("expected verbose")
	}
}

func TestApplyEnvPort(t *testing.T) {
	t.Setenv("PORT", "4555")
	cfg := &Config{}
	cfg.ApplyEnv()
	if cfg.Port != 4555 {
		t.Errorf("expected port from env, got %d", cfg.Port)
	}

	cfg = &Config{Port: 1}
	cfg.ApplyEnv()
	if cfg.Port != 1 {
		t.Errorf("flag port should win, got %d", cfg.Port)
	}
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

func TestServerMiddlewareStack(t *testing.T) {
	s := New(&Config{Name: "test"}, quiet())
	s.Router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"pong": "1"})
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping?x=1", nil))
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header")
	}

	entries := s.Middleware().ReqLog.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 logged request, got %d", len(entries))
	}
	if entries[0].Path != "/ping" || entries[0].Query != "x=1" || entries[0].StatusCode != 200 {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[0].RequestID == "" {
		t.Error("expected request ID from chi middleware")
	}
}

func TestServerPreflight(t *testing.T) {
	s := New(&Config{}, quiet())
	called := false
	s.Router.Post("/redeem", func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodOptions, "/redeem", nil)
	req.Header.Set("Origin", "https://tickets.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if called {
		t.Error("preflight must not reach the route handler")
	}
	want := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, DELETE, OPTIONS",
		"Access-Control-Allow-Headers": "Accept, Content-Type",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("expected %s %q, got %q", k, v, got)
		}
	}
}

func TestServerRecoversPanics(t *testing.T) {
	s := New(&Config{}, quiet())
	s.Router.Get("/boom", func(w http.ResponseWriter, r *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := New(&Config{Name: "test"}, quiet())
	s.Router.Get("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("server did not start")
	}
	port := addr[strings.LastIndex(addr, ":"):]
	resp, err := http.Get("http://127.0.0.1" + port + "/ok")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestRequestLogRingBuffer(t *testing.T) {
	rl := NewRequestLog(3)
	for i := 0; i < 5; i++ {
		rl.Add(RequestLogEntry{Path: "/" + string(rune('a'+i))})
	}
	entries := rl.Entries()
	if len(entries) != 3 || entries[0].Path != "/c" || entries[2].Path != "/e" {
		t.Errorf("unexpected ring contents: %+v", entries)
	}
	rl.Clear()
	if len(rl.Entries()) != 0 {
		t.Error("expected empty log after clear")
	}
}

func TestFaultRegistry(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set("/webhook/redeem", FaultConfig{StatusCode: 502})

	fault := fr.Check("/webhook/redeem")
	if fault == nil || fault.StatusCode != 502 || fault.Rate != 1.0 {
		t.Fatalf("unexpected fault: %+v", fault)
	}
	if fr.Check("/other") != nil {
		t.Error("expected no fault for other path")
	}
	if !fr.Remove("/webhook/redeem") || fr.Remove("/webhook/redeem") {
		t.Error("unexpected Remove results")
	}
	fr.Set("/a", FaultConfig{StatusCode: 500})
	fr.Reset()
	if len(fr.All()) != 0 {
		t.Error("expected no faults after reset")
	}
}

func TestFaultInjectionMiddleware(t *testing.T) {
	cfg := &Config{}
	mw := NewMiddleware(cfg, quiet())
	mw.Faults.Set("/webhook/redeem", FaultConfig{StatusCode: 503, Body: "maintenance"})

	h := mw.FaultInjection(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/redeem", nil))
	if rec.Code != 503 || rec.Body.String() != "maintenance" {
		t.Errorf("expected injected fault, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/info", nil))
	if rec.Code != 200 {
		t.Errorf("expected passthrough, got %d", rec.Code)
	}
}

func TestLatencyInjection(t *testing.T) {
	cfg := &Config{Latency: 20 * time.Millisecond}
	mw := NewMiddleware(cfg, quiet())
	h := mw.LatencyInjection(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	start := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("expected jittered latency, got %v", elapsed)
	}
}

func TestRequestLogMasksCredentials(t *testing.T) {
	s := New(&Config{Verbose: true}, quiet())
	s.Router.Post("/webhook/redeem", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/webhook/redeem", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("X-Correlation-ID", "corr-1")
	s.ServeHTTP(httptest.NewRecorder(), req)

	entries := s.Middleware().ReqLog.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].Headers["Authorization"]; got != "***" {
		t.Errorf("expected masked Authorization, got %q", got)
	}
	if entries[0].Correlation != "corr-1" {
		t.Errorf("expected correlation ID, got %q", entries[0].Correlation)
	}
}

func TestFaultContentType(t *testing.T) {
	mw := NewMiddleware(&Config{}, quiet())
	h := mw.FaultInjection(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	mw.Faults.Set("/json", FaultConfig{StatusCode: 500, Body: `{"error":"boom"}`})
	mw.Faults.Set("/html", FaultConfig{StatusCode: 502, Body: "<h1>down</h1>", ContentType: "text/html"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/json", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/html", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "text/html" {
		t.Errorf("expected explicit content type, got %q", ct)
	}
}

func TestFaultDelayOnlyPassesThrough(t *testing.T) {
	mw := NewMiddleware(&Config{}, quiet())
	mw.Faults.Set("/slow", FaultConfig{Delay: 10 * time.Millisecond})
	h := mw.FaultInjection(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	start := time.Now()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected handler to run after delay, got %d", rec.Code)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("expected delay")
	}
}

func TestFaultDropClosesConnection(t *testing.T) {
	s := New(&Config{}, quiet())
	s.Router.Group(func(r chi.Router) {
		r.Use(s.Middleware().FaultInjection)
		r.Post("/webhook/redeem", func(w http.ResponseWriter, r *http.Request) {})
	})
	s.Middleware().Faults.Set("/webhook/redeem", FaultConfig{Drop: true})
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/webhook/redeem", "application/json", strings.NewReader(`{}`))
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected transport error from dropped connection")
	}
}
