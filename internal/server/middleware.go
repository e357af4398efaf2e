package server

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogEntry captures one handled request for admin inspection.
type RequestLogEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      string            `json:"query,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	StatusCode int               `json:"status_code"`
	Duration   time.Duration     `json:"duration_ms"`
	RequestID  string            `json:"request_id,omitempty"`
	// Correlation is the X-Correlation-ID a proxy attached to an upstream
	// call, so twin entries can be matched to proxy log lines.
	Correlation string `json:"correlation_id,omitempty"`
}

// RequestLog keeps the most recent requests in a fixed-size ring.
type RequestLog struct {
	mu    sync.RWMutex
	ring  []RequestLogEntry
	next  int
	count int
}

// NewRequestLog creates a request log holding at most size entries.
func NewRequestLog(size int) *RequestLog {
	if size < 1 {
		size = 1
	}
	return &RequestLog{ring: make([]RequestLogEntry, size)}
}

// Add records an entry, overwriting the oldest once full.
func (rl *RequestLog) Add(entry RequestLogEntry) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.ring[rl.next] = entry
	rl.next = (rl.next + 1) % len(rl.ring)
	if rl.count < len(rl.ring) {
		rl.count++
	}
}

// Entries returns the recorded requests, oldest first.
func (rl *RequestLog) Entries() []RequestLogEntry {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	out := make([]RequestLogEntry, 0, rl.count)
	start := (rl.next - rl.count + len(rl.ring)) % len(rl.ring)
	for i := 0; i < rl.count; i++ {
		out = append(out, rl.ring[(start+i)%len(rl.ring)])
	}
	return out
}

// Clear drops every entry.
func (rl *RequestLog) Clear() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	clear(rl.ring)
	rl.next, rl.count = 0, 0
}

// FaultConfig describes an injected failure for one path. Drop closes the
// connection without a response, which a caller sees as a transport error.
type FaultConfig struct {
	StatusCode  int           `json:"status_code"`
	Body        string        `json:"body,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	Delay       time.Duration `json:"delay_ms,omitempty"`
	Drop        bool          `json:"drop,omitempty"`
	Rate        float64       `json:"rate"` // 0.0-1.0
}

// FaultRegistry maps request paths to injected faults.
type FaultRegistry struct {
	mu     sync.RWMutex
	faults map[string]FaultConfig
}

// NewFaultRegistry creates an empty registry.
func NewFaultRegistry() *FaultRegistry {
	return &FaultRegistry{faults: make(map[string]FaultConfig)}
}

// Set injects a fault for path. A zero rate means always.
func (fr *FaultRegistry) Set(path string, fault FaultConfig) {
	if fault.Rate == 0 {
		fault.Rate = 1.0
	}
	fr.mu.Lock()
	fr.faults[path] = fault
	fr.mu.Unlock()
}

// Remove deletes the fault for path and reports whether one existed.
func (fr *FaultRegistry) Remove(path string) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	_, ok := fr.faults[path]
	delete(fr.faults, path)
	return ok
}

// Check returns the fault that fires for path on this request, if any.
func (fr *FaultRegistry) Check(path string) *FaultConfig {
	fr.mu.RLock()
	f, ok := fr.faults[path]
	fr.mu.RUnlock()
	if !ok || (f.Rate < 1.0 && rand.Float64() >= f.Rate) {
		return nil
	}
	return &f
}

// All returns a copy of every registered fault.
func (fr *FaultRegistry) All() map[string]FaultConfig {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	out := make(map[string]FaultConfig, len(fr.faults))
	for k, v := range fr.faults {
		out[k] = v
	}
	return out
}

// Reset clears all faults.
func (fr *FaultRegistry) Reset() {
	fr.mu.Lock()
	fr.faults = make(map[string]FaultConfig)
	fr.mu.Unlock()
}

// Middleware provides the middleware shared by the proxy and the twin.
type Middleware struct {
	cfg    *Config
	logger *slog.Logger
	ReqLog *RequestLog
	Faults *FaultRegistry
}

// NewMiddleware creates a Middleware instance.
func NewMiddleware(cfg *Config, logger *slog.Logger) *Middleware {
	return &Middleware{
		cfg:    cfg,
		logger: logger,
		ReqLog: NewRequestLog(1000),
		Faults: NewFaultRegistry(),
	}
}

// CORS allows the ticket page to be served from another origin.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		h.Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secretHeaders are never copied into the request log verbatim.
var secretHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"X-Api-Key":     true,
}

func captureHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		if secretHeaders[k] {
			out[k] = "***"
			continue
		}
		out[k] = h.Get(k)
	}
	return out
}

// RequestLog records every request into the ring and logs it at debug level.
// Headers are captured only in verbose mode, with credentials masked.
func (m *Middleware) RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := RequestLogEntry{
			Timestamp:   start,
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.RawQuery,
			StatusCode:  status,
			Duration:    time.Since(start),
			RequestID:   chimw.GetReqID(r.Context()),
			Correlation: r.Header.Get("X-Correlation-ID"),
		}
		if m.cfg.Verbose {
			entry.Headers = captureHeaders(r.Header)
		}
		m.ReqLog.Add(entry)

		m.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", entry.Duration,
			"request_id", entry.RequestID,
		)
	})
}

// sleep waits for d or until ctx ends, and reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// LatencyInjection delays every request by the configured latency with
// 80-120% jitter.
func (m *Middleware) LatencyInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.cfg.Latency > 0 {
			jitter := 0.8 + rand.Float64()*0.4
			if !sleep(r.Context(), time.Duration(float64(m.cfg.Latency)*jitter)) {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// FaultInjection applies registered faults. Mount it inside route groups so
// admin endpoints stay unaffected. A fault with only a delay slows the
// request down and then lets it through.
func (m *Middleware) FaultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fault := m.Faults.Check(r.URL.Path)
		if fault == nil {
			next.ServeHTTP(w, r)
			return
		}
		if fault.Delay > 0 && !sleep(r.Context(), fault.Delay) {
			return
		}
		if fault.Drop {
			m.drop(w, r)
			return
		}
		if fault.StatusCode == 0 {
			next.ServeHTTP(w, r)
			return
		}

		m.logger.Debug("injected fault", "path", r.URL.Path, "status", fault.StatusCode)
		if fault.Body != "" {
			ct := fault.ContentType
			if ct == "" {
				ct = "text/plain; charset=utf-8"
				if b := strings.TrimSpace(fault.Body); strings.HasPrefix(b, "{") || strings.HasPrefix(b, "[") {
					ct = "application/json"
				}
			}
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(fault.StatusCode)
		io.WriteString(w, fault.Body)
	})
}

// drop hijacks the connection and closes it. Writers that cannot be
// hijacked, such as test recorders, fall back to aborting the handler.
func (m *Middleware) drop(w http.ResponseWriter, r *http.Request) {
	m.logger.Debug("dropping connection", "path", r.URL.Path)
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close()
			return
		}
	}
	panic(http.ErrAbortHandler)
}
