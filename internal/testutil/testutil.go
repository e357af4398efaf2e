// Package testutil drives the proxy and twin servers from tests: a client
// with fluent assertions, helpers for redemptions and hold sessions, and a
// wrapper for the /admin/* control plane.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/smoldrop/redeem/internal/redeem"
	"github.com/smoldrop/redeem/internal/server"
	"github.com/smoldrop/redeem/internal/session"
)

// Client issues requests against a test server. Transport errors fail the
// test immediately.
type Client struct {
	base string
	http *http.Client
	t    testing.TB
}

// NewClient creates a client for a test server.
func NewClient(t testing.TB, server *httptest.Server) *Client {
	return &Client{base: server.URL, http: server.Client(), t: t}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          testing.TB
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("decoding response: %v\nbody: %s", err, r.Body)
	}
}

// JSONMap returns the body as a map.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.JSON(&m)
	return m
}

// AssertStatus checks the status code.
func (r *Response) AssertStatus(expected int) *Response {
	r.t.Helper()
	if r.StatusCode != expected {
		r.t.Errorf("expected status %d, got %d\nbody: %s", expected, r.StatusCode, r.Body)
	}
	return r
}

// AssertBodyContains checks the body contains substr.
func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	if !bytes.Contains(r.Body, []byte(substr)) {
		r.t.Errorf("expected body to contain %q, got: %s", substr, r.Body)
	}
	return r
}

// AssertField checks a top-level JSON field. Numbers compare as float64.
func (r *Response) AssertField(key string, expected any) *Response {
	r.t.Helper()
	got, ok := r.JSONMap()[key]
	if !ok || got != expected {
		r.t.Errorf("expected %s=%v, got %v (present=%v)\nbody: %s", key, expected, got, ok, r.Body)
	}
	return r
}

// AssertNoField checks a top-level JSON field is absent.
func (r *Response) AssertNoField(key string) *Response {
	r.t.Helper()
	if v, ok := r.JSONMap()[key]; ok {
		r.t.Errorf("expected no %s field, got %v", key, v)
	}
	return r
}

// AssertOutcome checks a POST /redeem answer: ok follows from code, and
// message is the "error" field, empty for an outcome that carries none.
func (r *Response) AssertOutcome(code redeem.Code, message string) *Response {
	r.t.Helper()
	var out struct {
		OK    bool        `json:"ok"`
		Code  redeem.Code `json:"code"`
		Error string      `json:"error"`
	}
	r.JSON(&out)
	ok := code == redeem.CodeSuccess || code == redeem.CodeAlreadyRedeemed
	if out.Code != code || out.OK != ok || out.Error != message {
		r.t.Errorf("expected outcome %s %q, got ok=%v %s %q", code, message, out.OK, out.Code, out.Error)
	}
	return r
}

// Get performs a GET request.
func (c *Client) Get(path string) *Response {
	c.t.Helper()
	return c.Do(http.MethodGet, path, nil, nil)
}

// Post performs a POST with a JSON body. A nil body sends nothing.
func (c *Client) Post(path string, body any) *Response {
	c.t.Helper()
	return c.Do(http.MethodPost, path, body, nil)
}

// PostRaw performs a POST with a literal body and content type.
func (c *Client) PostRaw(path, contentType, body string) *Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.base+path, strings.NewReader(body))
	if err != nil {
		c.t.Fatalf("building request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.send(req)
}

// Delete performs a DELETE request.
func (c *Client) Delete(path string) *Response {
	c.t.Helper()
	return c.Do(http.MethodDelete, path, nil, nil)
}

// Do performs a request with a JSON body and extra headers. Either may be
// nil.
func (c *Client) Do(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) *Response {
	c.t.Helper()
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("reading response: %v", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Headers: resp.Header, t: c.t}
}

// Redeem calls POST /redeem for one ticket.
func (c *Client) Redeem(ref string) *Response {
	c.t.Helper()
	return c.Post("/redeem", map[string]string{"uuid": ref})
}

// ---------------------------------------------------------------------------
// Hold sessions
// ---------------------------------------------------------------------------

// View is a session surface as the proxy returns it.
type View struct {
	session.Surface
	Accepted *bool `json:"accepted,omitempty"`
	Stale    bool  `json:"stale,omitempty"`
}

// Session drives one /sessions/{id} resource. Press and Release number
// their inputs the way the ticket page does.
type Session struct {
	c   *Client
	ID  string
	seq uint64
}

// OpenSession calls POST /sessions and expects 201.
func (c *Client) OpenSession(ref string) (*Session, View) {
	c.t.Helper()
	var v View
	c.Post("/sessions", map[string]string{"uuid": ref}).AssertStatus(http.StatusCreated).JSON(&v)
	if v.SessionID == "" {
		c.t.Fatal("expected a session id")
	}
	return &Session{c: c, ID: v.SessionID}, v
}

func (s *Session) path(suffix string) string {
	return "/sessions/" + s.ID + suffix
}

func (s *Session) view(method, path string) View {
	s.c.t.Helper()
	var v View
	s.c.Do(method, path, nil, nil).AssertStatus(http.StatusOK).JSON(&v)
	return v
}

// Press sends the next numbered press.
func (s *Session) Press() View {
	s.c.t.Helper()
	s.seq++
	return s.Input("press", s.seq)
}

// Release sends the next numbered release.
func (s *Session) Release() View {
	s.c.t.Helper()
	s.seq++
	return s.Input("release", s.seq)
}

// Input sends press, release or reset with an explicit sequence number, so
// a test can deliver inputs out of order.
func (s *Session) Input(action string, seq uint64) View {
	s.c.t.Helper()
	return s.view(http.MethodPost, s.path("/"+action+"?seq="+strconv.FormatUint(seq, 10)))
}

// Get calls GET /sessions/{id}.
func (s *Session) Get() View {
	s.c.t.Helper()
	return s.view(http.MethodGet, s.path(""))
}

// Wait calls GET /sessions/{id}/wait.
func (s *Session) Wait(timeout time.Duration) View {
	s.c.t.Helper()
	return s.view(http.MethodGet, s.path("/wait?timeout="+timeout.String()))
}

// Close calls DELETE /sessions/{id} and expects 204.
func (s *Session) Close() {
	s.c.t.Helper()
	s.c.Delete(s.path("")).AssertStatus(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

// AdminClient wraps the /admin/* control plane.
type AdminClient struct {
	*Client
}

// NewAdminClient creates an admin client sharing c's connection.
func NewAdminClient(c *Client) *AdminClient {
	return &AdminClient{c}
}

// Reset calls POST /admin/reset.
func (ac *AdminClient) Reset() *Response {
	ac.t.Helper()
	return ac.Post("/admin/reset", nil)
}

// GetState calls GET /admin/state.
func (ac *AdminClient) GetState() *Response {
	ac.t.Helper()
	return ac.Get("/admin/state")
}

// LoadState calls POST /admin/state.
func (ac *AdminClient) LoadState(state any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/state", state)
}

// InjectFault calls POST /admin/fault/{path}. fault is usually a
// server.FaultConfig; a map lets a test send values it would reject.
func (ac *AdminClient) InjectFault(path string, fault any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/fault/"+strings.TrimPrefix(path, "/"), fault)
}

// RemoveFault calls DELETE /admin/fault/{path}.
func (ac *AdminClient) RemoveFault(path string) *Response {
	ac.t.Helper()
	return ac.Delete("/admin/fault/" + strings.TrimPrefix(path, "/"))
}

// Requests returns the request log from GET /admin/requests.
func (ac *AdminClient) Requests() []server.RequestLogEntry {
	ac.t.Helper()
	var entries []server.RequestLogEntry
	ac.Get("/admin/requests").AssertStatus(http.StatusOK).JSON(&entries)
	return entries
}

// CountRequests counts logged requests to path, such as the webhook calls
// a twin received.
func (ac *AdminClient) CountRequests(path string) int {
	ac.t.Helper()
	n := 0
	for _, e := range ac.Requests() {
		if e.Path == path {
			n++
		}
	}
	return n
}

// Config calls GET /admin/config.
func (ac *AdminClient) Config() *Response {
	ac.t.Helper()
	return ac.Get("/admin/config")
}

// Health calls GET /admin/health.
func (ac *AdminClient) Health() *Response {
	ac.t.Helper()
	return ac.Get("/admin/health")
}
