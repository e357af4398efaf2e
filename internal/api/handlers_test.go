package api_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smoldrop/redeem/internal/admin"
	"github.com/smoldrop/redeem/internal/api"
	"github.com/smoldrop/redeem/internal/clock"
	"github.com/smoldrop/redeem/internal/redeem"
	"github.com/smoldrop/redeem/internal/server"
	"github.com/smoldrop/redeem/internal/session"
	"github.com/smoldrop/redeem/internal/testutil"
	"github.com/smoldrop/redeem/internal/twin"
	"github.com/smoldrop/redeem/internal/upstream"
)

type fixture struct {
	proxy     *testutil.Client
	admin     *testutil.AdminClient
	twinAdmin *testutil.AdminClient
	tickets   *twin.MemoryStore
	twin      *twin.Handler
	handler   *api.Handler
	clock     *clock.FakeClock
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setup starts a webhook twin and a proxy wired to it. mutate may adjust
// the upstream config before the proxy is built.
func setup(t *testing.T, mutate func(*upstream.Config)) *fixture {
	t.Helper()
	logger := quiet()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	twinSrv := server.New(&server.Config{Name: "twin-webhook"}, logger)
	tickets := twin.NewMemoryStore(nil)
	tickets.Seed([]twin.Ticket{
		{UUID: "ticket-1", Label: "Lunch"},
		{UUID: "ticket-2"},
		{UUID: "used", Status: twin.StatusRedeemed},
	})
	twinHandler := twin.NewHandler(tickets, twinSrv.Middleware(), logger, twin.Options{})
	twinHandler.Routes(twinSrv.Router)
	admin.NewHandler("twin-webhook", tickets, twinSrv.Middleware(), nil).Routes(twinSrv.Router)
	twinTS := httptest.NewServer(twinSrv)
	t.Cleanup(twinTS.Close)

	upCfg := upstream.Config{
		URL:     twinTS.URL + "/webhook/redeem",
		InfoURL: twinTS.URL + "/webhook/info",
	}
	if mutate != nil {
		mutate(&upCfg)
	}
	proxy := redeem.NewProxy(upstream.New(upCfg), logger)

	srv := server.New(&server.Config{Name: "redeem-proxy"}, logger)
	h := api.NewHandler(proxy, srv.Middleware(), logger, api.Options{
		Threshold:  800 * time.Millisecond,
		SessionTTL: time.Minute,
		Clock:      clk,
	})
	h.Routes(srv.Router)
	admin.NewHandler("redeem-proxy", h.State(), srv.Middleware(), func() any {
		return map[string]string{"webhook": upCfg.URL}
	}).Routes(srv.Router)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	pc := testutil.NewClient(t, ts)
	return &fixture{
		proxy:     pc,
		admin:     testutil.NewAdminClient(pc),
		twinAdmin: testutil.NewAdminClient(testutil.NewClient(t, twinTS)),
		tickets:   tickets,
		twin:      twinHandler,
		handler:   h,
		clock:     clk,
	}
}

func (f *fixture) upstreamCalls(t *testing.T) int {
	t.Helper()
	return f.twinAdmin.CountRequests("/webhook/redeem")
}

// ---------------------------------------------------------------------------
// POST /redeem
// ---------------------------------------------------------------------------

func TestRedeemSuccess(t *testing.T) {
	f := setup(t, nil)
	resp := f.proxy.Post("/redeem", map[string]string{"uuid": "ticket-1"}).
		AssertStatus(http.StatusOK).
		AssertField("ok", true).
		AssertField("code", string(redeem.CodeSuccess)).
		AssertField("result", "success").
		AssertNoField("error")

	data, ok := resp.JSONMap()["data"].(map[string]any)
	if !ok || data["uuid"] != "ticket-1" {
		t.Errorf("expected upstream payload in data, got %s", resp.Body)
	}
}

func TestRedeemTwiceIsIdempotentSuccess(t *testing.T) {
	f := setup(t, nil)
	f.proxy.Redeem("ticket-1").AssertStatus(http.StatusOK).AssertOutcome(redeem.CodeSuccess, "")
	f.proxy.Redeem("ticket-1").
		AssertStatus(http.StatusOK).
		AssertOutcome(redeem.CodeAlreadyRedeemed, "").
		AssertField("result", "already_redeemed")
}

func TestRedeemUnknownTicket(t *testing.T) {
	f := setup(t, nil)
	f.proxy.Redeem("ghost").
		AssertStatus(http.StatusBadRequest).
		AssertOutcome(redeem.CodeFailed, twin.ErrTicketNotFound).
		AssertField("reason", string(redeem.ReasonDenied))
}

func TestRedeemInvalidBodies(t *testing.T) {
	f := setup(t, nil)
	bodies := []string{
		`{not json`,
		`{}`,
		`{"uuid": ""}`,
		`{"uuid": "   "}`,
		`{"uuid": 42}`,
		`{"uuid": null}`,
		`{"uuid": "` + strings.Repeat("x", redeem.MaxReferenceLen+1) + `"}`,
	}
	for _, body := range bodies {
		f.proxy.PostRaw("/redeem", "application/json", body).
			AssertStatus(http.StatusBadRequest).
			AssertField("ok", false).
			AssertField("reason", string(redeem.ReasonInvalidReference)).
			AssertField("error", string(redeem.ReasonInvalidReference))
	}
	if n := f.upstreamCalls(t); n != 0 {
		t.Errorf("invalid references must not reach upstream, got %d calls", n)
	}
}

func TestRedeemNotConfigured(t *testing.T) {
	f := setup(t, func(c *upstream.Config) { c.URL = "" })
	f.proxy.Redeem("ticket-1").
		AssertStatus(http.StatusInternalServerError).
		AssertField("code", string(redeem.CodeServerError)).
		AssertField("reason", string(redeem.ReasonNotConfigured))
}

func TestRedeemQueryMode(t *testing.T) {
	f := setup(t, func(c *upstream.Config) { c.Mode = upstream.ModeQuery })
	f.proxy.Post("/redeem", map[string]string{"uuid": "ticket-2"}).
		AssertStatus(http.StatusOK).
		AssertField("code", string(redeem.CodeSuccess))
}

func TestRedeemSignedRequests(t *testing.T) {
	logger := quiet()
	twinSrv := server.New(&server.Config{Name: "twin-webhook"}, logger)
	tickets := twin.NewMemoryStore(nil)
	tickets.Seed([]twin.Ticket{{UUID: "signed"}})
	twin.NewHandler(tickets, twinSrv.Middleware(), logger, twin.Options{
		JWTSecret: "shared",
		JWTIssuer: "smoldrop-redeem",
	}).Routes(twinSrv.Router)
	twinTS := httptest.NewServer(twinSrv)
	defer twinTS.Close()

	good := redeem.NewProxy(upstream.New(upstream.Config{URL: twinTS.URL + "/webhook/redeem", JWTSecret: "shared"}), logger)
	if out := good.Redeem(t.Context(), "signed"); !out.OK {
		t.Errorf("expected signed redemption to succeed, got %+v", out)
	}

	bad := redeem.NewProxy(upstream.New(upstream.Config{URL: twinTS.URL + "/webhook/redeem", JWTSecret: "other"}), logger)
	out := bad.Redeem(t.Context(), "signed")
	if out.OK || out.Reason != redeem.ReasonDenied || out.Message != "INVALID_TOKEN" {
		t.Errorf("expected denied with INVALID_TOKEN, got %+v", out)
	}
}

// ---------------------------------------------------------------------------
// Upstream response shapes and failures
// ---------------------------------------------------------------------------

func TestRedeemAcrossShapes(t *testing.T) {
	shapes := []twin.Shape{twin.ShapeObject, twin.ShapeArray, twin.ShapeBare, twin.ShapeText}
	for _, shape := range shapes {
		t.Run(string(shape), func(t *testing.T) {
			f := setup(t, nil)
			f.twin.SetShape(shape)

			f.proxy.Post("/redeem", map[string]string{"uuid": "ticket-1"}).
				AssertStatus(http.StatusOK).
				AssertField("ok", true).
				AssertField("code", string(redeem.CodeSuccess))

			f.proxy.Post("/redeem", map[string]string{"uuid": "ticket-1"}).
				AssertStatus(http.StatusOK).
				AssertField("code", string(redeem.CodeAlreadyRedeemed))

			f.proxy.Post("/redeem", map[string]string{"uuid": "ghost"}).
				AssertStatus(http.StatusBadRequest).
				AssertField("error", twin.ErrTicketNotFound)
		})
	}
}

func TestRedeemUpstreamFaultWithoutBody(t *testing.T) {
	f := setup(t, nil)
	f.twinAdmin.InjectFault("/webhook/redeem", server.FaultConfig{StatusCode: 502}).AssertStatus(http.StatusOK)

	f.proxy.Post("/redeem", map[string]string{"uuid": "ticket-1"}).
		AssertStatus(http.StatusBadRequest).
		AssertField("reason", string(redeem.ReasonDenied)).
		AssertField("error", "UPSTREAM_HTTP_502")
}

func TestRedeemUpstreamUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	f := setup(t, func(c *upstream.Config) { c.URL = deadURL + "/webhook/redeem" })
	f.proxy.Post("/redeem", map[string]string{"uuid": "ticket-1"}).
		AssertStatus(http.StatusInternalServerError).
		AssertField("reason", string(redeem.ReasonUpstreamUnreachable)).
		AssertField("error", string(redeem.CodeServerError))
}

func TestRedeemUpstreamDropsConnection(t *testing.T) {
	f := setup(t, nil)
	f.twinAdmin.InjectFault("/webhook/redeem", server.FaultConfig{Drop: true}).AssertStatus(http.StatusOK)

	f.proxy.Post("/redeem", map[string]string{"uuid": "ticket-1"}).
		AssertStatus(http.StatusInternalServerError).
		AssertField("reason", string(redeem.ReasonUpstreamUnreachable))
	if tk, _ := f.tickets.Lookup("ticket-1"); tk.Status != twin.StatusActive {
		t.Errorf("expected ticket to stay active, got %s", tk.Status)
	}
}

func TestRedeemUpstreamHTMLErrorPage(t *testing.T) {
	f := setup(t, nil)
	f.twinAdmin.InjectFault("/webhook/redeem", server.FaultConfig{
		StatusCode:  502,
		Body:        "<html><body>Bad Gateway</body></html>",
		ContentType: "text/html",
	}).AssertStatus(http.StatusOK)

	f.proxy.Post("/redeem", map[string]string{"uuid": "ticket-1"}).
		AssertStatus(http.StatusBadRequest).
		AssertField("ok", false).
		AssertField("reason", string(redeem.ReasonDenied))
}

func TestProxyFaultInjection(t *testing.T) {
	f := setup(t, nil)
	f.admin.InjectFault("/redeem", map[string]any{"status_code": 503}).AssertStatus(http.StatusOK)
	f.proxy.Post("/redeem", map[string]string{"uuid": "ticket-1"}).AssertStatus(http.StatusServiceUnavailable)
	if n := f.upstreamCalls(t); n != 0 {
		t.Errorf("expected no upstream call under fault, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// GET /ticket/status
// ---------------------------------------------------------------------------

func TestTicketStatus(t *testing.T) {
	f := setup(t, nil)
	f.proxy.Get("/ticket/status?uuid=ticket-1").
		AssertStatus(http.StatusOK).
		AssertField("ok", true).
		AssertField("status", redeem.TicketActive)
	f.proxy.Get("/ticket/status?uuid=used").AssertField("status", redeem.TicketRedeemed)
	f.proxy.Get("/ticket/status?uuid=ghost").
		AssertStatus(http.StatusBadRequest).
		AssertField("status", redeem.TicketUnknown).
		AssertField("error", twin.ErrTicketNotFound)
	f.proxy.Get("/ticket/status").AssertStatus(http.StatusBadRequest)
}

func TestTicketStatusWithoutInfoWebhook(t *testing.T) {
	f := setup(t, func(c *upstream.Config) { c.InfoURL = "" })
	f.proxy.Get("/ticket/status?uuid=used").
		AssertStatus(http.StatusOK).
		AssertField("ok", true).
		AssertField("status", redeem.TicketUnknown)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func createSession(t *testing.T, f *fixture, ref string) api.SessionResponse {
	t.Helper()
	var s api.SessionResponse
	f.proxy.Post("/sessions", map[string]string{"uuid": ref}).
		AssertStatus(http.StatusCreated).
		JSON(&s)
	if s.SessionID == "" {
		t.Fatal("expected session id")
	}
	return s
}

func sessionCall(t *testing.T, f *fixture, method, path string) api.SessionResponse {
	t.Helper()
	var s api.SessionResponse
	f.proxy.Do(method, path, nil, nil).AssertStatus(http.StatusOK).JSON(&s)
	return s
}

func TestSessionHoldRedeems(t *testing.T) {
	f := setup(t, nil)
	s := createSession(t, f, "ticket-1")
	if s.State != session.Idle || !s.InputEnabled || s.Affordance != session.AffordanceHold {
		t.Fatalf("unexpected initial surface: %+v", s.Surface)
	}
	base := "/sessions/" + s.SessionID

	pressed := sessionCall(t, f, http.MethodPost, base+"/press")
	if pressed.Accepted == nil || !*pressed.Accepted || pressed.State != session.Holding {
		t.Fatalf("expected press accepted into holding, got %+v", pressed)
	}

	f.clock.Advance(400 * time.Millisecond)
	mid := sessionCall(t, f, http.MethodGet, base)
	if mid.Progress < 0.49 || mid.Progress > 0.51 {
		t.Errorf("expected half progress, got %v", mid.Progress)
	}

	f.clock.Advance(400 * time.Millisecond)
	done := sessionCall(t, f, http.MethodGet, base+"/wait?timeout=5s")
	if done.State != session.Success || done.Message != session.MessageSuccess {
		t.Fatalf("expected success, got %+v", done.Surface)
	}
	if done.Outcome == nil || done.Outcome.Code != redeem.CodeSuccess || done.Attempts != 1 {
		t.Errorf("unexpected outcome: %+v", done.Outcome)
	}

	again := sessionCall(t, f, http.MethodPost, base+"/press")
	if *again.Accepted || again.State != session.Success {
		t.Errorf("success must be absorbing, got %+v", again)
	}
	if tk, _ := f.tickets.Lookup("ticket-1"); tk.Redemptions != 1 {
		t.Errorf("expected exactly one upstream redemption, got %d", tk.Redemptions)
	}
}

func TestSessionEarlyReleaseNeverRedeems(t *testing.T) {
	f := setup(t, nil)
	s := createSession(t, f, "ticket-1")
	base := "/sessions/" + s.SessionID

	sessionCall(t, f, http.MethodPost, base+"/press")
	f.clock.Advance(799 * time.Millisecond)
	released := sessionCall(t, f, http.MethodPost, base+"/release")
	if !*released.Accepted || released.State != session.Idle {
		t.Fatalf("expected release back to idle, got %+v", released)
	}
	f.clock.Advance(5 * time.Second)

	if got := sessionCall(t, f, http.MethodGet, base); got.State != session.Idle {
		t.Errorf("expected idle, got %s", got.State)
	}
	if n := f.upstreamCalls(t); n != 0 {
		t.Errorf("expected no upstream call, got %d", n)
	}
}

func TestSessionReleaseOvertakingPressNeverRedeems(t *testing.T) {
	f := setup(t, nil)
	sess, _ := f.proxy.OpenSession("ticket-1")

	// A quick tap whose release reaches the proxy before its press.
	released := sess.Input("release", 2)
	if released.Stale || *released.Accepted || released.State != session.Idle {
		t.Fatalf("expected release ignored in idle, got %+v", released)
	}
	pressed := sess.Input("press", 1)
	if !pressed.Stale || *pressed.Accepted || pressed.State != session.Idle {
		t.Fatalf("expected stale press dropped, got %+v", pressed)
	}

	f.clock.Advance(800 * time.Millisecond)
	if got := sess.Get(); got.State != session.Idle {
		t.Errorf("expected idle, got %s", got.State)
	}
	if n := f.upstreamCalls(t); n != 0 {
		t.Errorf("expected no upstream call, got %d", n)
	}
}

func TestSessionSequencedHoldRedeems(t *testing.T) {
	f := setup(t, nil)
	sess, _ := f.proxy.OpenSession("ticket-1")

	if pressed := sess.Press(); pressed.Stale || pressed.State != session.Holding {
		t.Fatalf("expected holding, got %+v", pressed)
	}
	f.clock.Advance(800 * time.Millisecond)
	if late := sess.Release(); late.Stale {
		t.Errorf("expected in-order release to be applied, got %+v", late)
	}
	done := sess.Wait(5 * time.Second)
	if done.State != session.Success {
		t.Fatalf("expected success, got %+v", done.Surface)
	}
	if n := f.upstreamCalls(t); n != 1 {
		t.Errorf("expected one upstream call, got %d", n)
	}
	sess.Close()
	f.proxy.Get("/sessions/" + sess.ID).AssertStatus(http.StatusNotFound)
}

func TestSessionInvalidSeq(t *testing.T) {
	f := setup(t, nil)
	sess, _ := f.proxy.OpenSession("ticket-1")

	for _, seq := range []string{"0", "-1", "x"} {
		f.proxy.Post("/sessions/"+sess.ID+"/press?seq="+seq, nil).
			AssertStatus(http.StatusBadRequest).
			AssertField("error", "invalid seq")
	}
	if got := sess.Get(); got.State != session.Idle {
		t.Errorf("expected idle, got %s", got.State)
	}
}

func TestSessionErrorThenRetry(t *testing.T) {
	f := setup(t, nil)
	s := createSession(t, f, "late-ticket")
	base := "/sessions/" + s.SessionID

	sessionCall(t, f, http.MethodPost, base+"/press")
	f.clock.Advance(800 * time.Millisecond)
	failed := sessionCall(t, f, http.MethodGet, base+"/wait?timeout=5s")
	if failed.State != session.Error || failed.Message != session.MessageDenied || !failed.InputEnabled {
		t.Fatalf("expected retryable error, got %+v", failed.Surface)
	}

	f.tickets.Add(twin.Ticket{UUID: "late-ticket"})

	sessionCall(t, f, http.MethodPost, base+"/press")
	f.clock.Advance(800 * time.Millisecond)
	done := sessionCall(t, f, http.MethodGet, base+"/wait?timeout=5s")
	if done.State != session.Success || done.Attempts != 2 {
		t.Errorf("expected success on second attempt, got %+v", done.Surface)
	}
}

func TestSessionResetFromError(t *testing.T) {
	f := setup(t, nil)
	s := createSession(t, f, "ghost")
	base := "/sessions/" + s.SessionID

	sessionCall(t, f, http.MethodPost, base+"/press")
	f.clock.Advance(800 * time.Millisecond)
	sessionCall(t, f, http.MethodGet, base+"/wait?timeout=5s")

	reset := sessionCall(t, f, http.MethodPost, base+"/reset")
	if !*reset.Accepted || reset.State != session.Idle {
		t.Errorf("expected reset to idle, got %+v", reset)
	}
}

func TestSessionForRedeemedTicketStartsInSuccess(t *testing.T) {
	f := setup(t, nil)
	s := createSession(t, f, "used")
	if s.State != session.Success || s.Message != session.MessageAlreadyRedeemed || s.InputEnabled {
		t.Errorf("unexpected surface: %+v", s.Surface)
	}
	if n := f.upstreamCalls(t); n != 0 {
		t.Errorf("prefetch must not redeem, got %d calls", n)
	}
}

func TestSessionWithoutReferenceIsInvalid(t *testing.T) {
	f := setup(t, nil)
	s := createSession(t, f, "")
	if s.State != session.Invalid || s.InputEnabled || s.Message != session.MessageInvalid {
		t.Fatalf("unexpected surface: %+v", s.Surface)
	}
	pressed := sessionCall(t, f, http.MethodPost, "/sessions/"+s.SessionID+"/press")
	if *pressed.Accepted {
		t.Error("invalid session must ignore input")
	}
}

func TestSessionBadRequestAndNotFound(t *testing.T) {
	f := setup(t, nil)
	f.proxy.PostRaw("/sessions", "application/json", "{").AssertStatus(http.StatusBadRequest)

	f.proxy.Get("/sessions/missing").AssertStatus(http.StatusNotFound).AssertField("error", "SESSION_NOT_FOUND")
	f.proxy.Post("/sessions/missing/press", nil).AssertStatus(http.StatusNotFound)
	f.proxy.Post("/sessions/missing/release", nil).AssertStatus(http.StatusNotFound)
	f.proxy.Delete("/sessions/missing").AssertStatus(http.StatusNotFound)

	s := createSession(t, f, "ticket-1")
	f.proxy.Get("/sessions/" + s.SessionID + "/wait?timeout=soon").AssertStatus(http.StatusBadRequest)
}

func TestSessionDelete(t *testing.T) {
	f := setup(t, nil)
	s := createSession(t, f, "ticket-1")
	base := "/sessions/" + s.SessionID

	sessionCall(t, f, http.MethodPost, base+"/press")
	f.proxy.Delete(base).AssertStatus(http.StatusNoContent)
	f.proxy.Get(base).AssertStatus(http.StatusNotFound)

	f.clock.Advance(time.Second)
	if f.clock.Pending() != 0 {
		t.Error("closing the session must stop its hold timer")
	}
	if n := f.upstreamCalls(t); n != 0 {
		t.Errorf("expected no upstream call, got %d", n)
	}
}

func TestSessionsExpire(t *testing.T) {
	f := setup(t, nil)
	s := createSession(t, f, "ticket-1")
	keep := createSession(t, f, "ticket-2")

	f.clock.Advance(30 * time.Second)
	sessionCall(t, f, http.MethodGet, "/sessions/"+keep.SessionID)
	f.clock.Advance(40 * time.Second)

	if n := f.handler.SweepSessions(); n != 1 {
		t.Errorf("expected one expired session, got %d", n)
	}
	f.proxy.Get("/sessions/" + s.SessionID).AssertStatus(http.StatusNotFound)
	f.proxy.Get("/sessions/" + keep.SessionID).AssertStatus(http.StatusOK)
}

// ---------------------------------------------------------------------------
// Admin and page
// ---------------------------------------------------------------------------

func TestAdminStateAndReset(t *testing.T) {
	f := setup(t, nil)
	createSession(t, f, "ticket-1")
	createSession(t, f, "ticket-2")

	var state struct {
		Sessions []session.Surface `json:"sessions"`
	}
	f.admin.GetState().AssertStatus(http.StatusOK).JSON(&state)
	if len(state.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(state.Sessions))
	}

	f.admin.Reset().AssertStatus(http.StatusOK)
	f.proxy.Get("/sessions/" + state.Sessions[0].SessionID).AssertStatus(http.StatusNotFound)
	f.admin.LoadState(map[string]any{}).AssertStatus(http.StatusMethodNotAllowed)
	f.admin.Health().AssertField("name", "redeem-proxy")
	f.admin.Config().AssertBodyContains("/webhook/redeem")
}

func TestTicketPage(t *testing.T) {
	f := setup(t, nil)
	resp := f.proxy.Get("/ticket?uuid=abc%22%3C%2Fscript%3E").AssertStatus(http.StatusOK)
	if ct := resp.Headers.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html, got %s", ct)
	}
	body := string(resp.Body)
	if !strings.Contains(body, session.MessageIdle) || !strings.Contains(body, "800 ms") {
		t.Error("expected idle message and threshold on the page")
	}
	if strings.Contains(body, `abc"</script>`) {
		t.Error("reference must be escaped in the script context")
	}
}

func TestTicketPageWithoutReferenceRendersInvalid(t *testing.T) {
	f := setup(t, nil)
	for _, path := range []string{"/ticket", "/ticket?uuid=", "/ticket?uuid=%20%20"} {
		body := string(f.proxy.Get(path).AssertStatus(http.StatusOK).Body)
		if !strings.Contains(body, `data-state="invalid"`) {
			t.Errorf("%s: expected invalid state on the page", path)
		}
		if !strings.Contains(body, `data-affordance="blocked" disabled`) {
			t.Errorf("%s: expected a disabled button", path)
		}
		if !strings.Contains(body, session.MessageInvalid) || strings.Contains(body, session.MessageIdle) {
			t.Errorf("%s: expected the invalid message only", path)
		}
	}

	var state struct {
		Sessions []session.Surface `json:"sessions"`
	}
	f.admin.GetState().JSON(&state)
	if len(state.Sessions) != 0 {
		t.Errorf("expected no session opened, got %d", len(state.Sessions))
	}
}
