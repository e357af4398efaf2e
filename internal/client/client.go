// Package client talks to a running redeem-proxy over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smoldrop/redeem/internal/api"
	"github.com/smoldrop/redeem/internal/redeem"
)

// Client calls the proxy API. Its Redeem method satisfies session.Redeemer,
// so a local Machine can drive a remote proxy.
type Client struct {
	base string
	http *http.Client
}

// New creates a Client for the proxy at baseURL. A zero timeout means 15s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Redeem calls POST /redeem. Like the proxy itself it never fails: transport
// problems come back as an UPSTREAM_UNREACHABLE outcome.
func (c *Client) Redeem(ctx context.Context, ref string) redeem.Outcome {
	body, _ := json.Marshal(map[string]string{"uuid": ref})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/redeem", bytes.NewReader(body))
	if err != nil {
		return redeem.Failure(redeem.ReasonServerError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		out := redeem.Failure(redeem.ReasonUpstreamUnreachable, string(redeem.CodeServerError))
		if errors.Is(err, context.DeadlineExceeded) {
			out.Message = "PROXY_TIMEOUT"
		}
		return out
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return redeem.Failure(redeem.ReasonUpstreamUnreachable, string(redeem.CodeServerError))
	}

	var rr api.RedeemResponse
	if err := json.Unmarshal(data, &rr); err != nil || rr.Code == "" {
		out := redeem.Failure(redeem.ReasonServerError, fmt.Sprintf("PROXY_HTTP_%d", resp.StatusCode))
		out.Status = resp.StatusCode
		if text := strings.TrimSpace(string(data)); text != "" {
			out.Payload = text
		}
		return out
	}

	out := redeem.Outcome{
		OK:      rr.OK,
		Code:    rr.Code,
		Reason:  rr.Reason,
		Message: rr.Error,
		Result:  rr.Result,
		Status:  resp.StatusCode,
		Payload: rr.Data,
	}
	if !out.OK && out.Reason == redeem.ReasonNone {
		out.Reason = redeem.ReasonServerError
	}
	return out
}

// Status calls GET /ticket/status.
func (c *Client) Status(ctx context.Context, ref string) (redeem.StatusReport, error) {
	u := c.base + "/ticket/status?" + url.Values{"uuid": {ref}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return redeem.StatusReport{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return redeem.StatusReport{}, fmt.Errorf("ticket status: %w", err)
	}
	defer resp.Body.Close()

	var report redeem.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return redeem.StatusReport{}, fmt.Errorf("decoding ticket status (HTTP %d): %w", resp.StatusCode, err)
	}
	report.HTTPStatus = resp.StatusCode
	return report, nil
}

// Health checks GET /admin/health and returns the body or the error text.
func (c *Client) Health(ctx context.Context) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/admin/health", nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		return true, strings.TrimSpace(string(body))
	}
	return false, fmt.Sprintf("status %d: %s", resp.StatusCode, body)
}
