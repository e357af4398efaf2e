// Package upstream delivers redemption requests to the workflow-automation
// webhook that owns ticket state. It sends exactly one request per call and
// hands back the raw response untouched; interpreting it is the caller's job.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Mode selects how the ticket reference travels to the webhook.
type Mode string

const (
	// ModeBody POSTs {"uuid": "<ref>"} as JSON.
	ModeBody Mode = "body"
	// ModeQuery POSTs with the reference as a query parameter and no body.
	ModeQuery Mode = "query"
)

// MaxBodyBytes caps how much of an upstream response is read.
const MaxBodyBytes = 1 << 20

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("upstream webhook URL not configured")

// Config configures the webhook client.
type Config struct {
	URL        string        // redemption webhook
	InfoURL    string        // optional ticket status webhook
	Mode       Mode          // defaults to ModeBody
	QueryParam string        // defaults to "t"
	Timeout    time.Duration // per request, defaults to 10s
	JWTSecret  string        // enables Authorization: Bearer <HS256 token>
	JWTIssuer  string        // defaults to "smoldrop-redeem"
	UserAgent  string
	Headers    map[string]string // static headers, e.g. an n8n header-auth key
}

// Response is the raw upstream answer.
type Response struct {
	StatusCode    int
	Body          []byte
	CorrelationID string
	Duration      time.Duration
}

// Client talks to the redemption and info webhooks.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client. The URL may be empty; calls then fail with
// ErrNotConfigured without touching the network.
func New(cfg Config) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModeBody
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "t"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "smoldrop-redeem"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "smoldrop-redeem/1"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether a redemption webhook URL is set.
func (c *Client) Configured() bool { return c.cfg.URL != "" }

// InfoConfigured reports whether a status webhook URL is set.
func (c *Client) InfoConfigured() bool { return c.cfg.InfoURL != "" }

// Mode returns the delivery mode in use.
func (c *Client) Mode() Mode { return c.cfg.Mode }

// Post sends one redemption request for ref.
func (c *Client) Post(ctx context.Context, ref string) (*Response, error) {
	if c.cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	target := c.cfg.URL
	var body io.Reader
	switch c.cfg.Mode {
	case ModeQuery:
		u, err := withQuery(target, c.cfg.QueryParam, ref)
		if err != nil {
			return nil, err
		}
		target = u
	default:
		payload, err := json.Marshal(map[string]string{"uuid": ref})
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, ref)
}

// Get asks the info webhook for the status of ref.
func (c *Client) Get(ctx context.Context, ref string) (*Response, error) {
	if c.cfg.InfoURL == "" {
		return nil, ErrNotConfigured
	}
	target, err := withQuery(c.cfg.InfoURL, c.cfg.QueryParam, ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req, ref)
}

func (c *Client) do(req *http.Request, ref string) (*Response, error) {
	correlationID := uuid.NewString()
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.5")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("X-Correlation-ID", correlationID)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if c.cfg.JWTSecret != "" {
		token, err := c.sign(ref, correlationID)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return &Response{
		StatusCode:    resp.StatusCode,
		Body:          data,
		CorrelationID: correlationID,
		Duration:      time.Since(start),
	}, nil
}

// sign issues a short-lived HS256 token scoped to one ticket.
func (c *Client) sign(ref, correlationID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.cfg.JWTIssuer,
		Subject:   ref,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		ID:        correlationID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign upstream token: %w", err)
	}
	return token, nil
}

func withQuery(raw, param, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse webhook URL: %w", err)
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
