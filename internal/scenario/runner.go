package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StepResult records the outcome of a single step.
type StepResult struct {
	Name     string
	Passed   bool
	Duration time.Duration
	Error    string // empty when passed
}

// Result records the outcome of an entire scenario.
type Result struct {
	ScenarioName string
	Passed       bool
	Steps        []StepResult
	Duration     time.Duration
}

// Runner executes scenarios against named base URLs, typically "proxy" and
// "twin".
type Runner struct {
	targets map[string]string
	http    *http.Client
}

// NewRunner creates a Runner. A nil client gets one with a 10s timeout.
func NewRunner(targets map[string]string, client *http.Client) *Runner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	t := make(map[string]string, len(targets))
	for k, v := range targets {
		t[k] = strings.TrimRight(v, "/")
	}
	return &Runner{targets: t, http: client}
}

// Run executes a scenario. Steps keep running after a failure so the report
// shows every broken step; a setup failure aborts the scenario.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	start := time.Now()
	result := &Result{ScenarioName: s.Name, Passed: true}

	if err := r.runSetup(ctx, s); err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}

	vars := map[string]string{}
	for i := range s.Steps {
		sr := r.runStep(ctx, &s.Steps[i], vars)
		result.Steps = append(result.Steps, sr)
		if !sr.Passed {
			result.Passed = false
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runner) target(name string) (string, error) {
	base, ok := r.targets[name]
	if !ok {
		return "", fmt.Errorf("unknown target %q", name)
	}
	return base, nil
}

func (r *Runner) runSetup(ctx context.Context, s *Scenario) error {
	for _, name := range s.Setup.Reset {
		base, err := r.target(name)
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		if err := r.post(ctx, base+"/admin/reset", nil); err != nil {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}

	names := make([]string, 0, len(s.Setup.Seed))
	for name := range s.Setup.Seed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		base, err := r.target(name)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		path := s.Setup.Seed[name]
		if !filepath.IsAbs(path) && s.dir != "" {
			path = filepath.Join(s.dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		if err := r.post(ctx, base+"/admin/state", data); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}
	return nil
}

func (r *Runner) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, step *Step, vars map[string]string) StepResult {
	start := time.Now()
	sr := StepResult{Name: step.Name}
	fail := func(format string, args ...any) StepResult {
		sr.Error = fmt.Sprintf(format, args...)
		sr.Duration = time.Since(start)
		return sr
	}

	if d := step.Sleep.Std(); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return fail("cancelled: %v", ctx.Err())
		}
	}

	url, err := Expand(step.Request.URL, r.targets, vars)
	if err != nil {
		return fail("template expansion: %v", err)
	}
	body, err := Expand(step.Request.Body, r.targets, vars)
	if err != nil {
		return fail("template expansion in body: %v", err)
	}

	method := step.Request.Method
	if method == "" {
		method = http.MethodGet
	}
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fail("building request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range step.Request.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail("reading response body: %v", err)
	}

	if step.Assert.Status != 0 && resp.StatusCode != step.Assert.Status {
		return fail("expected status %d, got %d", step.Assert.Status, resp.StatusCode)
	}
	if step.Assert.BodyContains != "" && !strings.Contains(string(respBody), step.Assert.BodyContains) {
		return fail("body does not contain %q", step.Assert.BodyContains)
	}

	if len(step.Assert.BodyJSON) > 0 || len(step.Assert.Absent) > 0 || len(step.Capture) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return fail("body is not a JSON object: %v", err)
		}
		for key, expected := range step.Assert.BodyJSON {
			actual, ok := parsed[key]
			if !ok {
				return fail("body_json: key %q not found in response", key)
			}
			if got := fmt.Sprintf("%v", actual); got != expected {
				return fail("body_json: key %q expected %q, got %q", key, expected, got)
			}
		}
		for _, key := range step.Assert.Absent {
			if v, ok := parsed[key]; ok && v != nil {
				return fail("absent: key %q present with %v", key, v)
			}
		}
		for name, key := range step.Capture {
			v, ok := parsed[key]
			if !ok {
				return fail("capture: key %q not found in response", key)
			}
			vars[name] = fmt.Sprintf("%v", v)
		}
	}

	sr.Passed = true
	sr.Duration = time.Since(start)
	return sr
}
