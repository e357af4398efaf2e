// Package scenario loads and runs YAML or JSON redemption scenarios against
// a running proxy and webhook.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/smoldrop/redeem/internal/config"
)

// Scenario is one scenario file.
type Scenario struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Setup       Setup  `yaml:"setup" json:"setup"`
	Steps       []Step `yaml:"steps" json:"steps"`

	// dir is where the file lives; seed paths resolve against it.
	dir string
}

// Setup resets targets and loads state before the steps run.
type Setup struct {
	Reset []string          `yaml:"reset" json:"reset"`
	Seed  map[string]string `yaml:"seed" json:"seed"`
}

// Step is one request and its assertions. Capture copies top-level response
// fields into variables for later steps.
type Step struct {
	Name    string            `yaml:"name" json:"name"`
	Sleep   config.Duration   `yaml:"sleep" json:"sleep"`
	Request Request           `yaml:"request" json:"request"`
	Assert  Assert            `yaml:"assert" json:"assert"`
	Capture map[string]string `yaml:"capture" json:"capture"`
}

// Request is the HTTP request of a step.
type Request struct {
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	Body    string            `yaml:"body" json:"body"`
}

// Assert is what the response must look like.
type Assert struct {
	Status       int               `yaml:"status" json:"status"`
	BodyContains string            `yaml:"body_contains" json:"body_contains"`
	BodyJSON     map[string]string `yaml:"body_json" json:"body_json"`
	Absent       []string          `yaml:"absent" json:"absent"`
}

// LoadScenario parses a .yaml, .yml, .json or .jsonc scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}

	var s Scenario
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil {
			return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported scenario format %q (expected .yaml, .yml, .json or .jsonc)", ext)
	}

	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s: at least one step is required", path)
	}
	for i, step := range s.Steps {
		if step.Request.URL == "" {
			return nil, fmt.Errorf("scenario %s: step %d has no request url", path, i+1)
		}
	}
	s.dir = filepath.Dir(path)
	return &s, nil
}

// LoadDir loads every scenario file in dir, in name order.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory %s: %w", dir, err)
	}

	var scenarios []*Scenario
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json", ".jsonc":
		default:
			continue
		}
		s, err := LoadScenario(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}

	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}
	return scenarios, nil
}
