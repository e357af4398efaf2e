// Package config loads the redeem-proxy configuration. Settings are layered:
// defaults, then a YAML or JSON-with-comments file, then environment
// variables, then explicitly set command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/smoldrop/redeem/internal/upstream"
)

// Environment variables read by ApplyEnv.
const (
	EnvWebhookURL = "N8N_REDEEM_WEBHOOK_URL"
	EnvInfoURL    = "N8N_INFO_WEBHOOK_URL"
	EnvJWTSecret  = "N8N_WEBHOOK_JWT_SECRET"
	EnvPort       = "PORT"
)

// Duration is a time.Duration that reads "800ms" style strings from both
// YAML and JSON.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes d as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %s", data)
	}
	*d = Duration(ms * float64(time.Millisecond))
	return nil
}

// MarshalYAML encodes d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a number of milliseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if tag := value.ShortTag(); tag == "!!int" || tag == "!!float" {
		var ms float64
		if err := value.Decode(&ms); err != nil {
			return err
		}
		*d = Duration(ms * float64(time.Millisecond))
		return nil
	}
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Webhook configures the upstream workflow webhook.
type Webhook struct {
	URL        string            `yaml:"url" json:"url"`
	InfoURL    string            `yaml:"info_url,omitempty" json:"info_url,omitempty"`
	Mode       upstream.Mode     `yaml:"mode" json:"mode"`
	QueryParam string            `yaml:"query_param" json:"query_param"`
	Timeout    Duration          `yaml:"timeout" json:"timeout"`
	JWTSecret  string            `yaml:"jwt_secret,omitempty" json:"jwt_secret,omitempty"`
	JWTIssuer  string            `yaml:"jwt_issuer,omitempty" json:"jwt_issuer,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Session configures server-side hold sessions.
type Session struct {
	Threshold     Duration `yaml:"threshold" json:"threshold"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`
	TTL           Duration `yaml:"ttl" json:"ttl"`
	SweepInterval Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// Config is the full redeem-proxy configuration.
type Config struct {
	Port    int     `yaml:"port" json:"port"`
	Verbose bool    `yaml:"verbose" json:"verbose"`
	Webhook Webhook `yaml:"webhook" json:"webhook"`
	Session Session `yaml:"session" json:"session"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port: 8080,
		Webhook: Webhook{
			Mode:       upstream.ModeBody,
			QueryParam: "t",
			Timeout:    Duration(10 * time.Second),
		},
		Session: Session{
			Threshold:     Duration(800 * time.Millisecond),
			Timeout:       Duration(8 * time.Second),
			TTL:           Duration(15 * time.Minute),
			SweepInterval: Duration(time.Minute),
		},
	}
}

// Load returns the defaults overlaid with the file at path. An empty path
// skips the file. Files ending in .json or .jsonc are read as JSON with
// comments; anything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. Unset variables leave the
// current value alone.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvWebhookURL); ok {
		c.Webhook.URL = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvInfoURL); ok {
		c.Webhook.InfoURL = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvJWTSecret); ok {
		c.Webhook.JWTSecret = v
	}
	if v, ok := os.LookupEnv(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: not a port number", EnvPort, v)
		}
		c.Port = port
	}
	return nil
}

// Flags holds the command-line overrides. Bind them before parsing, then
// call Apply after the file and environment have been loaded.
type Flags struct {
	fs         *pflag.FlagSet
	ConfigPath string
	port       int
	verbose    bool
	webhookURL string
	mode       string
	threshold  time.Duration
}

// BindFlags registers the proxy flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "config file (.yaml, .json or .jsonc)")
	fs.IntVarP(&f.port, "port", "p", 0, "HTTP listen port")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	fs.StringVar(&f.webhookURL, "webhook-url", "", "redemption webhook URL (overrides $"+EnvWebhookURL+")")
	fs.StringVar(&f.mode, "mode", "", "how the reference is sent upstream: body or query")
	fs.DurationVar(&f.threshold, "threshold", 0, "hold duration required to confirm")
	return f
}

// Apply copies every flag the user set explicitly onto c.
func (f *Flags) Apply(c *Config) {
	if f.fs.Changed("port") {
		c.Port = f.port
	}
	if f.fs.Changed("verbose") {
		c.Verbose = f.verbose
	}
	if f.fs.Changed("webhook-url") {
		c.Webhook.URL = f.webhookURL
	}
	if f.fs.Changed("mode") {
		c.Webhook.Mode = upstream.Mode(f.mode)
	}
	if f.fs.Changed("threshold") {
		c.Session.Threshold = Duration(f.threshold)
	}
}

// Validate reports every problem with c at once. A missing webhook URL is
// not an error: the proxy starts and answers NOT_CONFIGURED.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Webhook.Mode {
	case upstream.ModeBody, upstream.ModeQuery:
	default:
		errs = append(errs, fmt.Errorf("webhook.mode %q: must be body or query", c.Webhook.Mode))
	}
	if c.Webhook.Mode == upstream.ModeQuery && c.Webhook.QueryParam == "" {
		errs = append(errs, errors.New("webhook.query_param is required in query mode"))
	}
	if err := checkURL("webhook.url", c.Webhook.URL); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("webhook.info_url", c.Webhook.InfoURL); err != nil {
		errs = append(errs, err)
	}
	if c.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("webhook.timeout must be positive"))
	}
	if c.Session.Threshold <= 0 {
		errs = append(errs, errors.New("session.threshold must be positive"))
	}
	if c.Session.Timeout <= 0 {
		errs = append(errs, errors.New("session.timeout must be positive"))
	}
	if c.Session.TTL < 0 || c.Session.SweepInterval < 0 {
		errs = append(errs, errors.New("session.ttl and session.sweep_interval must not be negative"))
	}
	return errors.Join(errs...)
}

func checkURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q: must be an absolute http(s) URL", field, raw)
	}
	return nil
}

// Upstream returns the webhook client settings.
func (c *Config) Upstream() upstream.Config {
	return upstream.Config{
		URL:        c.Webhook.URL,
		InfoURL:    c.Webhook.InfoURL,
		Mode:       c.Webhook.Mode,
		QueryParam: c.Webhook.QueryParam,
		Timeout:    c.Webhook.Timeout.Std(),
		JWTSecret:  c.Webhook.JWTSecret,
		JWTIssuer:  c.Webhook.JWTIssuer,
		Headers:    c.Webhook.Headers,
	}
}

// Redacted returns a copy safe to expose on the admin config endpoint.
func (c *Config) Redacted() Config {
	out := *c
	if out.Webhook.JWTSecret != "" {
		out.Webhook.JWTSecret = "***"
	}
	if len(out.Webhook.Headers) > 0 {
		h := make(map[string]string, len(out.Webhook.Headers))
		for k := range out.Webhook.Headers {
			h[k] = "***"
		}
		out.Webhook.Headers = h
	}
	return out
}
