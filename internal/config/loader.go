package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/volley/internal/auth"
	"github.com/mattjoyce/volley/internal/dispatch"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, verifies and validates the configuration at configPath.
// A directory is taken to contain config.yaml. When a .checksums manifest sits next
// to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// LoadUnverified is Load without the checksum check, for re-locking an edited file.
func LoadUnverified(configPath string) (*Config, error) {
	return load(configPath, false)
}

func load(configPath string, verify bool) (*Config, error) {
	path, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}

	if verify {
		if err := VerifyChecksums(path); err != nil && !errors.Is(err, ErrNoManifest) {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.SourcePath = path
	return cfg, nil
}

// Parse decodes YAML on top of Defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolvePath(configPath string) (string, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\nHint: check the path or pass --config", abs)
	}
	if info.IsDir() {
		abs = filepath.Join(abs, "config.yaml")
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", abs)
		}
	}
	return abs, nil
}

// interpolateEnv replaces ${VAR} with environment variable values. Unset variables are
// left in place so validate can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

func validate(cfg *Config) error {
	d := cfg.Dispatch
	switch {
	case d.Interface == "":
		return fmt.Errorf("dispatch.interface is required")
	case d.Step == "":
		return fmt.Errorf("dispatch.step is required")
	case d.Channels < 1:
		return fmt.Errorf("dispatch.channels must be at least 1 (got %d)", d.Channels)
	case d.QueueSize < 0:
		return fmt.Errorf("dispatch.queue_size must not be negative (got %d)", d.QueueSize)
	case d.Timeout <= 0:
		return fmt.Errorf("dispatch.timeout must be positive")
	case d.Deadline == "" && d.RunFor <= 0:
		return fmt.Errorf("dispatch.run_for must be positive when dispatch.deadline is not set")
	case d.MaxChannels < 0:
		return fmt.Errorf("dispatch.max_channels must not be negative")
	}
	if d.Deadline != "" {
		if _, err := time.Parse(time.RFC3339, d.Deadline); err != nil {
			return fmt.Errorf("dispatch.deadline: %w", err)
		}
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth needs an api_key or at least one token when the API is enabled")
		}
		if cfg.API.MaxConcurrent < 1 {
			return fmt.Errorf("api.max_concurrent must be at least 1")
		}
	}
	for i, tok := range cfg.API.Auth.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d]: token is empty", i)
		}
		for _, scope := range tok.Scopes {
			if !auth.KnownScope(scope) {
				return fmt.Errorf("api.auth.tokens[%d]: unknown scope %q", i, scope)
			}
		}
	}

	return checkUnresolvedEnvVars(map[string]string{
		"dispatch.address":  d.Address,
		"dispatch.log_dir":  d.LogDir,
		"state.path":        cfg.State.Path,
		"api.auth.api_key":  cfg.API.Auth.APIKey,
		"dispatch.deadline": d.Deadline,
	})
}

// checkUnresolvedEnvVars rejects ${VAR} placeholders that survived interpolation.
func checkUnresolvedEnvVars(fields map[string]string) error {
	for key, value := range fields {
		if m := envVarPattern.FindStringSubmatch(value); m != nil {
			return fmt.Errorf("%s: environment variable ${%s} is not set", key, m[1])
		}
	}
	return nil
}

// Overrides are per-run adjustments from CLI flags or an API request. Zero values keep
// the configured setting.
type Overrides struct {
	Channels  int
	QueueSize *int
	Timeout   time.Duration
	RunFor    time.Duration
	Deadline  time.Time
	AuditLog  *bool
}

// Request builds a dispatch request from the configuration at time now.
func (c *Config) Request(now time.Time, o Overrides) (dispatch.Request, error) {
	d := c.Dispatch
	req := dispatch.Request{
		TotalWork:  d.QueueSize,
		Channels:   d.Channels,
		Timeout:    d.Timeout,
		AuditLog:   d.AuditLog,
		Interface:  d.Interface,
		Step:       d.Step,
		Address:    d.Address,
		ServerName: d.ServerName,
		LogDir:     d.LogDir,
	}
	if req.ServerName == "" {
		req.ServerName, _ = os.Hostname()
	}

	if o.Channels > 0 {
		req.Channels = o.Channels
	}
	if o.QueueSize != nil {
		req.TotalWork = *o.QueueSize
	}
	if o.Timeout > 0 {
		req.Timeout = o.Timeout
	}
	if o.AuditLog != nil {
		req.AuditLog = *o.AuditLog
	}

	switch {
	case !o.Deadline.IsZero():
		req.Deadline = o.Deadline
	case o.RunFor > 0:
		req.Deadline = now.Add(o.RunFor)
	case d.Deadline != "":
		t, err := time.Parse(time.RFC3339, d.Deadline)
		if err != nil {
			return dispatch.Request{}, fmt.Errorf("dispatch.deadline: %w", err)
		}
		req.Deadline = t
	default:
		req.Deadline = now.Add(d.RunFor)
	}

	if err := req.Validate(); err != nil {
		return dispatch.Request{}, err
	}
	return req, nil
}

// TokenConfigs converts configured API tokens for the auth package.
func (c *Config) TokenConfigs() []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(c.API.Auth.Tokens))
	for _, t := range c.API.Auth.Tokens {
		scopes := make([]string, 0, len(t.Scopes))
		for _, s := range t.Scopes {
			scopes = append(scopes, strings.TrimSpace(s))
		}
		out = append(out, auth.TokenConfig{Token: t.Token, Scopes: scopes})
	}
	return out
}
