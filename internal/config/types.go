package config

import "time"

// Config represents the complete volley configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DispatchConfig is the default dispatch request. CLI flags and API overrides are
// applied on top of it.
type DispatchConfig struct {
	// Address is the remote step-execution endpoint.
	Address   string `yaml:"address"`
	Interface string `yaml:"interface"`
	Step      string `yaml:"step"`

	Channels  int           `yaml:"channels"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
	RunFor    time.Duration `yaml:"run_for"`

	// Deadline is an absolute RFC 3339 time. When empty the deadline is now + RunFor.
	Deadline string `yaml:"deadline,omitempty"`

	AuditLog   bool   `yaml:"audit_log"`
	ServerName string `yaml:"server_name"`
	LogDir     string `yaml:"log_dir"`

	// MaxChannels caps host capacity when positive.
	MaxChannels int `yaml:"max_channels,omitempty"`
}

// StateConfig defines history storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Listen        string        `yaml:"listen"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Auth          APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single admin bearer token with every scope.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with every optional field filled in.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "volley",
			LogLevel: "info",
		},
		Dispatch: DispatchConfig{
			Channels:  4,
			QueueSize: 100,
			Timeout:   30 * time.Second,
			RunFor:    5 * time.Minute,
			LogDir:    "./logs",
		},
		State: StateConfig{
			Path: "./data/history.db",
		},
		API: APIConfig{
			Listen:        "127.0.0.1:8080",
			MaxConcurrent: 2,
		},
	}
}
