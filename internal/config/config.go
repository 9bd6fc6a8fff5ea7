// Package config loads and validates the iris configuration file.
//
// The file lives at <IRIS_HOME>/config.json unless IRIS_CONFIG_PATH points
// elsewhere. Relative team paths are resolved against the config file's
// directory.
package config

import (
	"regexp"
	"sort"
	"time"
)

// Defaults applied when settings are absent from the file.
const (
	DefaultHTTPPort            = 1615
	DefaultMaxProcesses        = 10
	DefaultIdleTimeoutMs       = 30 * 60 * 1000
	DefaultHealthCheckMs       = 30 * 1000
	DefaultSessionInitMs       = 60 * 1000
	DefaultTransport           = "stdio"
	MinMaxProcesses            = 1
	MaxMaxProcesses            = 50
	DefaultQueueCapacity       = 100
	DefaultResponseTimeoutMs   = 5 * 60 * 1000
	DefaultRateLimitPerSec     = 0 // disabled
	DefaultRateLimitBurst      = 1
)

// colorRegex matches #RRGGBB team colors.
var colorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Settings holds orchestrator-wide tunables.
type Settings struct {
	IdleTimeout         int64   `json:"idleTimeout"`         // ms a process may sit idle
	MaxProcesses        int     `json:"maxProcesses"`        // pool capacity, 1..50
	HealthCheckInterval int64   `json:"healthCheckInterval"` // ms between health ticks
	SessionInitTimeout  int64   `json:"sessionInitTimeout"`  // ms to wait for the init frame
	HTTPPort            int     `json:"httpPort"`            // 1..65535
	DefaultTransport    string  `json:"defaultTransport"`    // stdio | http
	QueueCapacity       int     `json:"queueCapacity"`       // async queue soft bound
	RateLimitPerSecond  float64 `json:"rateLimitPerSecond"`  // tells/sec per caller, 0 disables
	RateLimitBurst      int     `json:"rateLimitBurst"`
}

// Dashboard configures the optional HTTP status surface.
type Dashboard struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Host    string `json:"host"`
}

// Team describes one configured team directory.
type Team struct {
	Name               string   `json:"-"`
	Path               string   `json:"path"`
	Description        string   `json:"description,omitempty"`
	IdleTimeout        int64    `json:"idleTimeout,omitempty"`        // ms, overrides Settings
	SessionInitTimeout int64    `json:"sessionInitTimeout,omitempty"` // ms, overrides Settings
	SkipPermissions    bool     `json:"skipPermissions,omitempty"`
	Remote             string   `json:"remote,omitempty"` // "ssh [opts] host" prefix
	ClaudePath         string   `json:"claudePath,omitempty"`
	AllowedTools       []string `json:"allowedTools,omitempty"`
	DisallowedTools    []string `json:"disallowedTools,omitempty"`
	Color              string   `json:"color,omitempty"` // #RRGGBB
}

// IsRemote reports whether the team runs its agent over SSH.
func (t *Team) IsRemote() bool { return t.Remote != "" }

// IdleTimeoutOr returns the team's idle timeout, falling back to def.
func (t *Team) IdleTimeoutOr(def int64) time.Duration {
	if t.IdleTimeout > 0 {
		return time.Duration(t.IdleTimeout) * time.Millisecond
	}
	return time.Duration(def) * time.Millisecond
}

// InitTimeoutOr returns the team's session init timeout, falling back to def.
func (t *Team) InitTimeoutOr(def int64) time.Duration {
	if t.SessionInitTimeout > 0 {
		return time.Duration(t.SessionInitTimeout) * time.Millisecond
	}
	return time.Duration(def) * time.Millisecond
}

// Config is the loaded, validated configuration.
type Config struct {
	Settings  Settings         `json:"settings"`
	Dashboard *Dashboard       `json:"dashboard,omitempty"`
	Teams     map[string]*Team `json:"teams"`

	// Dir is the directory the config file was loaded from.
	Dir string `json:"-"`
}

// Team returns the named team, if configured.
func (c *Config) Team(name string) (*Team, bool) {
	t, ok := c.Teams[name]
	return t, ok
}

// TeamNames returns the configured team names in stable order.
func (c *Config) TeamNames() []string {
	names := make([]string, 0, len(c.Teams))
	for name := range c.Teams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
