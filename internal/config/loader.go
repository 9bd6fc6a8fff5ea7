package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/HyphaGroup/iris/internal/iriserr"
	"github.com/HyphaGroup/iris/internal/validation"
)

// Home resolves the iris home directory. IRIS_HOME overrides the default
// of ~/.iris.
func Home() string {
	if home := os.Getenv("IRIS_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".iris"
	}
	return filepath.Join(userHome, ".iris")
}

// ConfigPath resolves the config file location. IRIS_CONFIG_PATH overrides
// the default of <IRIS_HOME>/config.json.
func ConfigPath() string {
	if path := os.Getenv("IRIS_CONFIG_PATH"); path != "" {
		return path
	}
	return filepath.Join(Home(), "config.json")
}

// DatabasePath returns the session store location under the iris home.
func DatabasePath() string {
	return filepath.Join(Home(), "session-manager.db")
}

// LogDir returns the log directory under the iris home.
func LogDir() string {
	return filepath.Join(Home(), "logs")
}

// Load reads and validates the config file at the default location.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads and validates a config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, iriserr.Wrap(iriserr.KindConfiguration, err, "cannot read config file %s", path)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, iriserr.Wrap(iriserr.KindConfiguration, err, "invalid JSON in %s", path)
	}

	cfg.Dir = filepath.Dir(path)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	s := &cfg.Settings
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeoutMs
	}
	if s.MaxProcesses == 0 {
		s.MaxProcesses = DefaultMaxProcesses
	}
	if s.HealthCheckInterval == 0 {
		s.HealthCheckInterval = DefaultHealthCheckMs
	}
	if s.SessionInitTimeout == 0 {
		s.SessionInitTimeout = DefaultSessionInitMs
	}
	if s.HTTPPort == 0 {
		s.HTTPPort = DefaultHTTPPort
	}
	if s.DefaultTransport == "" {
		s.DefaultTransport = DefaultTransport
	}
	if s.QueueCapacity == 0 {
		s.QueueCapacity = DefaultQueueCapacity
	}
	if s.RateLimitBurst == 0 {
		s.RateLimitBurst = DefaultRateLimitBurst
	}
	if cfg.Teams == nil {
		cfg.Teams = make(map[string]*Team)
	}
	for name, team := range cfg.Teams {
		team.Name = name
		if team.ClaudePath == "" {
			team.ClaudePath = "claude"
		}
		// Relative team paths are resolved against the config directory.
		if team.Path != "" && !filepath.IsAbs(team.Path) {
			team.Path = filepath.Join(cfg.Dir, team.Path)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("IRIS_HTTP_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Settings.HTTPPort = n
		}
	}
}

func validate(cfg *Config) error {
	s := cfg.Settings
	if s.MaxProcesses < MinMaxProcesses || s.MaxProcesses > MaxMaxProcesses {
		return iriserr.New(iriserr.KindConfiguration,
			"settings.maxProcesses must be %d..%d, got %d", MinMaxProcesses, MaxMaxProcesses, s.MaxProcesses)
	}
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return iriserr.New(iriserr.KindConfiguration, "settings.httpPort must be 1..65535, got %d", s.HTTPPort)
	}
	if s.DefaultTransport != "stdio" && s.DefaultTransport != "http" {
		return iriserr.New(iriserr.KindConfiguration, "settings.defaultTransport must be stdio or http, got %q", s.DefaultTransport)
	}
	if s.IdleTimeout < 0 || s.HealthCheckInterval < 0 || s.SessionInitTimeout < 0 {
		return iriserr.New(iriserr.KindConfiguration, "settings timeouts must be non-negative")
	}

	for name, team := range cfg.Teams {
		if err := validation.ValidateTeamName(name); err != nil {
			return iriserr.Wrap(iriserr.KindConfiguration, err, "invalid team name %q", name)
		}
		if team.Path == "" {
			return iriserr.New(iriserr.KindConfiguration, "team %q: path is required", name)
		}
		if !filepath.IsAbs(team.Path) {
			return iriserr.New(iriserr.KindConfiguration, "team %q: path must be absolute after resolution: %s", name, team.Path)
		}
		if team.Color != "" && !colorRegex.MatchString(team.Color) {
			return iriserr.New(iriserr.KindConfiguration, "team %q: color must be #RRGGBB, got %q", name, team.Color)
		}
	}
	return nil
}
