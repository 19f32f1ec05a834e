package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/deskwright/shellcore/internal/logger"
)

// Config is the daemon configuration, loaded from an optional TOML file and
// then overridden from the environment. The command allow-list is not here on
// purpose: it is a closed, versioned set compiled into the validator.
type Config struct {
	Listen      string        `mapstructure:"listen"`       // bridge bind address
	BasePath    string        `mapstructure:"base_path"`    // bridge route prefix
	LogLevel    string        `mapstructure:"log_level"`    // debug|info|warn|error
	ArtifactDir string        `mapstructure:"artifact_dir"` // sidecar pid/status artifacts
	StartupWait time.Duration `mapstructure:"startup_wait"` // soft sidecar readiness window
	Env         []string      `mapstructure:"env"`          // daemon globals passed to sidecars

	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Sidecars   []SidecarConfig  `mapstructure:"sidecars"`
}

type SupervisorConfig struct {
	ExecPath      string        `mapstructure:"exec_path"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxRuntime    time.Duration `mapstructure:"max_runtime"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	Retention     time.Duration `mapstructure:"retention"`
}

type SidecarConfig struct {
	Name        string        `mapstructure:"name"`
	Command     []string      `mapstructure:"command"`
	WorkDir     string        `mapstructure:"workdir"`
	Env         []string      `mapstructure:"env"`
	ReadyMarker string        `mapstructure:"ready_marker"`
	HealthURL   string        `mapstructure:"health_url"`
	Log         logger.Config `mapstructure:"log"`
}

// overrides is the environment surface, prefixed SHELLCORE_. DatabaseURL is
// not consumed by the daemon itself; it is forwarded into the sidecar
// environment so the backend can reach its store.
type overrides struct {
	Listen      string `envconfig:"LISTEN"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	ArtifactDir string `envconfig:"ARTIFACT_DIR"`
	CLIPath     string `envconfig:"CLI_PATH"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	BackendPort int    `envconfig:"BACKEND_PORT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:      "127.0.0.1:8370",
		BasePath:    "/api",
		LogLevel:    "info",
		ArtifactDir: "run",
		StartupWait: 30 * time.Second,
		Supervisor: SupervisorConfig{
			MaxConcurrent: 8,
			MaxRuntime:    5 * time.Minute,
			GracePeriod:   3 * time.Second,
			Retention:     30 * time.Second,
		},
	}
}

// Load reads the TOML file at path (optional; empty path skips the file) and
// applies SHELLCORE_* environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	var o overrides
	if err := envconfig.Process("shellcore", &o); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if o.Listen != "" {
		cfg.Listen = o.Listen
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.ArtifactDir != "" {
		cfg.ArtifactDir = o.ArtifactDir
	}
	if o.CLIPath != "" {
		cfg.Supervisor.ExecPath = o.CLIPath
	}
	if o.DatabaseURL != "" {
		cfg.Env = append(cfg.Env, "DATABASE_URL="+o.DatabaseURL)
	}
	if o.BackendPort > 0 {
		cfg.Env = append(cfg.Env, fmt.Sprintf("BACKEND_PORT=%d", o.BackendPort))
	}
	return cfg, nil
}
