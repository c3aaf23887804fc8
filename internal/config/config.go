// Package config loads and validates the orchestrator service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number.
	MinPort = 1
	// MaxPort is the maximum valid port number.
	MaxPort = 65535
)

// Config represents the complete application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// OrchestratorConfig holds job orchestration configuration. It is immutable
// after construction; the orchestrator takes a copy.
type OrchestratorConfig struct {
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	WorkerCommand     string        `yaml:"worker_command"`
	WorkerScript      string        `yaml:"worker_script"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	RetentionWindow   time.Duration `yaml:"retention_window"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	KillGrace         time.Duration `yaml:"kill_grace"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
	MaxCaptureBytes   int           `yaml:"max_capture_bytes"`
	DefaultOutputDir  string        `yaml:"default_output_dir"`
}

// Default returns the configuration used when no config file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentJobs: 3,
			WorkerCommand:     "python3",
			WorkerScript:      "scripts/audio_transcript.py",
			JobTimeout:        30 * time.Minute,
			RetentionWindow:   time.Hour,
			SweepInterval:     time.Minute,
			KillGrace:         5 * time.Second,
			ShutdownGrace:     10 * time.Second,
			MaxCaptureBytes:   1 << 20,
			DefaultOutputDir:  "results",
		},
	}
}

// Load reads and parses the configuration file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Orchestrator.MaxConcurrentJobs < 1 {
		return fmt.Errorf("orchestrator max_concurrent_jobs must be at least 1")
	}

	if c.Orchestrator.WorkerCommand == "" {
		return fmt.Errorf("orchestrator worker_command is required")
	}

	if c.Orchestrator.WorkerScript == "" {
		return fmt.Errorf("orchestrator worker_script is required")
	}

	if c.Orchestrator.JobTimeout <= 0 {
		return fmt.Errorf("orchestrator job_timeout must be greater than 0")
	}

	if c.Orchestrator.RetentionWindow <= 0 {
		return fmt.Errorf("orchestrator retention_window must be greater than 0")
	}

	if c.Orchestrator.SweepInterval <= 0 {
		return fmt.Errorf("orchestrator sweep_interval must be greater than 0")
	}

	if c.Orchestrator.KillGrace <= 0 {
		return fmt.Errorf("orchestrator kill_grace must be greater than 0")
	}

	if c.Orchestrator.ShutdownGrace <= 0 {
		return fmt.Errorf("orchestrator shutdown_grace must be greater than 0")
	}

	if c.Orchestrator.MaxCaptureBytes <= 0 {
		return fmt.Errorf("orchestrator max_capture_bytes must be greater than 0")
	}

	return nil
}
