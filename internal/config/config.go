// Package config provides the complete configuration for the docmark
// service, loaded from configuration files, environment variables and
// command-line flags.
package config

import (
	"fmt"
)

// Config is the root configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Server     ServerConfig     `mapstructure:"server" yaml:"server" json:"server"`
	Tasks      TasksConfig      `mapstructure:"tasks" yaml:"tasks" json:"tasks"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// TasksConfig contains task management settings.
type TasksConfig struct {
	// MaxConcurrent bounds how many conversions run at once.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent" json:"max_concurrent"`
	// DataDir is the root directory for per-task working directories.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
}

// PipelineConfig contains conversion pipeline settings.
type PipelineConfig struct {
	DPI              int  `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	PrepWorkers      int  `mapstructure:"prep_workers" yaml:"prep_workers" json:"prep_workers"`
	SkipUnterminated bool `mapstructure:"skip_unterminated" yaml:"skip_unterminated" json:"skip_unterminated"`
	Annotate         bool `mapstructure:"annotate" yaml:"annotate" json:"annotate"`
}

// RecognizerConfig contains settings for the remote recognition server.
type RecognizerConfig struct {
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	// Instruction overrides the default conversion prompt.
	Instruction string `mapstructure:"instruction" yaml:"instruction" json:"instruction"`
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0, got %d", c.Server.MaxUploadMB)
	}
	if c.Tasks.MaxConcurrent <= 0 {
		return fmt.Errorf("tasks.max_concurrent must be > 0, got %d", c.Tasks.MaxConcurrent)
	}
	if c.Tasks.DataDir == "" {
		return fmt.Errorf("tasks.data_dir is empty")
	}
	if c.Pipeline.DPI <= 0 {
		return fmt.Errorf("pipeline.dpi must be > 0, got %d", c.Pipeline.DPI)
	}
	if c.Pipeline.PrepWorkers <= 0 {
		return fmt.Errorf("pipeline.prep_workers must be > 0, got %d", c.Pipeline.PrepWorkers)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	return nil
}
