package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without
	// extension).
	ConfigFileName = "docmark"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "DOCMARK"
)

// Loader handles loading configuration from its various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a configuration loader. It uses the global viper
// instance so that cobra flag bindings take effect.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// GetViper exposes the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper { return l.v }

// Load reads configuration from files, environment variables and
// defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.load("")
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}
	return l.load(configFile)
}

func (l *Loader) load(configFile string) (*Config, error) {
	if configFile != "" {
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "docmark"))
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath("/etc/docmark")
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log_level", "info")
	l.v.SetDefault("verbose", false)

	l.v.SetDefault("server.host", "localhost")
	l.v.SetDefault("server.port", 8000)
	l.v.SetDefault("server.cors_origin", "*")
	l.v.SetDefault("server.max_upload_mb", 100)
	l.v.SetDefault("server.timeout_sec", 60)
	l.v.SetDefault("server.shutdown_timeout", 10)

	l.v.SetDefault("tasks.max_concurrent", 8)
	l.v.SetDefault("tasks.data_dir", filepath.Join(os.TempDir(), "docmark"))

	l.v.SetDefault("pipeline.dpi", 144)
	l.v.SetDefault("pipeline.prep_workers", 64)
	l.v.SetDefault("pipeline.skip_unterminated", true)
	l.v.SetDefault("pipeline.annotate", true)

	l.v.SetDefault("recognizer.endpoint", "http://localhost:9000")
	l.v.SetDefault("recognizer.timeout_sec", int(10*time.Minute/time.Second))
	l.v.SetDefault("recognizer.instruction", "")
}
