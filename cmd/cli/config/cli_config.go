package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// CLIConfig holds settings shared by every command
type CLIConfig struct {
	ServerURL     string                   `mapstructure:"server_url" yaml:"server_url"`
	DefaultFormat string                   `mapstructure:"default_format" yaml:"default_format"`
	Timeout       time.Duration            `mapstructure:"timeout" yaml:"timeout"`
	Analytics     *analytics.EngineConfig  `mapstructure:"analytics" yaml:"analytics"`
	Source        interfaces.StorageConfig `mapstructure:"source" yaml:"source"`
	Preferences   Preferences              `mapstructure:"preferences" yaml:"preferences"`
}

type Preferences struct {
	TimeZone string `mapstructure:"timezone" yaml:"timezone"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose"`
}

// NewDefaultConfig returns the configuration used when no file is present.
// An empty server URL runs analyses in-process.
func NewDefaultConfig() *CLIConfig {
	return &CLIConfig{
		DefaultFormat: constants.OutputFormatText,
		Timeout:       constants.DefaultRequestTimeout,
		Analytics:     analytics.NewDefaultEngineConfig(),
		Source: interfaces.StorageConfig{
			Type:    constants.StorageTypeNone,
			Timeout: constants.DefaultStorageTimeout,
		},
		Preferences: Preferences{
			TimeZone: "UTC",
		},
	}
}

// LoadConfig reads the CLI configuration file and TSFORECAST_* variables.
// A missing default file is not an error; a missing explicit file is.
func LoadConfig(cfgFile string) (*CLIConfig, error) {
	config := NewDefaultConfig()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		v.AddConfigPath(filepath.Join(home, ".tsforecast"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", config.ServerURL)
	v.SetDefault("default_format", config.DefaultFormat)
	v.SetDefault("timeout", config.Timeout)
	v.SetDefault("source.type", config.Source.Type)
	v.SetDefault("source.connection_string", config.Source.ConnectionString)
	v.SetDefault("source.timeout", config.Source.Timeout)
	v.SetDefault("preferences.timezone", config.Preferences.TimeZone)
	v.SetDefault("preferences.verbose", config.Preferences.Verbose)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Analytics.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analytics configuration: %w", err)
	}

	return config, nil
}

// SaveConfig writes the configuration as YAML
func SaveConfig(config *CLIConfig, cfgFile string) error {
	if cfgFile == "" {
		cfgFile = GetDefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(cfgFile), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	v := viper.New()
	v.Set("server_url", config.ServerURL)
	v.Set("default_format", config.DefaultFormat)
	v.Set("timeout", config.Timeout.String())
	v.Set("source", map[string]interface{}{
		"type":              config.Source.Type,
		"connection_string": config.Source.ConnectionString,
		"timeout":           config.Source.Timeout.String(),
	})
	v.Set("preferences", map[string]interface{}{
		"timezone": config.Preferences.TimeZone,
		"verbose":  config.Preferences.Verbose,
	})

	return v.WriteConfigAs(cfgFile)
}

func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tsforecast", "config.yaml")
}
