package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// FileAppenderOpt configures the rotated log file
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// RunSettings are the choices of a run that are not part of the experiment
type RunSettings struct {
	End         float64         `mapstructure:"end"`
	Lookahead   float64         `mapstructure:"lookahead"`
	LogLevel    string          `mapstructure:"log_level"`
	Trace       string          `mapstructure:"trace"`
	MetricsAddr string          `mapstructure:"metrics_addr"`
	Report      bool            `mapstructure:"report"`
	LogFile     FileAppenderOpt `mapstructure:"log_file"`
}

// loadSettings reads the settings file, if one is named, and overlays
// environment variables prefixed ANESIM_ (ANESIM_LOG_LEVEL, ANESIM_LOG_FILE_MAX_SIZE, ...)
func loadSettings(path string) (*RunSettings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("ANESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var settings RunSettings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if !(settings.End > 0) {
		return nil, fmt.Errorf("end time %g must be positive", settings.End)
	}
	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("end", 10.0)
	v.SetDefault("lookahead", 0.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("trace", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("report", true)
	v.SetDefault("log_file.filename", "")
	v.SetDefault("log_file.max_size", 100)
	v.SetDefault("log_file.max_backups", 3)
	v.SetDefault("log_file.max_age", 28)
	v.SetDefault("log_file.compress", false)
}
