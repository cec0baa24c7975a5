package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the nexttoken configuration file
// ($XDG_CONFIG_HOME/nexttoken/config.yaml). Pointer fields distinguish
// "not set" from zero values.
type Config struct {
	DataDir             string `yaml:"data_dir"`
	TokenizerPath       string `yaml:"tokenizer_json"`
	TokenizerConfigPath string `yaml:"tokenizer_config"`
	ModelPath           string `yaml:"model"`
	GenAIConfigPath     string `yaml:"genai_config"`
	LibraryPath         string `yaml:"library_path"`

	Prompt         string `yaml:"prompt"`
	Provider       string `yaml:"provider"`
	DeviceID       *int64 `yaml:"device_id"`
	IntraOpThreads *int64 `yaml:"threads"`
	MetricsFile    string `yaml:"metrics_file"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// flagSetter reports whether a flag was set on the command line or
// through its environment source.
type flagSetter interface {
	IsSet(name string) bool
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nexttoken", "config.yaml")
}

// loadConfig reads path, or the default location when path is empty. A
// missing default file yields a zero Config; a missing explicit file and
// malformed YAML are errors.
func loadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyConfig applies config file values to flag variables whose flag
// was not explicitly set.
func applyConfig(c flagSetter, cfg Config) {
	setString := func(flag string, dst *string, v string) {
		if v != "" && !c.IsSet(flag) {
			*dst = v
		}
	}
	setString("data-dir", &dataDir, cfg.DataDir)
	setString("tokenizer-json", &tokenizerPath, cfg.TokenizerPath)
	setString("tokenizer-config", &tokenizerConfigPath, cfg.TokenizerConfigPath)
	setString("model", &modelPath, cfg.ModelPath)
	setString("genai-config", &genaiConfigPath, cfg.GenAIConfigPath)
	setString("prompt", &prompt, cfg.Prompt)
	setString("provider", &provider, cfg.Provider)
	setString("metrics-file", &metricsFile, cfg.MetricsFile)
	setString("log-level", &logLevel, cfg.LogLevel)
	setString("log-format", &logFormat, cfg.LogFormat)

	if cfg.DeviceID != nil && !c.IsSet("device-id") {
		deviceID = *cfg.DeviceID
	}
	if cfg.IntraOpThreads != nil && !c.IsSet("threads") {
		intraOpThreads = *cfg.IntraOpThreads
	}
}
