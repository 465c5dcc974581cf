package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML file named by CONFIG_FILE
type fileConfig struct {
	LogLevel      string   `yaml:"logLevel"`
	HTTPAddr      string   `yaml:"httpAddr"`
	ReconcileMode string   `yaml:"reconcileMode"`
	TrackedPlates []string `yaml:"trackedPlates"`

	Feeds struct {
		PositionURL      string `yaml:"positionURL"`
		PositionFormat   string `yaml:"positionFormat"`
		POIURL           string `yaml:"poiURL"`
		PollInterval     string `yaml:"pollInterval"`
		POIRetryInterval string `yaml:"poiRetryInterval"`
		FetchTimeout     string `yaml:"fetchTimeout"`
	} `yaml:"feeds"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parsing config file: %w", err)
	}
	return fc, nil
}

func fileDuration(v string, defaultVal time.Duration) time.Duration {
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
