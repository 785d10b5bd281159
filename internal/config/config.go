package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Catalog struct {
		Path string `yaml:"path"`
		TTL  string `yaml:"ttl"`
	} `yaml:"catalog"`
	Progression struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"progression"`
	Enrollment struct {
		MaxAttempts   int     `yaml:"maxAttempts"`
		BaseDelay     string  `yaml:"baseDelay"`
		Multiplier    float64 `yaml:"multiplier"`
		SweepInterval string  `yaml:"sweepInterval"`
		StaleAfter    string  `yaml:"staleAfter"`
	} `yaml:"enrollment"`
	Payment struct {
		BaseURL string `yaml:"baseURL"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`
	} `yaml:"payment"`
}

// Load reads YAML config from path. ${VAR} references are expanded from the
// environment so secrets can stay out of the file.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Location resolves the progression timezone, defaulting to UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Progression.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Progression.Timezone)
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
