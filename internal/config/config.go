// Package config loads the application configuration from the environment,
// an optional .env file and an optional YAML tuning file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/weather"
)

// Config holds the application configuration.
type Config struct {
	GeminiAPIKey   string `yaml:"-"`
	EarthdataToken string `yaml:"-"`
	JWTSecret      string `yaml:"-"`

	SaveDir      string `yaml:"save_dir"`
	DatabaseDSN  string `yaml:"database_dsn"`
	Addr         string `yaml:"addr"`
	AppEEARSURL  string `yaml:"appeears_url"`
	PowerURL     string `yaml:"nasa_power_url"`
	OpenMeteoURL string `yaml:"open_meteo_url"`
	Seed         int64  `yaml:"seed"`
}

func defaults() *Config {
	return &Config{
		SaveDir:      ".saves",
		DatabaseDSN:  "file:terranaut.db",
		Addr:         ":8080",
		AppEEARSURL:  envdata.DefaultAppEEARSURL,
		PowerURL:     weather.DefaultPowerURL,
		OpenMeteoURL: weather.DefaultOpenMeteoURL,
	}
}

// LoadConfig reads .env (if present), then the YAML file named by
// TERRANAUT_CONFIG, then the environment. Later sources win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := os.Getenv("TERRANAUT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.EarthdataToken = os.Getenv("EARTHDATA_TOKEN")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setString(&cfg.SaveDir, "TERRANAUT_SAVE_DIR")
	setString(&cfg.DatabaseDSN, "TERRANAUT_DB_DSN")
	setString(&cfg.Addr, "TERRANAUT_ADDR")
	setString(&cfg.AppEEARSURL, "APPEEARS_URL")
	setString(&cfg.PowerURL, "NASA_POWER_URL")
	setString(&cfg.OpenMeteoURL, "OPEN_METEO_URL")
	if v := os.Getenv("TERRANAUT_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TERRANAUT_SEED: %w", err)
		}
		cfg.Seed = seed
	}
	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
