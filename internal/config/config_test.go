package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tatianab/terranaut/internal/weather"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"TERRANAUT_CONFIG", "GEMINI_API_KEY", "TERRANAUT_SAVE_DIR", "TERRANAUT_DB_DSN", "TERRANAUT_ADDR", "TERRANAUT_SEED", "NASA_POWER_URL"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SaveDir != ".saves" || cfg.DatabaseDSN != "file:terranaut.db" || cfg.Addr != ":8080" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.PowerURL != weather.DefaultPowerURL || cfg.GeminiAPIKey != "" || cfg.Seed != 0 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yamlPath := filepath.Join(dir, "terranaut.yaml")
	if err := os.WriteFile(yamlPath, []byte("addr: \":9000\"\nsave_dir: /tmp/saves\nseed: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GEMINI_API_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TERRANAUT_CONFIG", yamlPath)
	t.Setenv("TERRANAUT_SAVE_DIR", "/srv/saves")
	t.Setenv("TERRANAUT_SEED", "")
	t.Setenv("TERRANAUT_ADDR", "")
	t.Setenv("GEMINI_API_KEY", "")
	os.Unsetenv("GEMINI_API_KEY")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9000" || cfg.Seed != 7 {
		t.Errorf("yaml overrides not applied: %+v", cfg)
	}
	if cfg.SaveDir != "/srv/saves" {
		t.Errorf("SaveDir = %q, want env override", cfg.SaveDir)
	}
	if cfg.GeminiAPIKey != "from-dotenv" {
		t.Errorf("GeminiAPIKey = %q, want value from .env", cfg.GeminiAPIKey)
	}
}

func TestLoadConfigBadSeed(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TERRANAUT_CONFIG", "")
	t.Setenv("TERRANAUT_SEED", "abc")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("bad seed accepted")
	}
}
