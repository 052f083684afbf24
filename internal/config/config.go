// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// 运行时设置的单例实例
var (
	currentSettings *Settings
	settingsMutex   sync.RWMutex
	settingsFile    string
)

// Config holds the process configuration read from the environment and .env.
type Config struct {
	Port              string        `env:"PORT" envDefault:"8080"`
	DataDir           string        `env:"DATA_DIR" envDefault:"data"`
	LogDir            string        `env:"LOG_DIR" envDefault:"logs"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	DebugMode         bool          `env:"DEBUG_MODE" envDefault:"false"`
	DisableURLOptions bool          `env:"DISABLE_URL_OPTIONS" envDefault:"false"`
	ShowTitlePage     bool          `env:"SHOW_TITLE_PAGE" envDefault:"true"`
	FetchTimeout      time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	HistoryDB         string        `env:"HISTORY_DB"`
	BaseURL           string        `env:"BASE_URL"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	MetricsInterval   time.Duration `env:"METRICS_INTERVAL" envDefault:"5m"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Settings are the player defaults that can be changed while the server runs.
// They are persisted to settings.json in the data directory.
type Settings struct {
	ShowTitlePage     bool   `json:"show_title_page"`
	DisableURLOptions bool   `json:"disable_url_options"`
	LogLevel          string `json:"log_level"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.HistoryDB == "" {
		cfg.HistoryDB = filepath.Join(cfg.DataDir, "history.db")
	}

	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

// InitSettings seeds the runtime settings from cfg and overlays any saved
// settings.json found in the data directory.
func InitSettings(cfg *Config) error {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settingsFile = filepath.Join(cfg.DataDir, "settings.json")
	currentSettings = &Settings{
		ShowTitlePage:     cfg.ShowTitlePage,
		DisableURLOptions: cfg.DisableURLOptions,
		LogLevel:          cfg.LogLevel,
	}

	data, err := os.ReadFile(settingsFile)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("read settings: %w", err)
	default:
		var saved Settings
		if err := json.Unmarshal(data, &saved); err != nil {
			return fmt.Errorf("parse settings %s: %w", settingsFile, err)
		}
		currentSettings = &saved
	}

	return saveLocked()
}

// GetSettings returns a copy of the current settings.
func GetSettings() Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	if currentSettings == nil {
		return Settings{ShowTitlePage: true, LogLevel: "info"}
	}
	return *currentSettings
}

// UpdateSettings replaces and persists the settings.
func UpdateSettings(s Settings) error {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if currentSettings == nil {
		return fmt.Errorf("settings not initialized")
	}
	currentSettings = &s
	return saveLocked()
}

func saveLocked() error {
	if err := ensureDir(filepath.Dir(settingsFile)); err != nil {
		return err
	}

	data, err := json.MarshalIndent(currentSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(settingsFile, data, 0644)
}
