package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

const appName = "ethicsnews"

type Config struct {
	GNews   GNews   `yaml:"gnews"`
	Cache   Cache   `yaml:"cache"`
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
}

type GNews struct {
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Language  string        `yaml:"language"`
	Timeout   time.Duration `yaml:"timeout"`
	RetryMax  int           `yaml:"retry_max"`
}

type Cache struct {
	StaleAfter       time.Duration `yaml:"stale_after"`
	PageSize         int           `yaml:"page_size"`
	MinFetchInterval time.Duration `yaml:"min_fetch_interval"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
}

type Storage struct {
	Driver         string `yaml:"driver"`
	DataDir        string `yaml:"data_dir"`
	PostgresURLEnv string `yaml:"postgres_url_env"`
}

type Server struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for ethicsnews.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// DataDir returns the XDG data directory for ethicsnews.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// ResolveConfigPath finds the config file following priority:
// explicit path > $XDG_CONFIG_HOME/ethicsnews/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'ethicsnews init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration with every default applied.
func Default() *Config {
	return &Config{
		GNews: GNews{
			APIKeyEnv: "GNEWS_API_KEY",
			BaseURL:   "https://gnews.io/api/v4/search",
			Language:  "en",
			Timeout:   15 * time.Second,
			RetryMax:  1,
		},
		Cache: Cache{
			StaleAfter:       48 * time.Hour,
			PageSize:         10,
			MinFetchInterval: time.Second,
			FetchTimeout:     60 * time.Second,
		},
		Storage: Storage{
			Driver:         "sqlite",
			PostgresURLEnv: "DATABASE_URL",
		},
		Server:  Server{Host: "127.0.0.1", Port: 8000, RequestTimeout: 90 * time.Second},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	if c.Cache.PageSize <= 0 {
		return fmt.Errorf("cache.page_size must be positive, got %d", c.Cache.PageSize)
	}
	if c.Cache.PageSize > 100 {
		return fmt.Errorf("cache.page_size must be at most 100, got %d", c.Cache.PageSize)
	}
	if c.Cache.StaleAfter <= 0 {
		return fmt.Errorf("cache.stale_after must be positive")
	}
	if c.Cache.MinFetchInterval < 0 {
		return fmt.Errorf("cache.min_fetch_interval must not be negative")
	}
	if c.GNews.RetryMax < 0 {
		return fmt.Errorf("gnews.retry_max must not be negative")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return DataDir()
}

// APIKey returns the GNews key from the configured environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.GNews.APIKeyEnv)
}

// PostgresURL returns the connection string from the configured environment
// variable.
func (c *Config) PostgresURL() string {
	return os.Getenv(c.Storage.PostgresURLEnv)
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
