package tswatch

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		BaseURL string `yaml:"baseURL"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`

		timeoutDur time.Duration
	} `yaml:"server"`

	Poll struct {
		Interval string `yaml:"interval"`

		intervalDur time.Duration
	} `yaml:"poll"`

	Cache struct {
		TTL        string `yaml:"ttl"`
		MaxEntries int    `yaml:"maxEntries"`

		ttlDur time.Duration
	} `yaml:"cache"`

	Events struct {
		Retry      string `yaml:"retry"`
		MaxRetries int    `yaml:"maxRetries"`

		retryDur time.Duration
	} `yaml:"events"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	Logging struct {
		Debug      bool   `yaml:"debug"`
		RateLimit  string `yaml:"rateLimit"`
		StatsEvery string `yaml:"statsEvery"`

		rateLimitDur  time.Duration
		statsEveryDur time.Duration
	} `yaml:"logging"`
}

// LoadConfig reads a yaml config file. An empty path means defaults only.
// A .env file in the working directory is loaded first so that TSWATCH_*
// variables can come from it.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	var b []byte
	if path != "" {
		var err error
		b, err = os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
	}
	return ParseConfig(b)
}

// ParseConfig decodes yaml, applies TSWATCH_BASE_URL / TSWATCH_TOKEN
// overrides and validates the result.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if v := os.Getenv("TSWATCH_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("TSWATCH_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) compile() error {
	cfg.Server.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	if cfg.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if !strings.HasPrefix(cfg.Server.BaseURL, "http://") && !strings.HasPrefix(cfg.Server.BaseURL, "https://") {
		return fmt.Errorf("server.baseURL must be an http(s) URL, got %q", cfg.Server.BaseURL)
	}

	var err error
	if cfg.Server.timeoutDur, err = parseDurationDefault(cfg.Server.Timeout, 30*time.Second); err != nil {
		return fmt.Errorf("server.timeout: %w", err)
	}
	if cfg.Poll.intervalDur, err = parseDurationDefault(cfg.Poll.Interval, time.Second); err != nil {
		return fmt.Errorf("poll.interval: %w", err)
	}
	if cfg.Cache.ttlDur, err = parseDurationDefault(cfg.Cache.TTL, 10*time.Second); err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}
	if cfg.Events.retryDur, err = parseDurationDefault(cfg.Events.Retry, time.Second); err != nil {
		return fmt.Errorf("events.retry: %w", err)
	}
	if cfg.Logging.rateLimitDur, err = parseDurationDefault(cfg.Logging.RateLimit, time.Minute); err != nil {
		return fmt.Errorf("logging.rateLimit: %w", err)
	}
	if cfg.Logging.statsEveryDur, err = parseDurationDefault(cfg.Logging.StatsEvery, 0); err != nil {
		return fmt.Errorf("logging.statsEvery: %w", err)
	}
	if cfg.Poll.intervalDur <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 256
	}
	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.maxEntries must not be negative")
	}
	if cfg.Events.MaxRetries < 0 {
		return fmt.Errorf("events.maxRetries must not be negative")
	}
	return nil
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func (cfg Config) Timeout() time.Duration       { return cfg.Server.timeoutDur }
func (cfg Config) PollInterval() time.Duration  { return cfg.Poll.intervalDur }
func (cfg Config) CacheTTL() time.Duration      { return cfg.Cache.ttlDur }
func (cfg Config) RetryInterval() time.Duration { return cfg.Events.retryDur }
func (cfg Config) RateLimit() time.Duration     { return cfg.Logging.rateLimitDur }

// StatsEvery is the cache stats log period. Zero disables it.
func (cfg Config) StatsEvery() time.Duration { return cfg.Logging.statsEveryDur }
