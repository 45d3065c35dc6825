package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/shop-price-scraper/internal/browser"
)

type Config struct {
	Browser  BrowserConfig
	Pacing   PacingConfig
	Search   SearchConfig
	Output   OutputConfig
	Logging  LoggingConfig
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
}

type BrowserConfig struct {
	Engine            string
	Headless          bool
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	ViewportWidth     int
	ViewportHeight    int
	AcceptLanguage    string
	TimezoneID        string
	Locale            string
	UserAgents        []string
}

type PacingConfig struct {
	MinDelay       time.Duration
	MaxDelay       time.Duration
	SearchMinDelay time.Duration
	SearchMaxDelay time.Duration
	KeyDelay       time.Duration
	// Seed makes the delay sequence reproducible. Zero picks one per run.
	Seed uint64
}

type SearchConfig struct {
	Interactive    bool
	ResultsTimeout time.Duration
	SettleDelay    time.Duration
}

type OutputConfig struct {
	// Path overrides the default scraped_<term>.csv name.
	Path           string
	StateFile      string
	Screenshot     bool
	ScreenshotPath string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	// StatusAddr enables the status server when set, e.g. ":8080".
	StatusAddr string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

func Load() (*Config, error) {
	seed, err := getUint64OrDefault("PACING_SEED", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Browser: BrowserConfig{
			Engine:            getEnvOrDefault("BROWSER_ENGINE", string(browser.EnginePlaywright)),
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", true),
			NavigationTimeout: getDurationOrDefault("NAVIGATION_TIMEOUT", 30*time.Second),
			SelectorTimeout:   getDurationOrDefault("SELECTOR_TIMEOUT", 10*time.Second),
			ViewportWidth:     getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1440),
			ViewportHeight:    getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 900),
			AcceptLanguage:    getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-IN,en;q=0.9"),
			TimezoneID:        getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Kolkata"),
			Locale:            getEnvOrDefault("BROWSER_LOCALE", "en-IN"),
			UserAgents:        getStringSliceOrDefault("BROWSER_USER_AGENTS", defaultUserAgents()),
		},
		Pacing: PacingConfig{
			MinDelay:       getDurationOrDefault("PACING_MIN_DELAY", 1500*time.Millisecond),
			MaxDelay:       getDurationOrDefault("PACING_MAX_DELAY", 4500*time.Millisecond),
			SearchMinDelay: getDurationOrDefault("SEARCH_MIN_DELAY", 1000*time.Millisecond),
			SearchMaxDelay: getDurationOrDefault("SEARCH_MAX_DELAY", 3000*time.Millisecond),
			KeyDelay:       getDurationOrDefault("PACING_KEY_DELAY", 150*time.Millisecond),
			Seed:           seed,
		},
		Search: SearchConfig{
			Interactive:    getBoolOrDefault("SEARCH_INTERACTIVE", true),
			ResultsTimeout: getDurationOrDefault("RESULTS_TIMEOUT", 20*time.Second),
			SettleDelay:    getDurationOrDefault("SEARCH_SETTLE_DELAY", 2*time.Second),
		},
		Output: OutputConfig{
			Path:           getEnvOrDefault("OUTPUT_PATH", ""),
			StateFile:      getEnvOrDefault("OUTPUT_STATE_FILE", ""),
			Screenshot:     getBoolOrDefault("DEBUG_SCREENSHOT", false),
			ScreenshotPath: getEnvOrDefault("DEBUG_SCREENSHOT_PATH", "scraper-debug.png"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
		Server: ServerConfig{
			StatusAddr: getEnvOrDefault("STATUS_ADDR", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:price_results"),
			MaxLen:   int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 10000)),
		},
		Database: DatabaseConfig{
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 4)),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch browser.Engine(c.Browser.Engine) {
	case browser.EnginePlaywright, browser.EngineRod:
	default:
		return fmt.Errorf("BROWSER_ENGINE must be playwright or rod, got %q", c.Browser.Engine)
	}

	if c.Browser.NavigationTimeout <= 0 || c.Browser.SelectorTimeout <= 0 || c.Search.ResultsTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}

	if c.Pacing.MinDelay < 0 || c.Pacing.SearchMinDelay < 0 {
		return fmt.Errorf("pacing delays cannot be negative")
	}
	if c.Pacing.MinDelay > c.Pacing.MaxDelay {
		return fmt.Errorf("PACING_MIN_DELAY cannot be greater than PACING_MAX_DELAY")
	}
	if c.Pacing.SearchMinDelay > c.Pacing.SearchMaxDelay {
		return fmt.Errorf("SEARCH_MIN_DELAY cannot be greater than SEARCH_MAX_DELAY")
	}

	if c.Browser.ViewportWidth < 1 || c.Browser.ViewportHeight < 1 {
		return fmt.Errorf("browser viewport must be at least 1x1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}

	if c.Redis.DB < 0 {
		return fmt.Errorf("REDIS_DB cannot be negative")
	}

	return nil
}

// BrowserOptions builds driver options. The user agent is picked from the
// configured list by seed.
func (c *Config) BrowserOptions(seed uint64) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Engine = browser.Engine(c.Browser.Engine)
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.NavigationTimeout
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	if n := len(c.Browser.UserAgents); n > 0 {
		opts.UserAgent = c.Browser.UserAgents[seed%uint64(n)]
	}
	return opts
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getUint64OrDefault(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	u, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return u, nil
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
