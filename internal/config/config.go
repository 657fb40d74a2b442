package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

// ListingConfig points at the business-listing provider.
type ListingConfig struct {
	BaseURL        string  `yaml:"baseURL"`
	APIKey         string  `yaml:"apiKey"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
	Language       string  `yaml:"language"`
	MaxResults     int     `yaml:"maxResults"`
	RatePerSecond  float64 `yaml:"ratePerSecond"`
}

// SearchConfig points at the web-search provider.
type SearchConfig struct {
	BaseURL        string  `yaml:"baseURL"`
	APIKey         string  `yaml:"apiKey"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
	MaxResults     int     `yaml:"maxResults"`
	RatePerSecond  float64 `yaml:"ratePerSecond"`
}

// GeocoderConfig points at the city-resolution endpoint used by the planner.
type GeocoderConfig struct {
	BaseURL        string `yaml:"baseURL"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	Language       string `yaml:"language"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	TimeoutSeconds  int             `yaml:"timeoutSeconds"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

// RenderConfig controls the headless-browser pool.
type RenderConfig struct {
	BrowserURL      string   `yaml:"browserURL"`
	MaxConcurrent   int      `yaml:"maxConcurrent"`
	TimeoutSeconds  int      `yaml:"timeoutSeconds"`
	PoolWaitSeconds int      `yaml:"poolWaitSeconds"`
	UserAgents      []string `yaml:"userAgents"`
	ScreenshotDir   string   `yaml:"screenshotDir"`
	RespectRobots   bool     `yaml:"respectRobots"`
}

// PrescreenConfig controls the cheap URL checks.
type PrescreenConfig struct {
	ExtraBlockedHosts     []string `yaml:"extraBlockedHosts"`
	DNSResolver           string   `yaml:"dnsResolver"`
	ConnectTimeoutSeconds int      `yaml:"connectTimeoutSeconds"`
	HTTPTimeoutSeconds    int      `yaml:"httpTimeoutSeconds"`
}

// RetryConfig is the shared backoff policy for retriable work items.
type RetryConfig struct {
	BackoffBaseSeconds int `yaml:"backoffBaseSeconds"`
	BackoffCapSeconds  int `yaml:"backoffCapSeconds"`
}

// WorkerConfig sizes the per-kind worker pools.
type WorkerConfig struct {
	ScrapeConcurrency   int         `yaml:"scrapeConcurrency"`
	ValidateConcurrency int         `yaml:"validateConcurrency"`
	DiscoverConcurrency int         `yaml:"discoverConcurrency"`
	SubmitConcurrency   int         `yaml:"submitConcurrency"`
	PollIntervalMs      int         `yaml:"pollIntervalMs"`
	LeaseSeconds        int         `yaml:"leaseSeconds"`
	Retry               RetryConfig `yaml:"retry"`
}

// GeneratorConfig points at the external website generator.
type GeneratorConfig struct {
	BaseURL        string `yaml:"baseURL"`
	APIKey         string `yaml:"apiKey"`
	WebhookSecret  string `yaml:"webhookSecret"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// RetentionConfig controls TTL cleanup so the database and artifact
// directory do not grow without bound.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	ValidationRecordDays   int  `yaml:"validationRecordDays"`
	DeadLetterDays         int  `yaml:"deadLetterDays"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Listing   ListingConfig   `yaml:"listing"`
	Search    SearchConfig    `yaml:"search"`
	Geocoder  GeocoderConfig  `yaml:"geocoder"`
	LLM       LLMConfig       `yaml:"llm"`
	Render    RenderConfig    `yaml:"render"`
	Prescreen PrescreenConfig `yaml:"prescreen"`
	Worker    WorkerConfig    `yaml:"worker"`
	Generator GeneratorConfig `yaml:"generator"`
	Retention RetentionConfig `yaml:"retention"`
}

// Load reads the optional YAML file, overlays .env and process environment,
// applies defaults, and validates. It exits on malformed input the same way
// misconfigured daemons should: loudly, at startup.
func Load(path string) *Config {
	cfg, err := load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
	}

	// .env is a convenience for local runs; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.Database.DSN, "DATABASE_DSN")
	envStr(&c.Redis.URL, "REDIS_URL")
	envStr(&c.Auth.APIKey, "API_KEY")

	envStr(&c.Listing.BaseURL, "LISTING_BASE_URL")
	envStr(&c.Listing.APIKey, "LISTING_API_KEY")
	envInt(&c.Listing.TimeoutSeconds, "LISTING_TIMEOUT_SECONDS")

	envStr(&c.Search.BaseURL, "SEARCH_BASE_URL")
	envStr(&c.Search.APIKey, "SEARCH_API_KEY")
	envInt(&c.Search.TimeoutSeconds, "SEARCH_TIMEOUT_SECONDS")

	envStr(&c.Geocoder.BaseURL, "GEOCODER_BASE_URL")

	envStr(&c.LLM.DefaultProvider, "LLM_PROVIDER")
	envInt(&c.LLM.TimeoutSeconds, "LLM_TIMEOUT_SECONDS")
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		switch c.LLM.DefaultProvider {
		case "anthropic":
			c.LLM.Anthropic.APIKey = v
		case "google":
			c.LLM.Google.APIKey = v
		default:
			c.LLM.OpenAI.APIKey = v
		}
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		switch c.LLM.DefaultProvider {
		case "anthropic":
			c.LLM.Anthropic.Model = v
		case "google":
			c.LLM.Google.Model = v
		default:
			c.LLM.OpenAI.Model = v
		}
	}

	envStr(&c.Render.BrowserURL, "BROWSER_URL")
	envInt(&c.Render.MaxConcurrent, "RENDER_MAX_CONCURRENT")
	envInt(&c.Render.TimeoutSeconds, "RENDERER_TIMEOUT_SECONDS")
	envList(&c.Render.UserAgents, "USER_AGENT_POOL")

	envList(&c.Prescreen.ExtraBlockedHosts, "BLOCKED_HOSTS")

	envInt(&c.Worker.ScrapeConcurrency, "SCRAPE_CONCURRENCY")
	envInt(&c.Worker.ValidateConcurrency, "VALIDATE_CONCURRENCY")
	envInt(&c.Worker.DiscoverConcurrency, "DISCOVER_CONCURRENCY")
	envInt(&c.Worker.Retry.BackoffBaseSeconds, "RETRY_BACKOFF_BASE_SECONDS")
	envInt(&c.Worker.Retry.BackoffCapSeconds, "RETRY_BACKOFF_CAP_SECONDS")

	envStr(&c.Generator.BaseURL, "GENERATOR_BASE_URL")
	envStr(&c.Generator.APIKey, "GENERATOR_API_KEY")
	envStr(&c.Generator.WebhookSecret, "GENERATOR_WEBHOOK_SECRET")
}

func (c *Config) applyDefaults() {
	defInt(&c.Server.Port, 8080)
	defStr(&c.Server.Host, "0.0.0.0")
	defInt(&c.Database.TimeoutSeconds, 5)
	defInt(&c.RateLimit.DefaultPerMinute, 120)

	defInt(&c.Listing.TimeoutSeconds, 60)
	defInt(&c.Listing.MaxResults, 20)
	defStr(&c.Listing.Language, "en")
	defFloat(&c.Listing.RatePerSecond, 2.0)

	defInt(&c.Search.TimeoutSeconds, 15)
	defInt(&c.Search.MaxResults, 10)
	defFloat(&c.Search.RatePerSecond, 1.6)

	defInt(&c.Geocoder.TimeoutSeconds, 10)
	defStr(&c.Geocoder.Language, "en")

	defStr(&c.LLM.DefaultProvider, "openai")
	defInt(&c.LLM.TimeoutSeconds, 30)

	defInt(&c.Render.MaxConcurrent, 8)
	defInt(&c.Render.TimeoutSeconds, 30)
	defInt(&c.Render.PoolWaitSeconds, 10)
	defStr(&c.Render.ScreenshotDir, "artifacts/screenshots")

	defInt(&c.Prescreen.ConnectTimeoutSeconds, 2)
	defInt(&c.Prescreen.HTTPTimeoutSeconds, 10)

	defInt(&c.Worker.ScrapeConcurrency, 2)
	defInt(&c.Worker.ValidateConcurrency, 6)
	defInt(&c.Worker.DiscoverConcurrency, 3)
	defInt(&c.Worker.SubmitConcurrency, 2)
	defInt(&c.Worker.PollIntervalMs, 1000)
	defInt(&c.Worker.LeaseSeconds, 300)
	defInt(&c.Worker.Retry.BackoffBaseSeconds, 30)
	defInt(&c.Worker.Retry.BackoffCapSeconds, 3600)

	defInt(&c.Generator.TimeoutSeconds, 30)

	defInt(&c.Retention.CleanupIntervalMinutes, 60)
	defInt(&c.Retention.ValidationRecordDays, 180)
	defInt(&c.Retention.DeadLetterDays, 30)
}

// Validate rejects settings that would break contracts at runtime rather
// than letting them surface as mysterious worker behavior.
func (c *Config) Validate() error {
	if c.Retention.ValidationRecordDays < 90 {
		return fmt.Errorf("retention.validationRecordDays %d below the 90 day floor", c.Retention.ValidationRecordDays)
	}
	if c.Worker.Retry.BackoffBaseSeconds <= 0 || c.Worker.Retry.BackoffCapSeconds < c.Worker.Retry.BackoffBaseSeconds {
		return fmt.Errorf("retry backoff base %ds / cap %ds inconsistent",
			c.Worker.Retry.BackoffBaseSeconds, c.Worker.Retry.BackoffCapSeconds)
	}
	if c.Render.MaxConcurrent < 1 {
		return fmt.Errorf("render.maxConcurrent must be at least 1")
	}
	if c.Search.RatePerSecond <= 0 || c.Listing.RatePerSecond <= 0 {
		return fmt.Errorf("provider ratePerSecond must be positive")
	}
	return nil
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// envList splits on commas; entries are trimmed and empties dropped.
func envList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

func defStr(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func defInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func defFloat(dst *float64, v float64) {
	if *dst == 0 {
		*dst = v
	}
}
