package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	DatabaseURL   string
	JWTSecret     string
	PublicBaseURL string

	StorageDriver  string
	StoragePath    string
	StorageBaseURL string
	S3Bucket       string
	S3Prefix       string
	SignedURLTTL   time.Duration

	ImageSourceAllowlist []string

	QueueDriver       string
	QStashURL         string
	QStashToken       string
	QStashCurrentKey  string
	QStashNextKey     string
	WebhookStrict     bool
	KafkaBrokers      []string
	QueueTopic        string
	QueueGroup        string
	RelayRetries      int
	RelayRetryBackoff time.Duration

	ImageProvider     string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIImageModel  string
	QwenAPIKey        string
	QwenBaseURL       string
	GenerationTimeout time.Duration

	DefaultCredits      int
	FigureCostCents     int
	StripeWebhookSecret string
	StripePriceSingleID string
	StripePriceGroupID  string

	GeoIPDBPath        string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSecret:     os.Getenv("AUTH_JWT_SECRET"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", "file")),
		StoragePath:    getEnv("STORAGE_PATH", "./data/blobs"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Prefix:       os.Getenv("S3_PREFIX"),
		SignedURLTTL:   getEnvDuration("SIGNED_URL_TTL", time.Hour),

		QueueDriver:       strings.ToLower(getEnv("QUEUE_DRIVER", "qstash")),
		QStashURL:         strings.TrimRight(getEnv("QSTASH_URL", "https://qstash.upstash.io"), "/"),
		QStashToken:       os.Getenv("QSTASH_TOKEN"),
		QStashCurrentKey:  os.Getenv("QSTASH_CURRENT_SIGNING_KEY"),
		QStashNextKey:     os.Getenv("QSTASH_NEXT_SIGNING_KEY"),
		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		QueueTopic:        getEnv("QUEUE_TOPIC", "figures.generate"),
		QueueGroup:        getEnv("QUEUE_GROUP", "figures-relay"),
		RelayRetries:      getEnvInt("RELAY_MAX_RETRIES", 3),
		RelayRetryBackoff: getEnvDuration("RELAY_RETRY_BACKOFF", 2*time.Second),

		ImageProvider:     strings.ToLower(getEnv("IMAGE_PROVIDER", "openai")),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIImageModel:  getEnv("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		QwenAPIKey:        os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:       getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 120*time.Second),

		DefaultCredits:      getEnvInt("DEFAULT_CREDITS", 2),
		FigureCostCents:     getEnvInt("FIGURE_COST_CENTS", 199),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceSingleID: os.Getenv("STRIPE_PRICE_SINGLE_ID"),
		StripePriceGroupID:  os.Getenv("STRIPE_PRICE_GROUP_ID"),

		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}
	cfg.StorageBaseURL = strings.TrimRight(getEnv("STORAGE_BASE_URL", "http://localhost:"+cfg.Port+"/v1/blobs"), "/")
	cfg.WebhookStrict = cfg.IsProduction() || getEnvBool("WEBHOOK_STRICT", false)
	cfg.ImageSourceAllowlist = mergeHosts(splitList(os.Getenv("IMAGE_SOURCE_HOST_ALLOWLIST")), cfg.StorageBaseURL)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	return cfg, nil
}

// IsProduction reports whether strict production behavior applies.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// WorkerURL is the public address the queue delivers figure jobs to.
func (c *Config) WorkerURL() string {
	return c.PublicBaseURL + "/v1/figures/worker"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mergeHosts(hosts []string, baseURL string) []string {
	seen := make(map[string]struct{}, len(hosts)+1)
	var out []string
	add := func(h string) {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			return
		}
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	for _, h := range hosts {
		add(h)
	}
	if u, err := url.Parse(baseURL); err == nil {
		add(u.Hostname())
	}
	sort.Strings(out)
	return out
}
