package infra

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("AUTH_JWT_SECRET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error without AUTH_JWT_SECRET")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("IMAGE_SOURCE_HOST_ALLOWLIST", "")
	t.Setenv("WEBHOOK_STRICT", "")
	t.Setenv("DEFAULT_CREDITS", "")
	t.Setenv("SIGNED_URL_TTL", "")
	t.Setenv("GENERATION_TIMEOUT", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("FIGURE_COST_CENTS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/v1/blobs" {
		t.Fatalf("StorageBaseURL mismatch: %q", cfg.StorageBaseURL)
	}
	if len(cfg.ImageSourceAllowlist) != 1 || cfg.ImageSourceAllowlist[0] != "localhost" {
		t.Fatalf("ImageSourceAllowlist mismatch: %#v", cfg.ImageSourceAllowlist)
	}
	if cfg.WebhookStrict {
		t.Fatalf("development should not default to strict webhooks")
	}
	if cfg.DefaultCredits != 2 {
		t.Fatalf("DefaultCredits = %d, want 2", cfg.DefaultCredits)
	}
	if cfg.FigureCostCents != 199 {
		t.Fatalf("FigureCostCents = %d, want 199", cfg.FigureCostCents)
	}
	if cfg.SignedURLTTL != time.Hour {
		t.Fatalf("SignedURLTTL = %s, want 1h", cfg.SignedURLTTL)
	}
	if cfg.GenerationTimeout != 120*time.Second {
		t.Fatalf("GenerationTimeout = %s, want 2m", cfg.GenerationTimeout)
	}
	if cfg.WorkerURL() != "http://localhost:8080/v1/figures/worker" {
		t.Fatalf("WorkerURL mismatch: %q", cfg.WorkerURL())
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:1919/v1/blobs"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigMergesExplicitAllowlist(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORAGE_BASE_URL", "https://cdn.example.com/static")
	t.Setenv("IMAGE_SOURCE_HOST_ALLOWLIST", "media.example.com, localhost ,CDN.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := []string{"cdn.example.com", "localhost", "media.example.com"}
	if len(cfg.ImageSourceAllowlist) != len(expected) {
		t.Fatalf("ImageSourceAllowlist mismatch: got %#v want %#v", cfg.ImageSourceAllowlist, expected)
	}
	for i, host := range expected {
		if cfg.ImageSourceAllowlist[i] != host {
			t.Fatalf("ImageSourceAllowlist[%d] = %q, want %q", i, cfg.ImageSourceAllowlist[i], host)
		}
	}
}

func TestLoadConfigStrictWebhooks(t *testing.T) {
	tests := []struct {
		name   string
		appEnv string
		strict string
		want   bool
	}{
		{name: "production defaults strict", appEnv: "production", want: true},
		{name: "development defaults relaxed", appEnv: "development", want: false},
		{name: "explicit strict in development", appEnv: "development", strict: "true", want: true},
		{name: "production ignores relaxed override", appEnv: "production", strict: "false", want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("APP_ENV", tc.appEnv)
			t.Setenv("WEBHOOK_STRICT", tc.strict)
			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			if cfg.WebhookStrict != tc.want {
				t.Fatalf("WebhookStrict = %v, want %v", cfg.WebhookStrict, tc.want)
			}
		})
	}
}

func TestLoadConfigParsesLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KAFKA_BROKERS", " broker-1:9092, ,broker-2:9092")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker-2:9092" {
		t.Fatalf("KafkaBrokers mismatch: %#v", cfg.KafkaBrokers)
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("CORSAllowedOrigins mismatch: %#v", cfg.CORSAllowedOrigins)
	}
}
