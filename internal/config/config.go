package config

import (
	"fmt"
	"log"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transport providers
const (
	ProviderCloud  = "cloud"
	ProviderTwilio = "twilio"
	ProviderLog    = "log"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`

	DisableWebhookValidation bool   `env:"DISABLE_WEBHOOK_VALIDATION" envDefault:"false"`
	WebhookVerifyToken       string `env:"WEBHOOK_VERIFY_TOKEN"`
	AppSecret                string `env:"WHATSAPP_APP_SECRET"`
	AdminAPIKey              string `env:"ADMIN_API_KEY"`

	Provider    string `env:"WHATSAPP_PROVIDER" envDefault:"cloud"`
	APIToken    string `env:"WHATSAPP_API_TOKEN"`
	PhoneID     string `env:"WHATSAPP_PHONE_ID"`
	APIBaseURL  string `env:"WHATSAPP_API_BASE_URL" envDefault:"https://graph.facebook.com/v19.0"`
	StripPrefix string `env:"OUTBOUND_STRIP_PREFIX" envDefault:"57"`

	TwilioAccountSID   string            `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string            `env:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppFrom string            `env:"TWILIO_WHATSAPP_FROM"`
	TwilioTemplateSIDs map[string]string `env:"TWILIO_TEMPLATE_SIDS" envSeparator:"," envKeyValSeparator:"="`

	StateTTLMinutes   int    `env:"STATE_TTL_MINUTES" envDefault:"60"`
	OutboundTimeoutMS int    `env:"OUTBOUND_TIMEOUT_MS" envDefault:"10000"`
	StoreTimeoutMS    int    `env:"STORE_TIMEOUT_MS" envDefault:"3000"`
	HandlerDeadlineMS int    `env:"HANDLER_DEADLINE_MS" envDefault:"20000"`
	MaxReprompts      int    `env:"MAX_REPROMPTS" envDefault:"3"`
	DedupWindowHours  int    `env:"DEDUP_WINDOW_HOURS" envDefault:"24"`
	DedupCacheSize    int    `env:"DEDUP_CACHE_SIZE" envDefault:"50000"`
	Timezone          string `env:"TIMEZONE" envDefault:"America/Bogota"`
	RequireProperty   bool   `env:"REQUIRE_PROPERTY" envDefault:"false"`

	TemplateLanguage   string `env:"TEMPLATE_LANGUAGE" envDefault:"es"`
	HandoffTemplate    string `env:"TEMPLATE_HANDOFF" envDefault:"human_handoff"`
	CompletionTemplate string `env:"TEMPLATE_COMPLETION" envDefault:"lead_completed"`

	OutboundRatePerSecond float64 `env:"OUTBOUND_RATE_PER_SECOND" envDefault:"20"`
	OutboundBurst         int     `env:"OUTBOUND_BURST" envDefault:"5"`

	RetryMaxAttempts int `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryInitialMS   int `env:"RETRY_INITIAL_MS" envDefault:"1000"`
	RetryMaxMS       int `env:"RETRY_MAX_MS" envDefault:"60000"`
	RetryQueueSize   int `env:"RETRY_QUEUE_SIZE" envDefault:"1000"`

	ReaperSchedule   string `env:"REAPER_SCHEDULE" envDefault:"*/5 * * * *"`
	LeadDedupMinutes int    `env:"LEAD_DEDUP_MINUTES" envDefault:"10"`

	DBDriver       string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	UseMemoryStore bool   `env:"USE_MEMORY_STORE" envDefault:"false"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`

	location *time.Location
}

// Load reads .env files when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		if err := godotenv.Load("environments/.env.development"); err != nil {
			log.Println("⚠️  No .env file found - checking environment variables")
		}
	}
	return Parse()
}

// Parse reads and validates the environment without touching .env files.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for name, v := range map[string]int{
		"STATE_TTL_MINUTES":   c.StateTTLMinutes,
		"OUTBOUND_TIMEOUT_MS": c.OutboundTimeoutMS,
		"STORE_TIMEOUT_MS":    c.StoreTimeoutMS,
		"HANDLER_DEADLINE_MS": c.HandlerDeadlineMS,
		"DEDUP_WINDOW_HOURS":  c.DedupWindowHours,
		"RETRY_INITIAL_MS":    c.RetryInitialMS,
		"RETRY_MAX_MS":        c.RetryMaxMS,
		"LEAD_DEDUP_MINUTES":  c.LeadDedupMinutes,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	if c.MaxReprompts < 1 {
		return fmt.Errorf("MAX_REPROMPTS must be at least 1, got %d", c.MaxReprompts)
	}

	switch c.Provider {
	case ProviderCloud, ProviderTwilio, ProviderLog:
	default:
		return fmt.Errorf("unknown WHATSAPP_PROVIDER %q", c.Provider)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	c.location = loc

	if c.DisableWebhookValidation && !c.IsDevelopment() {
		return fmt.Errorf("DISABLE_WEBHOOK_VALIDATION is only allowed when ENVIRONMENT is development")
	}

	if !c.UseMemoryStore && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required unless USE_MEMORY_STORE=true")
	}
	return nil
}

// Location is TIMEZONE, resolved during validation.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// StateTTL is the session idle timeout; zero disables expiry.
func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLMinutes) * time.Minute
}

func (c *Config) OutboundTimeout() time.Duration {
	return time.Duration(c.OutboundTimeoutMS) * time.Millisecond
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

func (c *Config) HandlerDeadline() time.Duration {
	return time.Duration(c.HandlerDeadlineMS) * time.Millisecond
}

// DedupWindow never goes below the provider's 24h redelivery horizon.
func (c *Config) DedupWindow() time.Duration {
	w := time.Duration(c.DedupWindowHours) * time.Hour
	if w < 24*time.Hour {
		w = 24 * time.Hour
	}
	return w
}

func (c *Config) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMS) * time.Millisecond
}

func (c *Config) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMS) * time.Millisecond
}

func (c *Config) LeadDedupWindow() time.Duration {
	return time.Duration(c.LeadDedupMinutes) * time.Minute
}

// IsDevelopment reports whether the service runs outside production.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == "local"
}
