// Package config provides environment configuration for the chat backend and widget.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/capitalize-ai/companion-relay/internal/llm"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Environment        string        `env:"APP_ENV" envDefault:"development"`
	ServerPort         string        `env:"PORT" envDefault:"8080"`
	ServerReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	ServerWriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	CORSAllowOrigins   []string      `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`

	// Upstream credentials, in failover order
	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`
	OpenRouterAPIKey2 string `env:"OPENROUTER_API_KEY_2"`
	OpenRouterAPIKey3 string `env:"OPENROUTER_API_KEY_3"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	AnthropicAPIKey   string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL  string `env:"ANTHROPIC_BASE_URL"`

	// Completion policy
	SystemPrompt         string          `env:"SYSTEM_PROMPT" envDefault:"You are Melissa, a cool, nerdy cyber-girl. Be conversational, warm, and engaging. Keep responses concise but informative. Always maintain a positive and supportive tone."`
	Models               []string        `env:"MODELS" envSeparator:"," envDefault:"anthropic/claude-3-haiku:free,google/gemini-2.0-flash-exp:free,meta-llama/llama-3.1-8b-instruct:free"`
	VisionModels         []string        `env:"VISION_MODELS" envSeparator:"," envDefault:"google/gemini-2.0-flash-exp:free,meta-llama/llama-3.2-11b-vision-instruct:free"`
	AnthropicModel       string          `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-haiku-20241022"`
	MaxTokens            int             `env:"MAX_TOKENS" envDefault:"300"`
	VisionMaxTokens      int             `env:"VISION_MAX_TOKENS" envDefault:"600"`
	Temperature          float64         `env:"TEMPERATURE" envDefault:"0.7"`
	HistoryWindow        int             `env:"HISTORY_WINDOW" envDefault:"10"`
	AttemptTimeouts      []time.Duration `env:"ATTEMPT_TIMEOUTS" envSeparator:"," envDefault:"8s,12s"`
	VisionAttemptTimeout []time.Duration `env:"VISION_ATTEMPT_TIMEOUTS" envSeparator:"," envDefault:"15s,25s"`
	InvocationBudget     time.Duration   `env:"INVOCATION_BUDGET" envDefault:"25s"`
	MaxDisplayLength     int             `env:"MAX_DISPLAY_LENGTH" envDefault:"1200"`
	NetworkAsRateLimit   bool            `env:"NETWORK_ERRORS_AS_RATE_LIMIT" envDefault:"true"`

	// Inbound rate limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"30"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// NATS settings; events are disabled when NATSURL is empty
	NATSURL      string `env:"NATS_URL"`
	NATSCAFile   string `env:"NATS_CA_FILE"`
	NATSCertFile string `env:"NATS_CERT_FILE"`
	NATSKeyFile  string `env:"NATS_KEY_FILE"`
	NATSToken    string `env:"NATS_TOKEN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
}

// WidgetConfig holds configuration for the terminal chat widget.
type WidgetConfig struct {
	APIEndpoint     string        `env:"CHAT_API_ENDPOINT" envDefault:"http://localhost:8080/api/chat"`
	RequestTimeout  time.Duration `env:"CHAT_REQUEST_TIMEOUT" envDefault:"60s"`
	StorageDriver   string        `env:"CHAT_STORAGE" envDefault:"memory"`
	RedisAddr       string        `env:"CHAT_REDIS_ADDR" envDefault:"localhost:6379"`
	SessionTTL      time.Duration `env:"CHAT_SESSION_TTL" envDefault:"24h"`
	KeyPrefix       string        `env:"CHAT_KEY_PREFIX" envDefault:"green_companion"`
	MaxHistory      int           `env:"CHAT_MAX_HISTORY" envDefault:"50"`
	FallbackHorizon time.Duration `env:"CHAT_RATE_LIMIT_FALLBACK" envDefault:"24h"`
	AssistantName   string        `env:"CHAT_ASSISTANT_NAME" envDefault:"Melissa"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"warn"`
}

// Load reads configuration from the environment, after applying a .env file
// when one is present in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// LoadWidget reads the widget configuration from the environment.
func LoadWidget() (*WidgetConfig, error) {
	_ = godotenv.Load()

	cfg := &WidgetConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse widget environment: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the backend runs in production.
func (c *Config) IsProduction() bool {
	e := strings.ToLower(c.Environment)
	return e == "production" || e == "prod"
}

// IsDevelopment reports whether the backend runs on a developer machine.
func (c *Config) IsDevelopment() bool {
	e := strings.ToLower(c.Environment)
	return e == "development" || e == "dev"
}

// Credentials returns the configured upstream credentials in failover order.
// Empty slots are kept so diagnostics can report them as absent; the
// completion client drops them before use.
func (c *Config) Credentials() []llm.CredentialSlot {
	return []llm.CredentialSlot{
		{Label: "primary", Provider: llm.ProviderOpenAI, Secret: c.OpenRouterAPIKey, BaseURL: c.OpenRouterBaseURL},
		{Label: "secondary", Provider: llm.ProviderOpenAI, Secret: c.OpenRouterAPIKey2, BaseURL: c.OpenRouterBaseURL},
		{Label: "tertiary", Provider: llm.ProviderOpenAI, Secret: c.OpenRouterAPIKey3, BaseURL: c.OpenRouterBaseURL},
		{Label: "anthropic", Provider: llm.ProviderAnthropic, Secret: c.AnthropicAPIKey, BaseURL: c.AnthropicBaseURL, Model: c.AnthropicModel},
	}
}

// CredentialSource returns a function that re-reads the credential slots
// from the environment on every call, so rotated secrets apply without a
// restart. It falls back to the slots loaded at startup if parsing fails.
func (c *Config) CredentialSource() func() []llm.CredentialSlot {
	return func() []llm.CredentialSlot {
		fresh := &Config{}
		if err := env.Parse(fresh); err != nil {
			return c.Credentials()
		}
		return fresh.Credentials()
	}
}

// Policy builds the completion policy for text or image requests.
func (c *Config) Policy(image bool) llm.Policy {
	p, steps := llm.DefaultPolicy(), c.AttemptTimeouts
	if image {
		p, steps = llm.ImagePolicy(), c.VisionAttemptTimeout
	}
	if len(steps) > 0 {
		p.AttemptTimeouts = steps
	}
	p.OverallBudget = c.InvocationBudget
	p.MaxDisplayLength = c.MaxDisplayLength
	p.NetworkAsRateLimit = c.NetworkAsRateLimit
	return p
}
