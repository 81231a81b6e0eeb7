package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string   `yaml:"port"`
	LogLevel               string   `yaml:"logLevel"`
	ChatResponseWebhookURL string   `yaml:"chatResponseWebhookURL"`
	SaveChatWebhookURL     string   `yaml:"saveChatWebhookURL"`
	RetrieveChatWebhookURL string   `yaml:"retrieveChatWebhookURL"`
	DeleteChatWebhookURL   string   `yaml:"deleteChatWebhookURL"`
	SendChatHistory        bool     `yaml:"sendChatHistory"`
	WebhookTimeout         string   `yaml:"webhookTimeout"`
	ReplyTimeout           string   `yaml:"replyTimeout"`
	AuthJWTSecret          string   `yaml:"authJwtSecret"`
	AuthJWKSURL            string   `yaml:"authJwksURL"`
	JWTIssuer              string   `yaml:"jwtIssuer"`
	JWTAudience            string   `yaml:"jwtAudience"`
	JWTLeeway              string   `yaml:"jwtLeeway"`
	RedisAddr              string   `yaml:"redisAddr"`
	RedisPassword          string   `yaml:"redisPassword"`
	SendRateLimitPerMinute int      `yaml:"sendRateLimitPerMinute"`
	TrustedProxyCIDRs      []string `yaml:"trustedProxyCidrs"`
	SessionIdleTimeout     string   `yaml:"sessionIdleTimeout"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("CHAT_RESPONSE_WEBHOOK_URL"); v != "" {
		cfg.ChatResponseWebhookURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("SAVE_CHAT_WEBHOOK_URL"); v != "" {
		cfg.SaveChatWebhookURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("RETRIEVE_CHAT_WEBHOOK_URL"); v != "" {
		cfg.RetrieveChatWebhookURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DELETE_CHAT_WEBHOOK_URL"); v != "" {
		cfg.DeleteChatWebhookURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("SEND_CHAT_HISTORY"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.SendChatHistory = b
		}
	}
	if v := os.Getenv("WEBHOOK_TIMEOUT"); v != "" {
		cfg.WebhookTimeout = v
	}
	if v := os.Getenv("REPLY_TIMEOUT"); v != "" {
		cfg.ReplyTimeout = v
	}
	if v := os.Getenv("AUTH_JWT_SECRET"); v != "" {
		cfg.AuthJWTSecret = v
	}
	if v := os.Getenv("AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SEND_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.SendRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		cfg.SessionIdleTimeout = v
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Webhook URLs are optional: an unset endpoint only disables the operations
// that use it and surfaces as a ConfigurationError.
func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.AuthJWTSecret) == "" && strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwtSecret or authJwksURL is required (set in config.yaml or AUTH_JWT_SECRET / AUTH_JWKS_URL)")
	}
	if cfg.SendRateLimitPerMinute < 0 {
		return errors.New("config: sendRateLimitPerMinute must be >= 0")
	}
	if cfg.SendRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when sendRateLimitPerMinute is set")
	}
	for name, raw := range map[string]string{
		"webhookTimeout":     cfg.WebhookTimeout,
		"replyTimeout":       cfg.ReplyTimeout,
		"jwtLeeway":          cfg.JWTLeeway,
		"sessionIdleTimeout": cfg.SessionIdleTimeout,
	} {
		if _, err := ParseDuration(name, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration setting; empty means zero, which
// callers treat as "use the default".
func ParseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}
