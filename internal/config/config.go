package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	AuthMode        string   `mapstructure:"AUTH_MODE"`
	JWTSecret       string   `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes   int      `mapstructure:"JWT_TTL_MINUTES"`
	AuthIssuer      string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	WSEncryptionKey string   `mapstructure:"WS_ENCRYPTION_KEY"`
	UploadDir       string   `mapstructure:"UPLOAD_DIR"`
	MaxUploadMB     int64    `mapstructure:"MAX_UPLOAD_MB"`
	SMTPHost        string   `mapstructure:"SMTP_HOST"`
	SMTPPort        int      `mapstructure:"SMTP_PORT"`
	SMTPUser        string   `mapstructure:"SMTP_USER"`
	SMTPPassword    string   `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom        string   `mapstructure:"SMTP_FROM"`
	OpenAIAPIKey    string   `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel     string   `mapstructure:"OPENAI_MODEL"`
	HFAPIKey        string   `mapstructure:"HUGGINGFACE_API_KEY"`
	HFModel         string   `mapstructure:"HUGGINGFACE_MODEL"`
	AIMaxAttempts   int      `mapstructure:"AI_MAX_ATTEMPTS"`
	AIRetryBaseMS   int      `mapstructure:"AI_RETRY_BASE_MS"`
	RateLimitRPS    float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "local")
	v.SetDefault("JWT_TTL_MINUTES", 1440)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("MAX_UPLOAD_MB", 50)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("HUGGINGFACE_MODEL", "microsoft/resnet-50")
	v.SetDefault("AI_MAX_ATTEMPTS", 4)
	v.SetDefault("AI_RETRY_BASE_MS", 500)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_TTL_MINUTES")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("WS_ENCRYPTION_KEY")
	v.BindEnv("UPLOAD_DIR")
	v.BindEnv("MAX_UPLOAD_MB")
	v.BindEnv("SMTP_HOST")
	v.BindEnv("SMTP_PORT")
	v.BindEnv("SMTP_USER")
	v.BindEnv("SMTP_PASSWORD")
	v.BindEnv("SMTP_FROM")
	v.BindEnv("OPENAI_API_KEY")
	v.BindEnv("OPENAI_MODEL")
	v.BindEnv("HUGGINGFACE_API_KEY")
	v.BindEnv("HUGGINGFACE_MODEL")
	v.BindEnv("AI_MAX_ATTEMPTS")
	v.BindEnv("AI_RETRY_BASE_MS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: WebSocket payload encryption is disabled in this mode.")
		log.Println("WARNING: Set ENV=production and WS_ENCRYPTION_KEY for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MaxUploadBytes returns the configured upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB * 1024 * 1024
}

// Validate checks that the configuration is safe to run. Local auth requires a
// signing secret outside development; oidc auth requires an issuer and a JWKS
// URL. In production, WS_ENCRYPTION_KEY is required and must be a valid
// 64-character hex string (32 bytes when decoded).
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "local":
		if c.JWTSecret == "" && !c.IsDev() {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE is \"local\" outside development")
		}
	case "oidc":
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set when AUTH_MODE is \"oidc\"")
		}
		if c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_JWKS_URL must be set when AUTH_MODE is \"oidc\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"local\" or \"oidc\", got %q", c.AuthMode)
	}

	if c.IsProduction() && c.WSEncryptionKey == "" {
		return fmt.Errorf("WS_ENCRYPTION_KEY is required in production")
	}
	if c.WSEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.WSEncryptionKey)
		if err != nil {
			return fmt.Errorf("WS_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("WS_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}

	return nil
}
