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

type Config struct {
	Addr           string `yaml:"addr"`
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`
	MigrationsDir  string `yaml:"migrations_dir"`
	JWTSecret      string `yaml:"jwt_secret"`
	JWTIssuer      string `yaml:"jwt_issuer"`
	JWTAudience    string `yaml:"jwt_audience"`
	CORSOrigin     string `yaml:"cors_origin"`
	PublicURL      string `yaml:"public_url"`
	LogLevel       string `yaml:"log_level"`
	// Ordering and concurrency
	SortKeyRetries int  `yaml:"sort_key_retries"`
	RequireIfMatch bool `yaml:"require_if_match"`
	// Invitations and idempotency
	InvitationTTL  time.Duration `yaml:"invitation_ttl"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	// Search
	MeiliURL       string `yaml:"meili_url"`
	MeiliMasterKey string `yaml:"meili_master_key"`
	// SMTP Configuration
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     string `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
	SMTPFrom     string `yaml:"smtp_from"`
	SMTPFromName string `yaml:"smtp_from_name"`
	// Redis Configuration
	RedisURL string `yaml:"redis_url"`
	// Object storage for board exports
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3UseSSL    bool   `yaml:"s3_use_ssl"`
}

func Defaults() Config {
	return Config{
		Addr:           ":8787",
		DatabaseDriver: "memory",
		JWTSecret:      "taskboard-dev-secret",
		JWTIssuer:      "",
		JWTAudience:    "",
		CORSOrigin:     "*",
		PublicURL:      "http://localhost:8787",
		LogLevel:       "info",
		SortKeyRetries: 3,
		RequireIfMatch: true,
		InvitationTTL:  7 * 24 * time.Hour,
		IdempotencyTTL: 24 * time.Hour,
		SMTPPort:       "587",
		SMTPFromName:   "Taskboard",
		S3Bucket:       "taskboard-exports",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// TASKBOARD_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("TASKBOARD_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Addr, "API_ADDR")
	setString(&c.DatabaseDriver, "DATABASE_DRIVER")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.MigrationsDir, "MIGRATIONS_DIR")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.JWTIssuer, "JWT_ISSUER")
	setString(&c.JWTAudience, "JWT_AUDIENCE")
	setString(&c.CORSOrigin, "CORS_ORIGIN")
	setString(&c.PublicURL, "PUBLIC_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.MeiliURL, "MEILI_URL")
	setString(&c.MeiliMasterKey, "MEILI_MASTER_KEY")
	setString(&c.SMTPHost, "SMTP_HOST")
	setString(&c.SMTPPort, "SMTP_PORT")
	setString(&c.SMTPUsername, "SMTP_USERNAME")
	setString(&c.SMTPPassword, "SMTP_PASSWORD")
	setString(&c.SMTPFrom, "SMTP_FROM")
	setString(&c.SMTPFromName, "SMTP_FROM_NAME")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.S3Endpoint, "S3_ENDPOINT")
	setString(&c.S3AccessKey, "S3_ACCESS_KEY")
	setString(&c.S3SecretKey, "S3_SECRET_KEY")
	setString(&c.S3Bucket, "S3_BUCKET")

	var errs []error
	errs = append(errs,
		setInt(&c.SortKeyRetries, "SORT_KEY_RETRIES"),
		setBool(&c.RequireIfMatch, "REQUIRE_IF_MATCH"),
		setBool(&c.S3UseSSL, "S3_USE_SSL"),
		setDuration(&c.InvitationTTL, "INVITATION_TTL"),
		setDuration(&c.IdempotencyTTL, "IDEMPOTENCY_TTL"),
	)
	return errors.Join(errs...)
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	switch strings.ToLower(c.DatabaseDriver) {
	case "memory":
	case "postgres", "sqlite":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.SortKeyRetries < 0 || c.SortKeyRetries > 10 {
		return fmt.Errorf("SORT_KEY_RETRIES must be between 0 and 10, got %d", c.SortKeyRetries)
	}
	if c.InvitationTTL <= 0 {
		return errors.New("INVITATION_TTL must be positive")
	}
	if c.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be positive")
	}
	return nil
}

func (c Config) S3Configured() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setBool(dst *bool, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}
