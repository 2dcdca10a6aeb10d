// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// MigrationConfig controls whether the API applies pending migrations on boot.
type MigrationConfig interface {
	DatabaseConfig
	GetRunMigrations() bool
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq worker and client.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EmailConfig provides SMTP settings for the notification outbox.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// StorageConfig provides settings for the laudo artifact archive (MinIO).
type StorageConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOBucketLaudos() string
	IsMinIOEnabled() bool
}

// LifecycleConfig provides the justification thresholds for inactivation.
type LifecycleConfig interface {
	GetMinJustificationLength() int
	GetMinForcedJustificationLength() int
}

// BillingConfig provides settings for the payment activation gate.
type BillingConfig interface {
	GetResumptionTokenTTL() time.Duration
	GetMinActivationReasonLength() int
}

// NotificationConfig provides settings for the notification module.
type NotificationConfig interface {
	GetAppBaseURL() string
	GetInstallmentReminderWindow() time.Duration
	GetNotificationArchiveAfter() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                          string
	HTTPAddr                     string
	DatabaseURL                  string
	RunMigrations                bool
	JWTAccessSecret              string
	CORSAllowAll                 bool
	CORSOrigins                  []string
	CORSAllowCreds               bool
	AppBaseURL                   string
	RedisURL                     string
	RedisTLSInsecure             bool
	AsynqQueueName               string
	AsynqConcurrency             int
	EmailEnabled                 bool
	SMTPHost                     string
	SMTPPort                     int
	SMTPUsername                 string
	SMTPPassword                 string
	EmailFromName                string
	EmailFromAddress             string
	MinIOEndpoint                string
	MinIOAccessKey               string
	MinIOSecretKey               string
	MinIOUseSSL                  bool
	MinIOBucketLaudos            string
	MinJustificationLength       int
	MinForcedJustificationLength int
	MinActivationReasonLength    int
	ResumptionTokenTTL           time.Duration
	InstallmentReminderWindow    time.Duration
	NotificationArchiveAfter     time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }
func (c *Config) GetRunMigrations() bool { return c.RunMigrations }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// StorageConfig implementation
func (c *Config) GetMinIOEndpoint() string     { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string    { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string    { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool         { return c.MinIOUseSSL }
func (c *Config) GetMinIOBucketLaudos() string { return c.MinIOBucketLaudos }
func (c *Config) IsMinIOEnabled() bool         { return c.MinIOEndpoint != "" }

// LifecycleConfig implementation
func (c *Config) GetMinJustificationLength() int       { return c.MinJustificationLength }
func (c *Config) GetMinForcedJustificationLength() int { return c.MinForcedJustificationLength }

// BillingConfig implementation
func (c *Config) GetResumptionTokenTTL() time.Duration { return c.ResumptionTokenTTL }
func (c *Config) GetMinActivationReasonLength() int    { return c.MinActivationReasonLength }

// NotificationConfig implementation
func (c *Config) GetAppBaseURL() string                       { return c.AppBaseURL }
func (c *Config) GetInstallmentReminderWindow() time.Duration { return c.InstallmentReminderWindow }
func (c *Config) GetNotificationArchiveAfter() time.Duration  { return c.NotificationArchiveAfter }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:                          getEnv("APP_ENV", "development"),
		HTTPAddr:                     getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:                  getEnv("DATABASE_URL", ""),
		RunMigrations:                strings.EqualFold(getEnv("RUN_MIGRATIONS", "true"), "true"),
		JWTAccessSecret:              getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:                 corsAllowAll,
		CORSOrigins:                  corsOrigins,
		CORSAllowCreds:               strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		AppBaseURL:                   getEnv("APP_BASE_URL", "http://localhost:3000"),
		RedisURL:                     getEnv("REDIS_URL", ""),
		RedisTLSInsecure:             strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:               getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:             mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		EmailEnabled:                 emailEnabled && smtpHost != "",
		SMTPHost:                     smtpHost,
		SMTPPort:                     mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:                 getEnv("SMTP_USERNAME", ""),
		SMTPPassword:                 getEnv("SMTP_PASSWORD", ""),
		EmailFromName:                getEnv("EMAIL_FROM_NAME", "QWork"),
		EmailFromAddress:             getEnv("EMAIL_FROM_ADDRESS", ""),
		MinIOEndpoint:                getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:               getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:               getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:                  strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOBucketLaudos:            getEnv("MINIO_BUCKET_LAUDOS", "laudos"),
		MinJustificationLength:       mustInt(getEnv("INATIVACAO_MIN_JUSTIFICATIVA", "10")),
		MinForcedJustificationLength: mustInt(getEnv("INATIVACAO_MIN_JUSTIFICATIVA_FORCADA", "50")),
		MinActivationReasonLength:    mustInt(getEnv("ATIVACAO_MIN_MOTIVO", "10")),
		ResumptionTokenTTL:           mustDuration(getEnv("TOKEN_RETOMADA_TTL", "72h")),
		InstallmentReminderWindow:    mustDuration(getEnv("PARCELA_LEMBRETE_JANELA", "72h")),
		NotificationArchiveAfter:     mustDuration(getEnv("NOTIFICACAO_ARQUIVAR_APOS", "720h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.MinJustificationLength <= 0 || cfg.MinForcedJustificationLength < cfg.MinJustificationLength {
		return nil, fmt.Errorf("invalid inactivation justification thresholds")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
