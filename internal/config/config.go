package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Billing   BillingConfig
	SMTP      SMTPConfig
	Redis     RedisConfig
	Tenant    TenantConfig
	Worker    WorkerConfig
	Tasks     TasksConfig
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type JWTConfig struct {
	Secret             string `mapstructure:"secret"`
	RefreshSecret      string `mapstructure:"refresh_secret"`
	ExpiryHours        int    `mapstructure:"expiry_hours"`
	RefreshExpiryHours int    `mapstructure:"refresh_expiry_hours"`
}

type BillingConfig struct {
	WebhookSecret    string `mapstructure:"webhook_secret"`
	ProviderBaseURL  string `mapstructure:"provider_base_url"`
	ProviderAPIKey   string `mapstructure:"provider_api_key"`
	CheckoutSuccess  string `mapstructure:"checkout_success_url"`
	CheckoutCancel   string `mapstructure:"checkout_cancel_url"`
	PortalReturnURL  string `mapstructure:"portal_return_url"`
	ToleranceSeconds int    `mapstructure:"tolerance_seconds"`
}

// Tolerance bounds webhook signature timestamp skew.
func (c BillingConfig) Tolerance() time.Duration {
	if c.ToleranceSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ToleranceSeconds) * time.Second
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TenantConfig struct {
	RootDomain      string `mapstructure:"root_domain"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

func (c TenantConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

type WorkerConfig struct {
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
	PendingTTLHours      int `mapstructure:"pending_ttl_hours"`
	RetentionDays        int `mapstructure:"retention_days"`
}

func (c WorkerConfig) SweepInterval() time.Duration {
	if c.SweepIntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func (c WorkerConfig) PendingTTL() time.Duration {
	if c.PendingTTLHours <= 0 {
		return 48 * time.Hour
	}
	return time.Duration(c.PendingTTLHours) * time.Hour
}

func (c WorkerConfig) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

type TasksConfig struct {
	QueueSize      int `mapstructure:"queue_size"`
	Workers        int `mapstructure:"workers"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

func (c TasksConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	WindowSeconds     int     `mapstructure:"window_seconds"`
	PerIPLimit        int     `mapstructure:"per_ip_limit"`
}

func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// Secrets are the values that must never live in the config file. They
// override whatever the file carries.
type Secrets struct {
	DatabasePassword     string `envconfig:"DATABASE_PASSWORD"`
	JWTSecret            string `envconfig:"JWT_SECRET"`
	JWTRefreshSecret     string `envconfig:"JWT_REFRESH_SECRET"`
	BillingWebhookSecret string `envconfig:"BILLING_WEBHOOK_SECRET"`
	BillingAPIKey        string `envconfig:"BILLING_API_KEY"`
	SMTPPassword         string `envconfig:"SMTP_PASSWORD"`
	RedisPassword        string `envconfig:"REDIS_PASSWORD"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process("docskit", &secrets); err != nil {
		return nil, fmt.Errorf("failed to process secrets: %w", err)
	}
	config.applySecrets(secrets)

	return &config, nil
}

func (c *Config) applySecrets(s Secrets) {
	if s.DatabasePassword != "" {
		c.Database.Password = s.DatabasePassword
	}
	if s.JWTSecret != "" {
		c.JWT.Secret = s.JWTSecret
	}
	if s.JWTRefreshSecret != "" {
		c.JWT.RefreshSecret = s.JWTRefreshSecret
	}
	if s.BillingWebhookSecret != "" {
		c.Billing.WebhookSecret = s.BillingWebhookSecret
	}
	if s.BillingAPIKey != "" {
		c.Billing.ProviderAPIKey = s.BillingAPIKey
	}
	if s.SMTPPassword != "" {
		c.SMTP.Password = s.SMTPPassword
	}
	if s.RedisPassword != "" {
		c.Redis.Password = s.RedisPassword
	}
}
