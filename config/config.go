package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/halaqat/scheduler-api/internal/repository/postgres"
	"github.com/halaqat/scheduler-api/internal/transport/email"
	"github.com/halaqat/scheduler-api/internal/transport/whatsapp"
	"github.com/halaqat/scheduler-api/pkg/messaging/redis"
	"github.com/halaqat/scheduler-api/pkg/worker"
)

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type RemindersConfig struct {
	Window24Hours time.Duration `mapstructure:"window_24hours"`
	Window1Hour   time.Duration `mapstructure:"window_1hour"`
	ScanInterval  time.Duration `mapstructure:"scan_interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type OutboxConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Retention    time.Duration `mapstructure:"retention"`
}

type WhatsAppConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Token       string        `mapstructure:"token"`
	SenderID    string        `mapstructure:"sender_id"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxFailures int           `mapstructure:"max_failures"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type TransportConfig struct {
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Email    EmailConfig    `mapstructure:"email"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Reminders RemindersConfig `mapstructure:"reminders"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Transport TransportConfig `mapstructure:"transport"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	LogLevel  string          `mapstructure:"log_level"`
}

// secrets are injected from the environment, never from the YAML file.
type secrets struct {
	DBPassword    string `envconfig:"DB_PASSWORD"`
	RedisURL      string `envconfig:"REDIS_URL"`
	WhatsAppToken string `envconfig:"WHATSAPP_TOKEN"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env secrets
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if env.DBPassword != "" {
		config.Database.Password = env.DBPassword
	}
	if env.RedisURL != "" {
		config.Redis.URL = env.RedisURL
	}
	if env.WhatsAppToken != "" {
		config.Transport.WhatsApp.Token = env.WhatsAppToken
	}
	if env.SMTPPassword != "" {
		config.Transport.Email.Password = env.SMTPPassword
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Reminders.Window24Hours == 0 {
		c.Reminders.Window24Hours = 24 * time.Hour
	}
	if c.Reminders.Window1Hour == 0 {
		c.Reminders.Window1Hour = time.Hour
	}
	if c.Reminders.ScanInterval == 0 {
		c.Reminders.ScanInterval = time.Minute
	}
	if c.Reminders.SweepInterval == 0 {
		c.Reminders.SweepInterval = 5 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *DatabaseConfig) ToRepositoryConfig() postgres.DatabaseConfig {
	return postgres.DatabaseConfig{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		SSLMode:  c.SSLMode,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxConfig {
	return worker.OutboxConfig{
		PollInterval: c.PollInterval,
		BatchSize:    c.BatchSize,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		Retention:    c.Retention,
	}
}

func (c *WhatsAppConfig) ToClientConfig() whatsapp.Config {
	return whatsapp.Config{
		BaseURL:     c.BaseURL,
		Token:       c.Token,
		SenderID:    c.SenderID,
		Timeout:     c.Timeout,
		MaxFailures: c.MaxFailures,
	}
}

func (c *EmailConfig) ToSenderConfig() email.Config {
	return email.Config{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
	}
}
