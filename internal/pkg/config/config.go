package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the typed runtime configuration shared by the API server and the
// worker process.
type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"prod"`
	AppHost string `env:"APP_HOST" envDefault:"localhost"`
	AppPort string `env:"APP_PORT" envDefault:"4000"`

	DB    DatabaseConfig
	Cache CacheConfig

	Razorpay RazorpayConfig
	Queue    QueueConfig

	// RunWorkers embeds the webhook workers into the API process.
	RunWorkers    bool          `env:"RUN_WORKERS" envDefault:"true"`
	StatusTimeout time.Duration `env:"STATUS_TIMEOUT" envDefault:"5s"`

	Mail       MailConfig
	Kafka      KafkaConfig
	DeadLetter DeadLetterConfig

	AdminUser         string `env:"ADMIN_USER" envDefault:"admin"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`
}

type DatabaseConfig struct {
	Driver   string `env:"DB_DRIVER" envDefault:"mysql"`
	Host     string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port     string `env:"DB_PORT" envDefault:"3306"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
}

type CacheConfig struct {
	Host     string `env:"CACHE_HOST" envDefault:"localhost"`
	Port     string `env:"CACHE_PORT" envDefault:"6379"`
	Password string `env:"CACHE_PASSWORD"`
	DB       int    `env:"CACHE_DB" envDefault:"0"`
}

type RazorpayConfig struct {
	KeySecret     string `env:"RAZORPAY_KEY_SECRET"`
	WebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`
}

type QueueConfig struct {
	Name          string        `env:"QUEUE_NAME" envDefault:"payment-webhook"`
	Concurrency   int           `env:"QUEUE_CONCURRENCY" envDefault:"5"`
	MaxAttempts   int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	BackoffDelay  time.Duration `env:"QUEUE_BACKOFF_DELAY" envDefault:"30s"`
	KeepCompleted int64         `env:"QUEUE_KEEP_COMPLETED" envDefault:"50"`
	KeepFailed    int64         `env:"QUEUE_KEEP_FAILED" envDefault:"100"`
	LockDuration  time.Duration `env:"QUEUE_LOCK_DURATION" envDefault:"30s"`
	MaxStalled    int           `env:"QUEUE_MAX_STALLED" envDefault:"1"`
}

type MailConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     string `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"MAIL_FROM"`
}

// Enabled reports whether purchase confirmation mails can be sent.
func (m MailConfig) Enabled() bool {
	return m.Host != "" && m.From != ""
}

type KafkaConfig struct {
	BootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	Topic            string `env:"KAFKA_TOPIC" envDefault:"successful_payments"`
}

func (k KafkaConfig) Enabled() bool {
	return k.BootstrapServers != ""
}

type DeadLetterConfig struct {
	Bucket          string `env:"S3_DEADLETTER_BUCKET"`
	Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	EndpointURL     string `env:"S3_ENDPOINT_URL"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	Prefix          string `env:"S3_DEADLETTER_PREFIX" envDefault:"dead-letter"`
}

func (d DeadLetterConfig) Enabled() bool {
	return d.Bucket != "" && d.AccessKeyID != "" && d.SecretAccessKey != ""
}

// Load parses the process environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 1
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 1
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}
