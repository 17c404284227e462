// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
	URL      string
}

// DSN prefers DATABASE_URL when set.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	ConfigTTL time.Duration
}

type AMQPConfig struct {
	URL        string
	Exchange   string
	DrainQueue string
}

type WhatsAppConfig struct {
	APIURL   string
	APIKey   string
	Instance string
	Timeout  time.Duration
}

type MercadoPagoConfig struct {
	AccessToken   string
	WebhookSecret string
	APIURL        string
	Timeout       time.Duration
}

type WorkerConfig struct {
	DrainInterval time.Duration
	BatchSize     int
	StaleAfter    time.Duration
	LockTTL       time.Duration
}

type Config struct {
	ServerPort     string
	MetricsAddr    string
	LogLevel       string
	LogFormat      string
	BootstrapToken string

	DB          DBConfig
	Redis       RedisConfig
	AMQP        AMQPConfig
	WhatsApp    WhatsAppConfig
	MercadoPago MercadoPagoConfig
	Worker      WorkerConfig
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (*Config, error) {
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	batchSize, err := strconv.Atoi(getEnv("DRAIN_BATCH_SIZE", "100"))
	if err != nil || batchSize < 1 {
		return nil, fmt.Errorf("invalid DRAIN_BATCH_SIZE: %q", os.Getenv("DRAIN_BATCH_SIZE"))
	}

	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		BootstrapToken: getEnv("API_BOOTSTRAP_TOKEN", ""),
		DB: DBConfig{
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "cart_recovery"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			URL:      getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		AMQP: AMQPConfig{
			URL:        getEnv("AMQP_URL", ""),
			Exchange:   getEnv("AMQP_EXCHANGE", "cart_recovery"),
			DrainQueue: getEnv("AMQP_DRAIN_QUEUE", "cart_recovery_drain"),
		},
		WhatsApp: WhatsAppConfig{
			APIURL:   getEnv("WHATSAPP_API_URL", ""),
			APIKey:   getEnv("WHATSAPP_API_KEY", ""),
			Instance: getEnv("WHATSAPP_INSTANCE", ""),
		},
		MercadoPago: MercadoPagoConfig{
			AccessToken:   getEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
			WebhookSecret: getEnv("MERCADOPAGO_WEBHOOK_SECRET", ""),
			APIURL:        getEnv("MERCADOPAGO_API_URL", "https://api.mercadopago.com"),
		},
		Worker: WorkerConfig{
			BatchSize: batchSize,
		},
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"REDIS_CONFIG_TTL", "1m", &cfg.Redis.ConfigTTL},
		{"WHATSAPP_TIMEOUT", "15s", &cfg.WhatsApp.Timeout},
		{"MERCADOPAGO_TIMEOUT", "10s", &cfg.MercadoPago.Timeout},
		{"DRAIN_INTERVAL", "1m", &cfg.Worker.DrainInterval},
		{"SCHEDULE_STALE_AFTER", "15m", &cfg.Worker.StaleAfter},
		{"DRAIN_LOCK_TTL", "5m", &cfg.Worker.LockTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = v
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
