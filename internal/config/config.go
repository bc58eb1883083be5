package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TelegramBotToken string
	DatabaseURL      string
	RedisURL         string
	WebhookSecret    string
	APIKey           string
	KafkaBrokers     []string

	OpenAIAPIKey string
	OpenAIModel  string

	IngestDeadline time.Duration
	DedupWindow    time.Duration

	MaxOpenTrades int

	ConditionSweepSecs int
	DeliverySweepSecs  int

	DispatchBatchSize     int
	DeliveryMaxAttempts   int
	DeliveryBackoffCap    time.Duration
	DeliveryLease         time.Duration
	ChannelRatePerMinute  int
	DeliveryRetentionDays int

	SSHListenAddr string
	SSHHostKey    string
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		APIKey:           os.Getenv("API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.WebhookSecret == "" {
		log.Println("Warning: WEBHOOK_SECRET not set, webhook signatures will not be verified")
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, broker := range strings.Split(v, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}

	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	cfg.IngestDeadline = 300 * time.Millisecond
	if v := strings.TrimSpace(os.Getenv("INGEST_DEADLINE_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.IngestDeadline = time.Duration(n) * time.Millisecond
		}
	}

	cfg.DedupWindow = 5 * time.Minute
	if v := strings.TrimSpace(os.Getenv("DEDUP_WINDOW_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DedupWindow = time.Duration(n) * time.Second
		}
	}

	cfg.MaxOpenTrades = 3
	if v := strings.TrimSpace(os.Getenv("MAX_OPEN_TRADES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxOpenTrades = n
		}
	}

	cfg.ConditionSweepSecs = 5
	if v := strings.TrimSpace(os.Getenv("CONDITION_SWEEP_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ConditionSweepSecs = n
		}
	}

	cfg.DeliverySweepSecs = 2
	if v := strings.TrimSpace(os.Getenv("DELIVERY_SWEEP_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DeliverySweepSecs = n
		}
	}

	cfg.DispatchBatchSize = 20
	if v := strings.TrimSpace(os.Getenv("DISPATCH_BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DispatchBatchSize = n
		}
	}

	cfg.DeliveryMaxAttempts = 3
	if v := strings.TrimSpace(os.Getenv("DELIVERY_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DeliveryMaxAttempts = n
		}
	}

	cfg.DeliveryBackoffCap = 5 * time.Minute
	if v := strings.TrimSpace(os.Getenv("DELIVERY_BACKOFF_CAP_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DeliveryBackoffCap = time.Duration(n) * time.Second
		}
	}

	cfg.DeliveryLease = 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("DELIVERY_LEASE_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DeliveryLease = time.Duration(n) * time.Second
		}
	}

	cfg.ChannelRatePerMinute = 20
	if v := strings.TrimSpace(os.Getenv("CHANNEL_RATE_PER_MINUTE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChannelRatePerMinute = n
		}
	}

	cfg.DeliveryRetentionDays = 14
	if v := strings.TrimSpace(os.Getenv("DELIVERY_RETENTION_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DeliveryRetentionDays = n
		}
	}

	cfg.SSHListenAddr = strings.TrimSpace(os.Getenv("SSH_LISTEN_ADDR"))
	if cfg.SSHListenAddr == "" {
		cfg.SSHListenAddr = "localhost:23234"
	}
	cfg.SSHHostKey = strings.TrimSpace(os.Getenv("SSH_HOST_KEY_PATH"))
	if cfg.SSHHostKey == "" {
		cfg.SSHHostKey = ".ssh/tradewire_ed25519"
	}

	return cfg
}
