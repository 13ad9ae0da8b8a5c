package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN          string
	NatsURL        string
	Environment    string
	MigrationsPath string
	SendTimeout    time.Duration // таймаут одной внешней отправки
	MaxSendRetries int           // лимит повторов FAILED-отправок
	RetryInterval  time.Duration // период фонового повтора отправок
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	cfg := &Config{
		DBDSN:          os.Getenv("DB_DSN"),
		NatsURL:        os.Getenv("NATS_URL"),
		Environment:    os.Getenv("ENV"),
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
		SendTimeout:    durationEnv("SEND_TIMEOUT", 5*time.Second),
		MaxSendRetries: intEnv("MAX_SEND_RETRIES", 3),
		RetryInterval:  durationEnv("RETRY_INTERVAL", time.Minute),
	}

	// Устанавливаем дефолтные значения
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "migrations"
	}

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}
	if cfg.NatsURL == "" {
		return nil, fmt.Errorf("NATS_URL is required but not set")
	}

	log.Printf("Config loaded\n")

	return cfg, nil
}

func durationEnv(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %s", name, raw, def)
		return def
	}
	return d
}

func intEnv(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %d", name, raw, def)
		return def
	}
	return n
}
