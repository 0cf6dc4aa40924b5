package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Port                       string
	Env                        string
	LogLevel                   string
	AllowedOrigin              string
	DatabaseURL                string
	DBMaxOpenConns             int
	RedisAddr                  string
	RedisPassword              string
	RedisDB                    int
	TransactionCacheTTLSeconds int
	AMQPURL                    string
	AMQPExchange               string
	AuthSecret                 string
	AccessTokenTTLMinutes      int
	ManagerPIN                 string
	StoreTimezone              string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                       getEnv("PORT", "8080"),
		Env:                        getEnv("APP_ENV", "production"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		AllowedOrigin:              getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:             getEnvInt("DB_MAX_OPEN_CONNS", 30),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		RedisPassword:              os.Getenv("REDIS_PASSWORD"),
		RedisDB:                    redisDB,
		TransactionCacheTTLSeconds: getEnvInt("TRANSACTION_CACHE_TTL_SECONDS", 300),
		AMQPURL:                    os.Getenv("AMQP_URL"),
		AMQPExchange:               getEnv("AMQP_EXCHANGE", "flowerbelle.sales"),
		AuthSecret:                 strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:      getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:                 strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		StoreTimezone:              getEnv("STORE_TIMEZONE", "Asia/Manila"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) TransactionCacheTTL() time.Duration {
	return time.Duration(c.TransactionCacheTTLSeconds) * time.Second
}

// Location resolves StoreTimezone; transaction numbers and daily reports
// use the shop's calendar day.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.StoreTimezone)
	if err != nil {
		return nil, fmt.Errorf("load STORE_TIMEZONE %q: %w", c.StoreTimezone, err)
	}
	return loc, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getEnvInt returns fallback for unset, malformed or non-positive values.
func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
