package app

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home      string // config directory, e.g. $HOME/.pairlink
	RelayURL  string // relay base URL, e.g. http://127.0.0.1:8080
	RedisAddr string // optional; empty selects the in-memory store
	LogLevel  string // debug, info, warn, error

	ProposeTimeout time.Duration
	RequestTimeout time.Duration
}

// FromEnv builds a config from the environment, reading a .env file first
// if one is present.
func FromEnv() Config {
	_ = godotenv.Load()
	cfg := Config{
		Home:           os.Getenv("PAIRLINK_HOME"),
		RelayURL:       getenv("PAIRLINK_RELAY_URL", "http://127.0.0.1:8080"),
		RedisAddr:      os.Getenv("PAIRLINK_REDIS_ADDR"),
		LogLevel:       getenv("PAIRLINK_LOG_LEVEL", "info"),
		ProposeTimeout: getdur("PAIRLINK_PROPOSE_TIMEOUT", 5*time.Minute),
		RequestTimeout: getdur("PAIRLINK_REQUEST_TIMEOUT", 30*time.Second),
	}
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
