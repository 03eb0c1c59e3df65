package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server configures the reference backend in cmd/server.
type Server struct {
	Port               string
	AllowedOrigin      string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	SnapshotTTLSeconds int
}

// Client configures the offline-first terminal client.
type Client struct {
	Endpoint       string
	DBPath         string
	ProbeInterval  time.Duration
	HTTPTimeout    time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// LoadDotEnv reads .env files into the environment. Missing files are fine.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] WARN: failed to load .env: %v", err)
	}
}

func LoadServer() Server {
	return Server{
		Port:               getEnv("PORT", "8080"),
		AllowedOrigin:      getEnv("ALLOWED_ORIGIN", "*"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getInt("REDIS_DB", 0, 0),
		SnapshotTTLSeconds: getInt("SNAPSHOT_TTL_SECONDS", 30, 1),
	}
}

func (c Server) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// LoadClient layers environment variables over the values in file.
func LoadClient(file File) Client {
	file = file.withDefaults()
	return Client{
		Endpoint:       strings.TrimSpace(getEnv("TALLYBILL_ENDPOINT", file.Remote.Endpoint)),
		DBPath:         getEnv("TALLYBILL_DB_PATH", file.Local.DBPath),
		ProbeInterval:  time.Duration(getInt("TALLYBILL_PROBE_INTERVAL_SECONDS", file.Sync.ProbeIntervalSeconds, 1)) * time.Second,
		HTTPTimeout:    time.Duration(getInt("TALLYBILL_HTTP_TIMEOUT_SECONDS", file.Remote.TimeoutSeconds, 1)) * time.Second,
		RetryBaseDelay: time.Duration(getInt("TALLYBILL_RETRY_BASE_MS", file.Sync.RetryBaseMS, 1)) * time.Millisecond,
		RetryMaxDelay:  time.Duration(getInt("TALLYBILL_RETRY_MAX_MS", file.Sync.RetryMaxMS, 1)) * time.Millisecond,
	}
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback, min int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < min {
		return fallback
	}
	return n
}
