package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PresignTTL time.Duration
}

// Enabled reports whether upload targets are presigned against R2 instead
// of being requested from the publish API.
func (r R2) Enabled() bool {
	return r.AccountID != "" && r.AccessKey != "" && r.SecretKey != "" && r.BucketName != ""
}

type PublishAPI struct {
	URL     string
	Timeout time.Duration
}

type Log struct {
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Config struct {
	HTTPAddr         string
	DBDriver         string
	PostgresURI      string
	SQLitePath       string
	RedisURI         string
	QueueConcurrency int
	PublishAPI       PublishAPI
	NetworkProbeAddr string
	ReconcileEvery   string
	R2               R2
	SecretKey        string
	CookieName       string
	Log              Log
}

func LoadConfig() *Config {
	cfg := &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":3000"),
		DBDriver:         getEnv("DB_DRIVER", "sqlite"),
		PostgresURI:      getEnv("POSTGRES_URI", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "data/postflow.db"),
		RedisURI:         getEnv("REDIS_URI", ""),
		QueueConcurrency: getEnvInt("QUEUE_CONCURRENCY", 10),
		PublishAPI: PublishAPI{
			URL:     getEnv("PUBLISH_API_URL", "http://localhost:8080"),
			Timeout: getEnvDuration("PUBLISH_API_TIMEOUT", 30*time.Second),
		},
		NetworkProbeAddr: getEnv("NETWORK_PROBE_ADDR", ""),
		ReconcileEvery:   getEnv("RECONCILE_EVERY", "@every 00h05m00s"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PresignTTL: getEnvDuration("R2_PRESIGN_TTL", 15*time.Minute),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "postflow_session"),
		Log: Log{
			Format:     getEnv("LOG_FORMAT", "text"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if cfg.NetworkProbeAddr == "" {
		cfg.NetworkProbeAddr = probeAddr(cfg.PublishAPI.URL)
	}

	return cfg
}

// DatabaseDSN returns the connection string for the configured driver.
func (c *Config) DatabaseDSN() string {
	if c.DBDriver == "postgres" || c.DBDriver == "postgresql" {
		return c.PostgresURI
	}
	return c.SQLitePath
}

// probeAddr derives host:port of the publish API for the network check.
func probeAddr(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return defaultValue
}
