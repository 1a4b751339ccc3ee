package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	DBDriver string // mysql | postgres | sqlite
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ChangefeedTransport string // redis | local

	KafkaBrokers string
	KafkaTopic   string

	JWTAccessSecret  string
	JWTRefreshSecret string

	OutboxInterval    time.Duration
	ReconcileInterval time.Duration
	FeedWindow        int

	BlobDir     string
	BlobBaseURL string

	LogLevel  string
	LogFormat string

	AllowedOrigins []string
}

// Load 先读 .env（不存在则忽略），再读环境变量
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	cfg := &Config{
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		DBDriver:            strings.ToLower(getenv("DB_DRIVER", "mysql")),
		DBDSN:               getenv("DB_DSN", "user:password@tcp(127.0.0.1:3306)/community?charset=utf8mb4&parseTime=True"),
		RedisAddr:           getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		ChangefeedTransport: strings.ToLower(getenv("CHANGEFEED_TRANSPORT", "redis")),
		KafkaBrokers:        os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:          getenv("KAFKA_TOPIC", "community.changes"),
		JWTAccessSecret:     os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret:    os.Getenv("JWT_REFRESH_SECRET"),
		BlobDir:             getenv("BLOB_DIR", "./data/blobs"),
		BlobBaseURL:         getenv("BLOB_BASE_URL", "/media"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogFormat:           getenv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.FeedWindow, err = getInt("FEED_WINDOW", 50); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = getDuration("OUTBOX_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	for _, o := range strings.Split(getenv("ALLOWED_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql, postgres or sqlite, got %q", c.DBDriver)
	}
	switch c.ChangefeedTransport {
	case "redis", "local":
	default:
		return fmt.Errorf("CHANGEFEED_TRANSPORT must be redis or local, got %q", c.ChangefeedTransport)
	}
	if c.FeedWindow <= 0 {
		return fmt.Errorf("FEED_WINDOW must be positive, got %d", c.FeedWindow)
	}
	if c.OutboxInterval <= 0 || c.ReconcileInterval <= 0 {
		return fmt.Errorf("OUTBOX_INTERVAL and RECONCILE_INTERVAL must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
