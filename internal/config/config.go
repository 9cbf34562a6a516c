package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	SQLitePath           string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret  string
	InstanceID string

	LogLevel  string
	LogPretty bool

	Scheduler SchedulerConfig
	Worker    WorkerConfig
	Queue     QueueConfig
	Delivery  DeliveryConfig
}

type SchedulerConfig struct {
	Enabled bool
	Cron    string
}

type WorkerConfig struct {
	Enabled      bool
	Concurrency  int
	PollInterval time.Duration
}

// QueueConfig holds the dispatch queue options fixed at registration time.
type QueueConfig struct {
	Attempts         int
	Backoff          time.Duration
	BackoffType      string
	RemoveOnComplete int
	RemoveOnFail     int
	StaleLock        time.Duration
}

type DeliveryConfig struct {
	Channel          string // http | twilio
	URL              string
	RatePerSecond    float64
	Timeout          time.Duration
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getenv("DATABASE_URL", ""),
		SQLitePath:           getenv("SQLITE_PATH", "remind.db"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		InstanceID:           getenv("INSTANCE_ID", uuid.NewString()),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		LogPretty:            getenv("LOG_PRETTY", "false") == "true",
		Scheduler: SchedulerConfig{
			Enabled: getenv("SCHEDULER_ENABLED", "true") == "true",
			Cron:    getenv("SCHEDULER_CRON", "*/15 * * * *"),
		},
		Worker: WorkerConfig{
			Enabled: getenv("WORKER_ENABLED", "true") == "true",
		},
		Queue: QueueConfig{
			BackoffType: getenv("QUEUE_BACKOFF_TYPE", "fixed"),
		},
		Delivery: DeliveryConfig{
			Channel:          strings.ToLower(getenv("DELIVERY_CHANNEL", "http")),
			URL:              getenv("DELIVERY_URL", "https://httpbin.org/post"),
			TwilioAccountSID: getenv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getenv("TWILIO_AUTH_TOKEN", ""),
			TwilioFromNumber: getenv("TWILIO_FROM_NUMBER", ""),
		},
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var err error
	if cfg.Worker.Concurrency, err = getint("WORKER_CONCURRENCY", 4); err != nil {
		return cfg, err
	}
	if cfg.Worker.PollInterval, err = getduration("WORKER_POLL_INTERVAL", time.Second); err != nil {
		return cfg, err
	}
	if cfg.Queue.Attempts, err = getint("QUEUE_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.Queue.Backoff, err = getduration("QUEUE_BACKOFF", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Queue.RemoveOnComplete, err = getint("QUEUE_REMOVE_ON_COMPLETE", 100); err != nil {
		return cfg, err
	}
	if cfg.Queue.RemoveOnFail, err = getint("QUEUE_REMOVE_ON_FAIL", 50); err != nil {
		return cfg, err
	}
	if cfg.Queue.StaleLock, err = getduration("QUEUE_STALE_LOCK", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.Delivery.Timeout, err = getduration("DELIVERY_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	rate, err := strconv.ParseFloat(getenv("DELIVERY_RATE", "10"), 64)
	if err != nil {
		return cfg, fmt.Errorf("invalid env DELIVERY_RATE: %w", err)
	}
	cfg.Delivery.RatePerSecond = rate

	// A running job older than StaleLock is handed to another worker, so a
	// delivery must give up before that or it is sent twice.
	if cfg.Queue.StaleLock > 0 && (cfg.Delivery.Timeout <= 0 || cfg.Delivery.Timeout >= cfg.Queue.StaleLock) {
		return cfg, fmt.Errorf("invalid env DELIVERY_TIMEOUT: %s must be set and below QUEUE_STALE_LOCK %s",
			cfg.Delivery.Timeout, cfg.Queue.StaleLock)
	}

	switch cfg.Delivery.Channel {
	case "http", "twilio":
	default:
		return cfg, fmt.Errorf("invalid env DELIVERY_CHANNEL: %q", cfg.Delivery.Channel)
	}

	cfg.JWTSecret = mustGetenv("JWT_SECRET")
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getint(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid env %s: %w", key, err)
	}
	return n, nil
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid env %s: %w", key, err)
	}
	return d, nil
}
