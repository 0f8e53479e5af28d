package config

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "reportwatch.db"
	defaultAPIBaseURL     = "http://localhost:8000"
	defaultPollInterval   = 2500 * time.Millisecond
	defaultRateLimitBurst = 1
	defaultNATSSubject    = "reportwatch.analytics"
	defaultKafkaTopic     = "reportwatch-analytics"
	defaultConnectTimeout = 30 * time.Second

	envListenAddr     = "REPORTWATCH_LISTEN_ADDR"
	envDBPath         = "REPORTWATCH_DB_PATH"
	envLogLevel       = "REPORTWATCH_LOG_LEVEL"
	envAPIBaseURL     = "REPORTWATCH_API_BASE_URL"
	envPollInterval   = "REPORTWATCH_POLL_INTERVAL"
	envRateLimitRPS   = "REPORTWATCH_RATE_LIMIT_RPS"
	envRateLimitBurst = "REPORTWATCH_RATE_LIMIT_BURST"
	envNATSURL        = "REPORTWATCH_NATS_URL"
	envNATSSubject    = "REPORTWATCH_NATS_SUBJECT"
	envKafkaBrokers   = "REPORTWATCH_KAFKA_BROKERS"
	envKafkaTopic     = "REPORTWATCH_KAFKA_TOPIC"
	envConnectTimeout = "REPORTWATCH_BROKER_CONNECT_TIMEOUT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// APIBaseURL is the report API the gateway submits to and polls.
	APIBaseURL   string
	PollInterval time.Duration
	// RateLimitRPS caps calls to the report API. Zero disables the limit.
	RateLimitRPS   float64
	RateLimitBurst int

	// Analytics sinks. Empty URL or broker list disables the sink.
	NATSURL        string
	NATSSubject    string
	KafkaBrokers   []string
	KafkaTopic     string
	ConnectTimeout time.Duration
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
// Unparseable values fall back to their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		APIBaseURL:     defaultAPIBaseURL,
		PollInterval:   defaultPollInterval,
		RateLimitBurst: defaultRateLimitBurst,
		NATSSubject:    defaultNATSSubject,
		KafkaTopic:     defaultKafkaTopic,
		ConnectTimeout: defaultConnectTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envAPIBaseURL); v != "" {
		cfg.APIBaseURL = v
	}
	cfg.PollInterval = parseDuration(os.Getenv(envPollInterval), cfg.PollInterval)
	cfg.RateLimitRPS = parseFloat(os.Getenv(envRateLimitRPS), cfg.RateLimitRPS)
	cfg.RateLimitBurst = parseInt(os.Getenv(envRateLimitBurst), cfg.RateLimitBurst)

	cfg.NATSURL = os.Getenv(envNATSURL)
	if v := os.Getenv(envNATSSubject); v != "" {
		cfg.NATSSubject = v
	}
	cfg.KafkaBrokers = parseList(os.Getenv(envKafkaBrokers))
	if v := os.Getenv(envKafkaTopic); v != "" {
		cfg.KafkaTopic = v
	}
	cfg.ConnectTimeout = parseDuration(os.Getenv(envConnectTimeout), cfg.ConnectTimeout)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseDuration accepts Go durations ("2.5s") or bare milliseconds ("2500").
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if ms, err := strconv.Atoi(s); err == nil {
		if ms <= 0 {
			return def
		}
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
