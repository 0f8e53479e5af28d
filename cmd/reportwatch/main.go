package main

import (
	"log"
	"log/slog"
	"os"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/seantiz/reportwatch/internal/analytics"
	"github.com/seantiz/reportwatch/internal/api"
	"github.com/seantiz/reportwatch/internal/config"
	"github.com/seantiz/reportwatch/internal/store"
	"github.com/seantiz/reportwatch/internal/transport"
	"github.com/seantiz/reportwatch/internal/watch"
)

const kafkaClientID = "reportwatch"

func main() {
	_, _ = maxprocs.Set()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("reportwatch: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"api_base_url", cfg.APIBaseURL,
		"poll_interval", cfg.PollInterval,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	handler, closeSinks := analyticsHandler(cfg, logger)
	defer closeSinks()

	tracker := analytics.NewTracker(logger, analytics.WithHandler(handler))
	defer tracker.Close()

	client := transport.NewClient(cfg.APIBaseURL,
		transport.WithLogger(logger),
		transport.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	manager := watch.NewManager(client, db, logger, watch.Options{
		Interval: cfg.PollInterval,
		Tracker:  tracker,
	})

	srv := api.NewServer(cfg.ListenAddr, db, manager, client, tracker, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// analyticsHandler builds the event sink from the configured brokers. Events
// are always logged; NATS and Kafka are added when configured and reachable.
func analyticsHandler(cfg config.Config, logger *slog.Logger) (analytics.Handler, func()) {
	handlers := analytics.MultiHandler{analytics.NewLogHandler(logger)}
	var closers []func()

	if cfg.NATSURL != "" {
		nc, err := analytics.ConnectNATS(cfg.NATSURL, cfg.ConnectTimeout, logger)
		if err != nil {
			logger.Error("analytics: nats unavailable, continuing without it", "url", cfg.NATSURL, "error", err)
		} else {
			handlers = append(handlers, analytics.NewNATSHandler(nc, cfg.NATSSubject))
			closers = append(closers, func() {
				if err := nc.Drain(); err != nil {
					logger.Error("analytics: drain nats", "error", err)
				}
			})
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := analytics.ConnectKafka(cfg.KafkaBrokers, kafkaClientID, cfg.ConnectTimeout, logger)
		if err != nil {
			logger.Error("analytics: kafka unavailable, continuing without it", "brokers", cfg.KafkaBrokers, "error", err)
		} else {
			handlers = append(handlers, analytics.NewKafkaHandler(producer, cfg.KafkaTopic))
			closers = append(closers, func() {
				if err := producer.Close(); err != nil {
					logger.Error("analytics: close kafka producer", "error", err)
				}
			})
		}
	}

	return handlers, func() {
		for _, c := range closers {
			c()
		}
	}
}
