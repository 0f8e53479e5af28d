package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"github.com/nats-io/nats.go"
)

// LogHandler writes each event as a structured log line.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(ctx context.Context, ev Event) error {
	h.logger.InfoContext(ctx, "analytics", "event", ev.Name, "properties", map[string]any(ev.Properties))
	return nil
}

// Publisher is the subset of *nats.Conn used by NATSHandler.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSHandler publishes events as JSON on a NATS subject.
type NATSHandler struct {
	pub     Publisher
	subject string
}

// NewNATSHandler creates a handler publishing on subject.
func NewNATSHandler(pub Publisher, subject string) *NATSHandler {
	return &NATSHandler{pub: pub, subject: subject}
}

func (h *NATSHandler) Handle(_ context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.pub.Publish(h.subject, b); err != nil {
		return fmt.Errorf("nats publish %s: %w", h.subject, err)
	}
	return nil
}

// ConnectNATS dials a NATS server, retrying with exponential backoff for up
// to maxElapsed. The connection reconnects forever once established.
func ConnectNATS(url string, maxElapsed time.Duration, logger *slog.Logger) (*nats.Conn, error) {
	var nc *nats.Conn

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = 500 * time.Millisecond

	operation := func() error {
		var err error
		nc, err = nats.Connect(url,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.Timeout(5*time.Second),
		)
		if err != nil {
			logger.Warn("nats connect failed, retrying", "url", url, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after retries: %w", err)
	}
	return nc, nil
}

// KafkaHandler produces events to a Kafka topic keyed by event name.
type KafkaHandler struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaHandler creates a handler producing to topic.
func NewKafkaHandler(producer sarama.SyncProducer, topic string) *KafkaHandler {
	return &KafkaHandler{producer: producer, topic: topic}
}

func (h *KafkaHandler) Handle(_ context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: h.topic,
		Key:   sarama.StringEncoder(ev.Name),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := h.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka produce %s: %w", h.topic, err)
	}
	return nil
}

// NewKafkaConfig returns the producer configuration used for analytics.
func NewKafkaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// ConnectKafka creates a sync producer, retrying with exponential backoff for
// up to maxElapsed.
func ConnectKafka(brokers []string, clientID string, maxElapsed time.Duration, logger *slog.Logger) (sarama.SyncProducer, error) {
	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = time.Second

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(brokers, NewKafkaConfig(clientID))
		if err != nil {
			logger.Warn("kafka connect failed, retrying", "brokers", brokers, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}
	return producer, nil
}

// MultiHandler delivers each event to every handler and joins their errors.
type MultiHandler []Handler

func (m MultiHandler) Handle(ctx context.Context, ev Event) error {
	var errs []error
	for _, h := range m {
		if err := h.Handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
