package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 10 * time.Second

// Config selects the brokers and the topic a Publisher writes to.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Message is one record. Headers are written in key order.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Publisher writes records to its configured topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type publisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher returns an asynchronous publisher for cfg.Topic. Records with
// the same key land on the same partition; delivery failures are logged.
func NewPublisher(cfg Config, logger *zap.Logger) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("topic", cfg.Topic))

	p := &publisher{topic: cfg.Topic, timeout: cfg.WriteTimeout, logger: logger}
	if p.timeout <= 0 {
		p.timeout = defaultWriteTimeout
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           p.timeout,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion:             p.delivered,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn("kafka writer", zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	}
	return p, nil
}

// delivered is the async completion callback.
func (p *publisher) delivered(messages []kafka.Message, err error) {
	for _, msg := range messages {
		if err != nil {
			p.logger.Error("payment event not delivered",
				zap.String("key", string(msg.Key)),
				zap.String("event_type", headerValue(msg.Headers, "event_type")),
				zap.Error(err),
			)
			continue
		}
		p.logger.Debug("payment event delivered", zap.String("key", string(msg.Key)))
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (p *publisher) Publish(ctx context.Context, msg Message) error {
	record := kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Value,
		Time:  time.Now().UTC(),
	}
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		record.Headers = append(record.Headers, kafka.Header{Key: k, Value: []byte(msg.Headers[k])})
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka publisher: %w", err)
	}
	p.logger.Info("kafka publisher closed")
	return nil
}
