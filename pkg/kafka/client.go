package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	kafkago "github.com/segmentio/kafka-go"
)

const defaultWriteTimeout = 10 * time.Second

var errNoBrokers = errors.New("kafka brokers are required")

// Message is a single record routed to a topic. Key keeps events for one
// aggregate on the same partition.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Client wraps a kafka-go writer shared by every topic.
type Client struct {
	writer  messageWriter
	brokers []string
	timeout time.Duration
	dial    func(ctx context.Context, network, address string) (*kafkago.Conn, error)
}

func NewClient(cfg config.KafkaConfig, logg *logger.Logger) (*Client, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: false,
	}

	if logg != nil {
		logg.Info(logg.WithField(context.Background(), "brokers", brokers), "kafka writer initialized")
	}

	return &Client{
		writer:  w,
		brokers: brokers,
		timeout: timeout,
		dial:    kafkago.DialContext,
	}, nil
}

func newClientWithWriter(w messageWriter, brokers []string) *Client {
	return &Client{writer: w, brokers: brokers, timeout: defaultWriteTimeout, dial: kafkago.DialContext}
}

// Publish writes a single message and waits for broker acknowledgement.
func (c *Client) Publish(ctx context.Context, msg Message) error {
	if c == nil || c.writer == nil {
		return errors.New("kafka client not initialized")
	}
	if strings.TrimSpace(msg.Topic) == "" {
		return errors.New("kafka topic is required")
	}

	record := kafkago.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	if err := c.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("write kafka message to %s: %w", msg.Topic, err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("kafka client not initialized")
	}
	var lastErr error
	for _, broker := range c.brokers {
		conn, err := c.dial(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = errNoBrokers
	}
	return fmt.Errorf("kafka ping failed: %w", lastErr)
}

func (c *Client) Close() error {
	if c == nil || c.writer == nil {
		return nil
	}
	return c.writer.Close()
}
