package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/modoria-backend/pkg/kafka"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/registry"
)

const (
	transportPubSub = "pubsub"
	transportKafka  = "kafka"
)

type outboundMessage struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// sink delivers a resolved outbox row to the configured broker.
type sink interface {
	Name() string
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, msg outboundMessage) error
}

func normalizeTransport(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", transportPubSub:
		return transportPubSub, nil
	case transportKafka:
		return transportKafka, nil
	default:
		return "", fmt.Errorf("unsupported events transport %q", value)
	}
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type pubSubSink struct {
	client pubSubClient

	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

func newPubSubSink(client pubSubClient) *pubSubSink {
	return &pubSubSink{client: client, publishers: map[string]*gcppubsub.Publisher{}}
}

func (s *pubSubSink) Name() string { return transportPubSub }

func (s *pubSubSink) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *pubSubSink) publisher(topic string) *gcppubsub.Publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.publishers[topic]; ok {
		return p
	}
	p := s.client.Publisher(topic)
	if p != nil {
		s.publishers[topic] = p
	}
	return p
}

func (s *pubSubSink) Publish(ctx context.Context, topic string, msg outboundMessage) error {
	pub := s.publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if result == nil {
		return errors.New("publish result is nil")
	}
	_, err := result.Get(ctx)
	return err
}

// Stop flushes and stops every cached publisher.
func (s *pubSubSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, p := range s.publishers {
		p.Stop()
		delete(s.publishers, topic)
	}
}

type kafkaPublisher interface {
	Ping(context.Context) error
	Publish(ctx context.Context, msg kafka.Message) error
}

type kafkaSink struct {
	client kafkaPublisher
}

func newKafkaSink(client kafkaPublisher) *kafkaSink {
	return &kafkaSink{client: client}
}

func (s *kafkaSink) Name() string { return transportKafka }

func (s *kafkaSink) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *kafkaSink) Publish(ctx context.Context, topic string, msg outboundMessage) error {
	return s.client.Publish(ctx, kafka.Message{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Data,
		Headers: msg.Attributes,
	})
}
