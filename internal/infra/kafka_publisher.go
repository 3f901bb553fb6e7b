package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// DefaultKafkaTopic receives session events when no topic is configured.
const DefaultKafkaTopic = "proctord.session-events"

// recordProducer is the subset of *kgo.Client used by KafkaPublisher.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher forwards session events to a Kafka topic, keyed by session
// id so a session's events stay ordered within one partition.
type KafkaPublisher struct {
	client recordProducer
	topic  string
}

// NewKafkaClient connects to the comma-separated seed brokers.
func NewKafkaClient(brokers string) (*kgo.Client, error) {
	seeds := strings.Split(brokers, ",")
	for i := range seeds {
		seeds[i] = strings.TrimSpace(seeds[i])
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(seeds...))
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return client, nil
}

// NewKafkaPublisher creates a publisher producing to topic.
func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return newKafkaPublisher(client, topic)
}

func newKafkaPublisher(client recordProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaPublisher{client: client, topic: topic}
}

// Name identifies the sink in logs.
func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish produces one event synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publish: marshal: %w", err)
	}

	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(event.SessionID),
		Value:     data,
		Timestamp: event.At,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close flushes and closes the client.
func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}

var _ domain.EventSink = (*KafkaPublisher)(nil)
