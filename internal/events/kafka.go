package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Publisher sends envelopes to the external event transport.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// KafkaPublisher publishes envelopes through a sarama async producer. Keyed
// by envelope key so Kafka preserves per-order ordering within a partition.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	lg       *zap.Logger
}

// NewKafkaPublisher connects an async producer tuned for throughput with
// local acks, matching the delivery guarantee the outbox already provides
// (the relay retries unsent records).
func NewKafkaPublisher(brokers []string, lg *zap.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 500 * time.Millisecond
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, errors.Wrap(err, "start kafka producer")
	}

	p := &KafkaPublisher{producer: producer, lg: lg}
	go func() {
		for err := range producer.Errors() {
			p.lg.Error("kafka publish failed",
				zap.String("topic", err.Msg.Topic),
				zap.Error(err.Err))
		}
	}()
	return p, nil
}

// Publish enqueues the envelope on the topic derived from its type.
func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	msg := &sarama.ProducerMessage{
		Topic: TopicFor(env.Type),
		Key:   sarama.StringEncoder(env.Key),
		Value: sarama.ByteEncoder(value),
	}
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes and stops the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher discards envelopes; used when no broker is configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Envelope) error { return nil }
