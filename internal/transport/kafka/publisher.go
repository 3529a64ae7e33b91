package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/errors"
)

// Ensure implementation satisfies interface at compile time.
var _ DeadLetterPublisher = (*Publisher)(nil)

// DeadLetter is the record published for a frame that could not be decoded.
type DeadLetter struct {
	OriginalValue     []byte    `json:"original_value"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	FailureReason     string    `json:"failure_reason"`
	FailureTimestamp  time.Time `json:"failure_timestamp"`
	ProcessorID       string    `json:"processor_id"`
}

// Publisher writes frames to Kafka with the envelope carried as a record header.
type Publisher struct {
	producer        sarama.SyncProducer
	envelopeHeader  string
	deadLetterTopic string
	processorID     string
	logger          *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a publisher backed by a sarama sync producer.
func NewPublisher(config Config, logger *zap.Logger) (*Publisher, error) {
	if len(config.BootstrapServers) == 0 {
		return nil, fmt.Errorf("kafka bootstrap servers are required")
	}
	saramaConfig, err := config.producerConfig()
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(config.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	p := newPublisher(producer, config, logger)
	p.logger.Info("kafka publisher created",
		zap.Strings("bootstrap_servers", config.BootstrapServers),
		zap.String("dead_letter_topic", config.DeadLetterTopic),
	)
	return p, nil
}

func newPublisher(producer sarama.SyncProducer, config Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	processorID := config.ClientID
	if processorID == "" {
		processorID = config.GroupID
	}
	return &Publisher{
		producer:        producer,
		envelopeHeader:  config.envelopeHeader(),
		deadLetterTopic: config.DeadLetterTopic,
		processorID:     processorID,
		logger:          logger,
	}
}

// Publish sends one frame. envelope and headers may be nil.
func (p *Publisher) Publish(
	ctx context.Context,
	topic, key string,
	value, envelope []byte,
	headers map[string]string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrTransportClosed
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	if len(envelope) > 0 {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(p.envelopeHeader),
			Value: envelope,
		})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish frame", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.Debug("published frame",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// PublishDeadLetter forwards msg to the dead-letter topic. It is a no-op when
// no dead-letter topic is configured.
func (p *Publisher) PublishDeadLetter(msg *sarama.ConsumerMessage, reason string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrTransportClosed
	}
	if p.deadLetterTopic == "" {
		p.logger.Debug("dead-letter topic not configured, skipping")
		return nil
	}

	data, err := json.Marshal(DeadLetter{
		OriginalValue:     msg.Value,
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		FailureReason:     reason,
		FailureTimestamp:  time.Now().UTC(),
		ProcessorID:       p.processorID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	out := &sarama.ProducerMessage{
		Topic: p.deadLetterTopic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(reason)},
			{Key: []byte("original_topic"), Value: []byte(msg.Topic)},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: time.Now(),
	}
	if len(msg.Key) > 0 {
		out.Key = sarama.ByteEncoder(msg.Key)
	}

	partition, offset, err := p.producer.SendMessage(out)
	if err != nil {
		p.logger.Error("failed to publish dead letter",
			zap.String("dead_letter_topic", p.deadLetterTopic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send dead letter: %w", err)
	}

	p.logger.Info("published dead letter",
		zap.String("dead_letter_topic", p.deadLetterTopic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("reason", reason),
	)
	return nil
}

// Close closes the underlying producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.producer.Close(); err != nil {
		p.logger.Error("error closing producer", zap.Error(err))
		return err
	}
	p.logger.Info("kafka publisher closed")
	return nil
}
