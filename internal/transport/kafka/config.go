// Package kafka feeds a port buffer from Kafka topics and publishes frames
// back to Kafka.
package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// DefaultEnvelopeHeader is the record header that carries envelope bytes.
const DefaultEnvelopeHeader = "port-envelope"

// Config contains Kafka client configuration shared by Transport and Publisher.
type Config struct {
	BootstrapServers    []string
	GroupID             string
	Topics              []string
	SecurityProtocol    string
	SASLMechanism       string
	SASLUsername        string
	SASLPassword        string
	AWSRegion           string
	AutoOffsetReset     string
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	MaxPollIntervalMS   int
	EnvelopeHeader      string
	DeadLetterTopic     string
	ClientID            string
}

// Validate checks the settings a consumer needs.
func (c Config) Validate() error {
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("kafka group id is required")
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("at least one kafka topic is required")
	}
	switch c.AutoOffsetReset {
	case "", "earliest", "latest":
	default:
		return fmt.Errorf("invalid auto offset reset: %s", c.AutoOffsetReset)
	}
	if c.SessionTimeoutMS < 0 || c.HeartbeatIntervalMS < 0 || c.MaxPollIntervalMS < 0 {
		return fmt.Errorf("kafka timeouts must not be negative")
	}
	if c.HeartbeatIntervalMS > 0 && c.SessionTimeoutMS > 0 && c.HeartbeatIntervalMS >= c.SessionTimeoutMS {
		return fmt.Errorf("heartbeat interval must be lower than session timeout")
	}
	return nil
}

func (c Config) envelopeHeader() string {
	if c.EnvelopeHeader == "" {
		return DefaultEnvelopeHeader
	}
	return c.EnvelopeHeader
}

// consumerConfig builds the sarama configuration for a consumer group.
func (c Config) consumerConfig() (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = offsetInitial(c.AutoOffsetReset)
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	if c.SessionTimeoutMS > 0 {
		cfg.Consumer.Group.Session.Timeout = time.Duration(c.SessionTimeoutMS) * time.Millisecond
	}
	if c.HeartbeatIntervalMS > 0 {
		cfg.Consumer.Group.Heartbeat.Interval = time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
	}

	// A bounded buffer may hold the claim goroutine in Deliver for a while.
	if c.MaxPollIntervalMS > 0 {
		cfg.Consumer.MaxProcessingTime = time.Duration(c.MaxPollIntervalMS) * time.Millisecond
	} else {
		cfg.Consumer.MaxProcessingTime = 5 * time.Minute
	}

	cfg.Consumer.Return.Errors = true

	if err := configureSecurity(cfg, c); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return cfg, nil
}

// producerConfig builds the sarama configuration for a sync producer.
func (c Config) producerConfig() (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	if err := configureSecurity(cfg, c); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return cfg, nil
}

// offsetInitial converts the AutoOffsetReset setting to sarama's offset constant.
func offsetInitial(autoOffsetReset string) int64 {
	if autoOffsetReset == "earliest" {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}
