package config

import (
	"github.com/jittakal/portbuffer/internal/buffer"
	"github.com/jittakal/portbuffer/internal/config/dto"
	"github.com/jittakal/portbuffer/internal/observability"
	"github.com/jittakal/portbuffer/internal/recorder"
	"github.com/jittakal/portbuffer/internal/transport/kafka"
)

// BufferConfig maps the port section onto buffer settings.
func BufferConfig(c *dto.ApplicationConfig) buffer.Config {
	return buffer.Config{
		Name:     c.Port.Name,
		Capacity: c.Port.Capacity,
		Prune:    c.Port.Prune,
		Period:   c.Port.Period,
	}
}

// KafkaConfig maps the kafka section onto transport settings.
func KafkaConfig(c *dto.ApplicationConfig) kafka.Config {
	k := c.Kafka
	cfg := kafka.Config{
		BootstrapServers:    k.BootstrapServers,
		GroupID:             k.Consumer.GroupID,
		Topics:              k.Consumer.Topics,
		SecurityProtocol:    k.SecurityProtocol,
		SASLMechanism:       k.SASLMechanism,
		SASLUsername:        k.SASLUsername,
		SASLPassword:        k.SASLPassword,
		AWSRegion:           k.AWSRegion,
		AutoOffsetReset:     k.Consumer.AutoOffsetReset,
		SessionTimeoutMS:    k.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: k.Consumer.HeartbeatIntervalMS,
		MaxPollIntervalMS:   k.Consumer.MaxPollIntervalMS,
		EnvelopeHeader:      k.EnvelopeHeader,
		ClientID:            k.ClientID,
	}
	if k.DLQ.Enabled {
		cfg.DeadLetterTopic = k.DLQ.Topic
	}
	return cfg
}

// RecorderConfig maps the recorder section onto recorder settings. Object
// store sinks apply the prefix themselves, so it only reaches the recorder
// for the file backend.
func RecorderConfig(c *dto.ApplicationConfig) recorder.Config {
	cfg := recorder.Config{
		BatchSize:     c.Recorder.BatchSize,
		FlushInterval: c.Recorder.FlushInterval,
	}
	if c.Recorder.Backend == "file" {
		cfg.Prefix = c.Recorder.Prefix
	}
	return cfg
}

// S3Config maps the recorder S3 section onto sink settings.
func S3Config(c *dto.ApplicationConfig) recorder.S3Config {
	s := c.Recorder.S3
	return recorder.S3Config{
		Bucket:       s.Bucket,
		Prefix:       c.Recorder.Prefix,
		Region:       s.Region,
		Endpoint:     s.Endpoint,
		UsePathStyle: s.UsePathStyle,
		SSEEnabled:   s.SSEEnabled,
		SSEKMSKeyID:  s.SSEKMSKeyID,
	}
}

// AzureConfig maps the recorder Azure section onto sink settings.
func AzureConfig(c *dto.ApplicationConfig) recorder.AzureConfig {
	a := c.Recorder.Azure
	return recorder.AzureConfig{
		AccountName:   a.AccountName,
		AccountKey:    a.AccountKey,
		ContainerName: a.Container,
		Prefix:        c.Recorder.Prefix,
		Endpoint:      a.Endpoint,
	}
}

// GCSConfig maps the recorder GCS section onto sink settings.
func GCSConfig(c *dto.ApplicationConfig) recorder.GCSConfig {
	g := c.Recorder.GCS
	return recorder.GCSConfig{
		Bucket:          g.Bucket,
		Prefix:          c.Recorder.Prefix,
		ProjectID:       g.ProjectID,
		CredentialsFile: g.CredentialsFile,
		CredentialsJSON: g.CredentialsJSON,
		Endpoint:        g.Endpoint,
	}
}

// LoggingConfig maps the logging section onto logger settings.
func LoggingConfig(c *dto.ApplicationConfig) observability.LoggingConfig {
	l := c.Observability.Logging
	return observability.LoggingConfig{Level: l.Level, Format: l.Format, Output: l.Output}
}
