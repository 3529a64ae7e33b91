package dto

import (
	"testing"
	"time"
)

func TestPortConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PortConfig
		wantErr bool
	}{
		{"kafka", PortConfig{Name: "/imu", Transport: "kafka"}, false},
		{"loopback with period", PortConfig{Name: "/imu", Transport: "loopback", Period: time.Second}, false},
		{"missing name", PortConfig{Transport: "kafka"}, true},
		{"negative capacity", PortConfig{Name: "/imu", Transport: "kafka", Capacity: -2}, true},
		{"negative period", PortConfig{Name: "/imu", Transport: "kafka", Period: -time.Second}, true},
		{"unknown transport", PortConfig{Name: "/imu", Transport: "serial"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKafkaConfig_Validate(t *testing.T) {
	valid := func() KafkaConfig {
		return KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
			Consumer:         ConsumerConfig{GroupID: "g", Topics: []string{"t"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*KafkaConfig)
		wantErr bool
	}{
		{"valid", func(*KafkaConfig) {}, false},
		{"no servers", func(c *KafkaConfig) { c.BootstrapServers = nil }, true},
		{"no group", func(c *KafkaConfig) { c.Consumer.GroupID = "" }, true},
		{"no topics", func(c *KafkaConfig) { c.Consumer.Topics = nil }, true},
		{"dlq without topic", func(c *KafkaConfig) { c.DLQ.Enabled = true }, true},
		{"dlq with topic", func(c *KafkaConfig) { c.DLQ = DLQConfig{Enabled: true, Topic: "t.dlq"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecorderConfig_Validate(t *testing.T) {
	base := func(backend string) RecorderConfig {
		return RecorderConfig{
			Enabled:       true,
			Backend:       backend,
			Format:        "parquet",
			BatchSize:     100,
			FlushInterval: time.Minute,
		}
	}

	tests := []struct {
		name    string
		config  RecorderConfig
		wantErr bool
	}{
		{"disabled", RecorderConfig{}, false},
		{"file", func() RecorderConfig { c := base("file"); c.File.BasePath = "/tmp"; return c }(), false},
		{"file without path", base("file"), true},
		{"s3", func() RecorderConfig { c := base("s3"); c.S3 = S3Config{Bucket: "b", Region: "r"}; return c }(), false},
		{"s3 without region", func() RecorderConfig { c := base("s3"); c.S3.Bucket = "b"; return c }(), true},
		{"azure", func() RecorderConfig {
			c := base("azure")
			c.Azure = AzureConfig{AccountName: "a", Container: "c"}
			return c
		}(), false},
		{"gcs", func() RecorderConfig { c := base("gcs"); c.GCS.Bucket = "b"; return c }(), false},
		{"gcs without bucket", base("gcs"), true},
		{"unknown backend", base("ftp"), true},
		{"unknown format", func() RecorderConfig { c := base("file"); c.File.BasePath = "/tmp"; c.Format = "csv"; return c }(), true},
		{"zero batch", func() RecorderConfig { c := base("file"); c.File.BasePath = "/tmp"; c.BatchSize = 0; return c }(), true},
		{"zero interval", func() RecorderConfig { c := base("file"); c.File.BasePath = "/tmp"; c.FlushInterval = 0; return c }(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
