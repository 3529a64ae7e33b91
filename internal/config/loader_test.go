package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jittakal/portbuffer/internal/config/dto"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}
	return path
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil || loader.v == nil {
		t.Fatal("expected loader with a viper instance")
	}
}

func TestLoader_LoadWithValidConfig(t *testing.T) {
	path := writeConfig(t, `
application:
  name: test-app

port:
  name: /imu
  capacity: 4
  prune: true
  period: 100ms

kafka:
  bootstrap_servers:
    - localhost:9092
  consumer:
    group_id: test-group
    topics:
      - imu

recorder:
  backend: file
  format: avro
  flush_interval: 5s
  file:
    base_path: /tmp/test
`)

	config, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Application.Name != "test-app" {
		t.Errorf("Application.Name = %s, want test-app", config.Application.Name)
	}
	if config.Port.Name != "/imu" || config.Port.Capacity != 4 || !config.Port.Prune {
		t.Errorf("Port = %+v", config.Port)
	}
	if config.Port.Period != 100*time.Millisecond {
		t.Errorf("Port.Period = %v, want 100ms", config.Port.Period)
	}
	if config.Recorder.FlushInterval != 5*time.Second {
		t.Errorf("Recorder.FlushInterval = %v, want 5s", config.Recorder.FlushInterval)
	}
	if config.Recorder.Format != "avro" {
		t.Errorf("Recorder.Format = %s, want avro", config.Recorder.Format)
	}
	if config.Recorder.BatchSize != 1000 {
		t.Errorf("Recorder.BatchSize = %d, want default 1000", config.Recorder.BatchSize)
	}
	if config.Kafka.Consumer.SessionTimeoutMS != 10000 {
		t.Errorf("SessionTimeoutMS = %d, want default 10000", config.Kafka.Consumer.SessionTimeoutMS)
	}
	if config.Shutdown.GracePeriod != 30*time.Second {
		t.Errorf("Shutdown.GracePeriod = %v, want 30s", config.Shutdown.GracePeriod)
	}
}

func TestLoader_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORTBUF_PORT_CAPACITY", "8")
	t.Setenv("PORTBUF_PORT_TRANSPORT", "loopback")
	t.Setenv("SAMPLE_DIR", "/var/lib/portbuf")

	path := writeConfig(t, `
recorder:
  file:
    base_path: ${SAMPLE_DIR}/archive
`)

	config, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Port.Capacity != 8 {
		t.Errorf("Port.Capacity = %d, want 8", config.Port.Capacity)
	}
	if config.Port.Transport != "loopback" {
		t.Errorf("Port.Transport = %s, want loopback", config.Port.Transport)
	}
	if config.Recorder.File.BasePath != "/var/lib/portbuf/archive" {
		t.Errorf("BasePath = %s, want expanded path", config.Recorder.File.BasePath)
	}
}

func TestLoader_LoadWithMissingFile(t *testing.T) {
	t.Setenv("PORTBUF_PORT_TRANSPORT", "loopback")

	config, err := NewLoader().Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v, want defaults", err)
	}
	if config.Port.Name != "/samples" {
		t.Errorf("Port.Name = %s, want /samples", config.Port.Name)
	}
}

func TestLoader_LoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
port:
  transport: kafka
`)
	if _, err := NewLoader().Load(path); err == nil {
		t.Error("Load() should fail without kafka bootstrap servers")
	}
}

func validConfig() *dto.ApplicationConfig {
	return &dto.ApplicationConfig{
		Port: dto.PortConfig{Name: "/imu", Transport: "kafka"},
		Kafka: dto.KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
			Consumer: dto.ConsumerConfig{
				GroupID: "test-group",
				Topics:  []string{"imu"},
			},
		},
		Recorder: dto.RecorderConfig{
			Enabled:       true,
			Backend:       "file",
			Format:        "parquet",
			BatchSize:     10,
			FlushInterval: time.Second,
			File:          dto.FileConfig{BasePath: "/tmp/test"},
		},
		Observability: dto.ObservabilityConfig{
			Logging: dto.LoggingConfig{Level: "info"},
			Metrics: dto.MetricsConfig{Enabled: true, Port: 9090},
			Health:  dto.HealthConfig{Port: 8080},
		},
	}
}

func TestLoader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*dto.ApplicationConfig)
		wantErr bool
	}{
		{"valid file backend config", func(*dto.ApplicationConfig) {}, false},
		{"missing bootstrap servers", func(c *dto.ApplicationConfig) { c.Kafka.BootstrapServers = nil }, true},
		{"loopback ignores kafka", func(c *dto.ApplicationConfig) {
			c.Port.Transport = "loopback"
			c.Kafka = dto.KafkaConfig{}
		}, false},
		{"unknown transport", func(c *dto.ApplicationConfig) { c.Port.Transport = "udp" }, true},
		{"negative capacity", func(c *dto.ApplicationConfig) { c.Port.Capacity = -1 }, true},
		{"s3 without bucket", func(c *dto.ApplicationConfig) { c.Recorder.Backend = "s3" }, true},
		{"disabled recorder", func(c *dto.ApplicationConfig) {
			c.Recorder = dto.RecorderConfig{}
		}, false},
		{"invalid log level", func(c *dto.ApplicationConfig) { c.Observability.Logging.Level = "loud" }, true},
		{"invalid metrics port", func(c *dto.ApplicationConfig) { c.Observability.Metrics.Port = 70000 }, true},
		{"metrics disabled ignores port", func(c *dto.ApplicationConfig) {
			c.Observability.Metrics = dto.MetricsConfig{}
		}, false},
		{"invalid health port", func(c *dto.ApplicationConfig) { c.Observability.Health.Port = 0 }, true},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := loader.Validate(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_setDefaults(t *testing.T) {
	loader := NewLoader()
	loader.setDefaults()

	if loader.v.GetString("application.name") != "portbufd" {
		t.Error("default application.name not set correctly")
	}
	if loader.v.GetString("recorder.backend") != "file" {
		t.Error("default recorder.backend not set correctly")
	}
	if loader.v.GetDuration("recorder.flush_interval") != time.Minute {
		t.Error("default recorder.flush_interval not set correctly")
	}
}
