package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/buffer"
	"github.com/jittakal/portbuffer/internal/codec"
	"github.com/jittakal/portbuffer/internal/config"
	"github.com/jittakal/portbuffer/internal/config/dto"
	"github.com/jittakal/portbuffer/internal/generator"
	"github.com/jittakal/portbuffer/internal/observability"
	"github.com/jittakal/portbuffer/internal/recorder"
	"github.com/jittakal/portbuffer/internal/server"
	"github.com/jittakal/portbuffer/internal/transport/kafka"
	"github.com/jittakal/portbuffer/internal/transport/loopback"
)

var (
	// Version information (set during build)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	cfgPath := "config/application.yaml"
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	}

	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(config.LoggingConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting port buffer daemon",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("environment", cfg.Application.Environment),
		zap.String("port", cfg.Port.Name),
		zap.String("transport", cfg.Port.Transport),
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var cleanups []cleanup
	addCleanup := func(name string, fn func() error) {
		cleanups = append(cleanups, cleanup{name: name, fn: fn})
		logger.Debug("registered cleanup", zap.String("component", name))
	}
	defer func() { runCleanups(cleanups, logger) }()

	buf := buffer.New(config.BufferConfig(cfg), codec.NewSample, logger, metrics)

	checker := server.NewChecker()
	checker.AddLivenessCheck("buffer", server.BufferCheck(buf))
	checker.AddReadinessCheck("transport", server.TransportCheck(buf))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// In loopback mode an in-process generator feeds the port.
	var loop *generator.Generator
	var lp *loopback.Port[*codec.Sample]
	switch cfg.Port.Transport {
	case "kafka":
		err = startKafka(ctx, cfg, buf, logger, metrics, addCleanup)
	case "loopback":
		lp = loopback.New[*codec.Sample](cfg.Port.Name, buf, codec.DecodeJSON, logger)
		err = buf.Attach(lp)
		loop = generator.New(generator.Config{Source: cfg.Application.Name}, logger)
	}
	if err != nil {
		_ = buf.Close()
		return fmt.Errorf("failed to attach %s transport: %w", cfg.Port.Transport, err)
	}
	// Registered after the dead letter publisher so that the transport,
	// which the buffer closes, stops first.
	addCleanup("buffer", buf.Close)

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = newRecorder(ctx, cfg, buf, logger, metrics, addCleanup)
		if err != nil {
			return err
		}
		checker.AddReadinessCheck("recorder", server.RunningCheck("recorder", rec))
	}

	httpServer := server.NewServer(server.Config{
		HealthPort:     cfg.Observability.Health.Port,
		LivenessPath:   cfg.Observability.Health.LivenessPath,
		ReadinessPath:  cfg.Observability.Health.ReadinessPath,
		MetricsEnabled: cfg.Observability.Metrics.Enabled,
		MetricsPort:    cfg.Observability.Metrics.Port,
		MetricsPath:    cfg.Observability.Metrics.Path,
	}, checker, registry, logger)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	var recErr chan error
	if rec != nil {
		recErr = make(chan error, 1)
		go func() { recErr <- rec.Run(ctx) }()
	}

	genDone := make(chan struct{})
	if loop != nil {
		go func() {
			defer close(genDone)
			_ = loop.Run(ctx, generator.ToObjects(lp))
		}()
	} else {
		close(genDone)
	}

	logger.Info("application started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received termination signal", zap.String("signal", sig.String()))
	case err := <-recErr:
		if err != nil {
			logger.Error("recorder stopped", zap.Error(err))
			runErr = err
		}
		recErr = nil
	}

	logger.Info("initiating graceful shutdown", zap.Duration("grace_period", cfg.Shutdown.GracePeriod))
	checker.SetShuttingDown()
	cancel()
	<-genDone

	if recErr != nil {
		select {
		case err := <-recErr:
			if err != nil {
				logger.Error("recorder stopped with error", zap.Error(err))
			}
		case <-time.After(cfg.Shutdown.GracePeriod):
			logger.Warn("recorder did not stop within grace period")
		}
	}

	if rec != nil {
		stats := rec.Stats()
		logger.Info("recorder summary",
			zap.Uint64("rows", stats.Rows),
			zap.Uint64("batches", stats.Batches),
			zap.Uint64("failures", stats.Failures),
			zap.Uint64("dropped_rows", stats.DroppedRows),
		)
	}
	bs := buf.Stats()
	logger.Info("buffer summary",
		zap.Uint64("delivered", bs.Delivered),
		zap.Uint64("dropped", bs.Dropped),
		zap.Uint64("taken", bs.Taken),
		zap.Uint64("missed", bs.Missed),
		zap.Uint64("decode_errors", bs.DecodeErrors),
	)

	return runErr
}

func startKafka(
	ctx context.Context,
	cfg *dto.ApplicationConfig,
	buf *buffer.Buffer[*codec.Sample],
	logger *zap.Logger,
	metrics *observability.Metrics,
	addCleanup func(string, func() error),
) error {
	kcfg := config.KafkaConfig(cfg)

	tr, err := kafka.NewTransport[*codec.Sample](kcfg, buf, codec.DecodeJSON, logger, metrics)
	if err != nil {
		return err
	}

	if kcfg.DeadLetterTopic != "" {
		pub, err := kafka.NewPublisher(kcfg, logger)
		if err != nil {
			_ = tr.Close()
			return fmt.Errorf("failed to create dead letter publisher: %w", err)
		}
		tr.SetDeadLetter(pub)
		addCleanup("dead-letter-publisher", pub.Close)
	}

	// From here on the buffer owns the transport and closes it.
	if err := buf.Attach(tr); err != nil {
		_ = tr.Close()
		return err
	}
	return tr.Start(ctx)
}

func newRecorder(
	ctx context.Context,
	cfg *dto.ApplicationConfig,
	buf *buffer.Buffer[*codec.Sample],
	logger *zap.Logger,
	metrics *observability.Metrics,
	addCleanup func(string, func() error),
) (*recorder.Recorder, error) {
	enc, err := recorder.NewEncoder(cfg.Recorder.Format, cfg.Recorder.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	sink, err := newSink(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	addCleanup("recorder-sink", sink.Close)

	logger.Info("recorder configured",
		zap.String("backend", sink.Name()),
		zap.String("format", enc.Format()),
		zap.String("compression", cfg.Recorder.Compression),
		zap.Int("batch_size", cfg.Recorder.BatchSize),
		zap.Duration("flush_interval", cfg.Recorder.FlushInterval),
	)
	return recorder.New(buf, enc, sink, config.RecorderConfig(cfg), logger, metrics), nil
}

func newSink(ctx context.Context, cfg *dto.ApplicationConfig, logger *zap.Logger) (recorder.Sink, error) {
	switch cfg.Recorder.Backend {
	case "file":
		sink, err := recorder.NewFileSink(cfg.Recorder.File.BasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file sink: %w", err)
		}
		return sink, nil
	case "s3":
		sink, err := recorder.NewS3Sink(ctx, config.S3Config(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 sink: %w", err)
		}
		return sink, nil
	case "azure":
		sink, err := recorder.NewAzureSink(config.AzureConfig(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob sink: %w", err)
		}
		return sink, nil
	case "gcs":
		sink, err := recorder.NewGCSSink(ctx, config.GCSConfig(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS sink: %w", err)
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported recorder backend: %s (supported: file, s3, azure, gcs)", cfg.Recorder.Backend)
	}
}

type cleanup struct {
	name string
	fn   func() error
}

// runCleanups runs cleanups in reverse registration order.
func runCleanups(cleanups []cleanup, logger *zap.Logger) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(); err != nil {
			logger.Error("cleanup failed", zap.String("component", c.name), zap.Error(err))
			continue
		}
		logger.Debug("cleanup complete", zap.String("component", c.name))
	}
}
