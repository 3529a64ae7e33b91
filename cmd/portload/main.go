package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/buffer"
	"github.com/jittakal/portbuffer/internal/codec"
	"github.com/jittakal/portbuffer/internal/config"
	"github.com/jittakal/portbuffer/internal/envelope"
	"github.com/jittakal/portbuffer/internal/generator"
	"github.com/jittakal/portbuffer/internal/observability"
	"github.com/jittakal/portbuffer/internal/transport/kafka"
	"github.com/jittakal/portbuffer/internal/transport/loopback"
)

var (
	configFile  = flag.String("config", getEnv("CONFIG_PATH", "config/application.yaml"), "Path to configuration file")
	logLevel    = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	target      = flag.String("target", "kafka", "Where to send samples (kafka, loopback)")
	topic       = flag.String("topic", "", "Kafka topic; defaults to the first configured consumer topic")
	count       = flag.Int("count", 0, "Number of samples to send; 0 sends until interrupted")
	interval    = flag.Duration("interval", 100*time.Millisecond, "Delay between samples")
	sensors     = flag.Int("sensors", 4, "Number of fake sensors")
	commandProb = flag.Float64("command-probability", 0, "Probability that a sample is a command")
	source      = flag.String("source", "/portload", "CloudEvents source")
)

func main() {
	flag.Parse()

	logger, err := observability.NewLogger(observability.LoggingConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gen := generator.New(generator.Config{
		Source:             *source,
		Sensors:            *sensors,
		Interval:           *interval,
		CommandProbability: *commandProb,
	}, logger)

	switch *target {
	case "kafka":
		err = runKafka(ctx, gen, logger)
	case "loopback":
		err = runLoopback(ctx, gen, logger)
	default:
		err = fmt.Errorf("unsupported target: %s", *target)
	}
	if err != nil {
		logger.Fatal("load generation failed", zap.Error(err))
	}

	logger.Info("load generation complete",
		zap.Uint64("produced", gen.Produced()),
		zap.Uint64("failed", gen.Failed()),
	)
}

func drive(ctx context.Context, gen *generator.Generator, t generator.Target) error {
	if *count > 0 {
		return gen.Burst(ctx, t, *count)
	}
	return gen.Run(ctx, t)
}

func runKafka(ctx context.Context, gen *generator.Generator, logger *zap.Logger) error {
	cfg, err := config.NewLoader().Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	kcfg := config.KafkaConfig(cfg)

	dest := *topic
	if dest == "" && len(kcfg.Topics) > 0 {
		dest = kcfg.Topics[0]
	}
	if dest == "" {
		return fmt.Errorf("no topic configured")
	}

	pub, err := kafka.NewPublisher(kcfg, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	logger.Info("publishing samples",
		zap.Strings("brokers", kcfg.BootstrapServers),
		zap.String("topic", dest),
	)
	return drive(ctx, gen, generator.ToTopic(pub, dest))
}

// runLoopback feeds an in-process port and drains it with a single consumer,
// reporting how the buffer settings shaped delivery.
func runLoopback(ctx context.Context, gen *generator.Generator, logger *zap.Logger) error {
	cfg, err := config.NewLoader().Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	buf := buffer.New(config.BufferConfig(cfg), codec.NewSample, logger, nil)
	p := loopback.New[*codec.Sample](cfg.Port.Name, buf, codec.DecodeJSON, logger)
	if err := buf.Attach(p); err != nil {
		return err
	}

	consumed := make(chan uint64, 1)
	go func() {
		var n uint64
		var last int64
		var stamp envelope.Stamp
		for {
			d := buf.Take()
			if !d.OK {
				if buf.Stats().Closed {
					consumed <- n
					return
				}
				continue
			}
			n++
			if err := buf.ReadEnvelope(&stamp); err == nil {
				if gap := stamp.Sequence - last - 1; last > 0 && gap > 0 {
					logger.Debug("sequence gap", zap.Int64("after", last), zap.Int64("missing", gap))
				}
				last = stamp.Sequence
			}
		}
	}()

	err = drive(ctx, gen, generator.ToFrames(p))

	// Give the consumer a moment to drain before tearing down.
	deadline := time.Now().Add(time.Second)
	for buf.PendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stats := buf.Stats()
	_ = buf.Close()
	n := <-consumed

	logger.Info("loopback summary",
		zap.String("port", buf.Name()),
		zap.Uint64("delivered", stats.Delivered),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("consumed", n),
		zap.Int("allocated", stats.Allocated),
	)
	return err
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
