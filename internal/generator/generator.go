// Package generator produces fake sensor samples for load and smoke testing
// a port.
package generator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/jaswdr/faker"
	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/codec"
	"github.com/jittakal/portbuffer/internal/envelope"
)

// Config controls what a Generator emits.
type Config struct {
	Source             string
	Sensors            int
	Interval           time.Duration
	CommandProbability float64
}

func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = codec.DefaultSource
	}
	if c.Sensors <= 0 {
		c.Sensors = 4
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	return c
}

// Command is the data of a command event.
type Command struct {
	Sensor   string `json:"sensor"`
	Action   string `json:"action"`
	Sequence int64  `json:"sequence"`
}

// Target receives generated frames.
type Target interface {
	Emit(ctx context.Context, event cloudevents.Event, stamp envelope.Stamp) error
}

// TargetFunc adapts a function to the Target interface.
type TargetFunc func(ctx context.Context, event cloudevents.Event, stamp envelope.Stamp) error

// Emit calls f.
func (f TargetFunc) Emit(ctx context.Context, event cloudevents.Event, stamp envelope.Stamp) error {
	return f(ctx, event, stamp)
}

type sensor struct {
	name string
	unit string
	base float64
}

var units = []string{"celsius", "kpa", "rpm", "volt", "lux"}

var actions = []string{"calibrate", "reset", "sleep", "wake"}

// Generator emits reading events, and occasional command events, with
// increasing envelope sequence numbers.
type Generator struct {
	config  Config
	faker   faker.Faker
	sensors []sensor
	logger  *zap.Logger

	seq      atomic.Int64
	produced atomic.Uint64
	failed   atomic.Uint64
}

// New creates a generator with a fixed set of fake sensors.
func New(config Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()

	f := faker.New()
	sensors := make([]sensor, config.Sensors)
	for i := range sensors {
		sensors[i] = sensor{
			name: fmt.Sprintf("%s-%s", f.Lorem().Word(), f.UUID().V4()[0:6]),
			unit: units[f.IntBetween(0, len(units)-1)],
			base: f.Float64(2, 0, 100),
		}
	}

	return &Generator{
		config:  config,
		faker:   f,
		sensors: sensors,
		logger:  logger,
	}
}

// Next builds the next event and its envelope stamp.
func (g *Generator) Next() (cloudevents.Event, envelope.Stamp, error) {
	seq := g.seq.Add(1)
	s := g.sensors[g.faker.IntBetween(0, len(g.sensors)-1)]
	stamp := envelope.NewStamp(seq, g.config.Source)

	if g.config.CommandProbability > 0 && g.faker.Float64(4, 0, 1) < g.config.CommandProbability {
		event, err := codec.NewEvent(g.config.Source, codec.EventTypeCommand, Command{
			Sensor:   s.name,
			Action:   actions[g.faker.IntBetween(0, len(actions)-1)],
			Sequence: seq,
		})
		return event, stamp, err
	}

	event, err := codec.NewEvent(g.config.Source, codec.EventTypeReading, codec.Reading{
		Sensor:    s.name,
		Value:     s.base + g.faker.Float64(3, -5, 5),
		Unit:      s.unit,
		Sequence:  seq,
		Timestamp: stamp.Time,
	})
	event.SetSubject(s.name)
	return event, stamp, err
}

// Run emits one frame per interval until ctx is done. Emit failures are
// logged and counted; they do not stop the loop.
func (g *Generator) Run(ctx context.Context, target Target) error {
	ticker := time.NewTicker(g.config.Interval)
	defer ticker.Stop()

	g.logger.Info("starting sample generation",
		zap.String("source", g.config.Source),
		zap.Int("sensors", len(g.sensors)),
		zap.Duration("interval", g.config.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("stopping sample generation",
				zap.Uint64("produced", g.produced.Load()),
				zap.Uint64("failed", g.failed.Load()),
			)
			return nil
		case <-ticker.C:
			g.emit(ctx, target)
		}
	}
}

// Burst emits n frames back to back.
func (g *Generator) Burst(ctx context.Context, target Target, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.emit(ctx, target)
	}
	return nil
}

func (g *Generator) emit(ctx context.Context, target Target) {
	event, stamp, err := g.Next()
	if err != nil {
		g.failed.Add(1)
		g.logger.Error("failed to build event", zap.Error(err))
		return
	}
	if err := target.Emit(ctx, event, stamp); err != nil {
		g.failed.Add(1)
		g.logger.Error("failed to emit event",
			zap.String("event_id", event.ID()),
			zap.Int64("sequence", stamp.Sequence),
			zap.Error(err),
		)
		return
	}
	g.produced.Add(1)
	g.logger.Debug("emitted event",
		zap.String("event_id", event.ID()),
		zap.String("type", event.Type()),
		zap.Int64("sequence", stamp.Sequence),
	)
}

// Produced returns the number of frames accepted by the target.
func (g *Generator) Produced() uint64 {
	return g.produced.Load()
}

// Failed returns the number of frames that could not be built or emitted.
func (g *Generator) Failed() uint64 {
	return g.failed.Load()
}
