// Package loopback implements a same-process transport. Frames are handed to
// the sink on the caller's goroutine, either as a direct object reference or
// as bytes decoded by the sink.
package loopback

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/errors"
	"github.com/jittakal/portbuffer/pkg/port"
)

// Ensure implementation satisfies interface at compile time.
var _ port.Transport = (*Port[any])(nil)

// Port is an in-process endpoint feeding a single sink.
type Port[T any] struct {
	name   string
	sink   port.Sink[T]
	decode port.Decoder[T]
	logger *zap.Logger
	closed atomic.Bool
	sent   atomic.Uint64
}

// New creates a loopback port delivering to sink.
func New[T any](name string, sink port.Sink[T], decode port.Decoder[T], logger *zap.Logger) *Port[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Port[T]{
		name:   name,
		sink:   sink,
		decode: decode,
		logger: logger.With(zap.String("port", name), zap.String("transport", "loopback")),
	}
}

// Send hands obj to the sink without serialization.
func (p *Port[T]) Send(obj T, envelope []byte) error {
	return p.deliver(&connection[T]{
		direct:    obj,
		hasDirect: true,
		envelope:  envelope,
	})
}

// SendBytes hands an encoded frame to the sink, which decodes it in place.
func (p *Port[T]) SendBytes(data, envelope []byte) error {
	return p.deliver(&connection[T]{
		data:     data,
		envelope: envelope,
		decode:   p.decode,
	})
}

// Request sends an encoded frame on a writable connection and returns the
// reply written by the sink's replier, if any.
func (p *Port[T]) Request(data, envelope []byte) ([]byte, error) {
	conn := &connection[T]{
		data:     data,
		envelope: envelope,
		decode:   p.decode,
		writable: true,
	}
	if err := p.deliver(conn); err != nil {
		return nil, err
	}
	return conn.reply, nil
}

func (p *Port[T]) deliver(conn *connection[T]) error {
	if p.closed.Load() {
		return errors.ErrTransportClosed
	}
	if err := p.sink.Deliver(conn); err != nil {
		return fmt.Errorf("loopback deliver: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// Sent returns the number of frames accepted by the sink.
func (p *Port[T]) Sent() uint64 {
	return p.sent.Load()
}

// Close marks the port closed and sends a disconnection notice to the sink.
// Only the first call has any effect.
func (p *Port[T]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.logger.Debug("closing loopback port")
	if err := p.sink.Deliver(&connection[T]{invalid: true}); err != nil {
		return fmt.Errorf("loopback disconnect: %w", err)
	}
	return nil
}

// connection is the per-frame view handed to the sink.
type connection[T any] struct {
	data      []byte
	envelope  []byte
	decode    port.Decoder[T]
	direct    T
	hasDirect bool
	writable  bool
	invalid   bool
	reply     []byte
}

func (c *connection[T]) Valid() bool { return !c.invalid }

func (c *connection[T]) DirectReference() (T, bool) { return c.direct, c.hasDirect }

func (c *connection[T]) Writable() bool { return c.writable }

func (c *connection[T]) Envelope() []byte { return c.envelope }

func (c *connection[T]) DecodeInto(dst T) error {
	if c.decode == nil {
		return fmt.Errorf("loopback: no decoder configured")
	}
	return c.decode(c.data, dst)
}

// Data returns the raw frame bytes.
func (c *connection[T]) Data() []byte { return c.data }

// WriteReply records the response returned by Request.
func (c *connection[T]) WriteReply(data []byte) error {
	if !c.writable {
		return fmt.Errorf("loopback: connection is not writable")
	}
	c.reply = append(c.reply[:0], data...)
	return nil
}
