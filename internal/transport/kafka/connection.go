package kafka

import (
	"github.com/IBM/sarama"

	"github.com/jittakal/portbuffer/internal/errors"
	"github.com/jittakal/portbuffer/pkg/port"
)

// Ensure implementation satisfies interface at compile time.
var _ port.Connection[any] = (*connection[any])(nil)

// connection presents one consumed record to the sink. A nil message is a
// disconnection notice.
type connection[T any] struct {
	msg    *sarama.ConsumerMessage
	decode port.Decoder[T]
	header string
}

func (c *connection[T]) Valid() bool {
	return c.msg != nil
}

// DirectReference always reports false; records arrive as bytes.
func (c *connection[T]) DirectReference() (T, bool) {
	var zero T
	return zero, false
}

// Writable always reports false; Kafka records have no reply path.
func (c *connection[T]) Writable() bool {
	return false
}

func (c *connection[T]) DecodeInto(dst T) error {
	if c.msg == nil {
		return errors.ErrConnectionLost
	}
	return c.decode(c.msg.Value, dst)
}

// Envelope returns the value of the envelope header, or nil.
func (c *connection[T]) Envelope() []byte {
	if c.msg == nil {
		return nil
	}
	for _, h := range c.msg.Headers {
		if h != nil && string(h.Key) == c.header {
			return h.Value
		}
	}
	return nil
}
