// Package port defines the collaborator contracts of the input buffering engine.
//
// A transport owns the wire and hands every arriving frame to a Sink as a
// Connection. The Sink (usually an internal/buffer.Buffer) decodes the frame
// into a payload object manufactured by a Factory, or accepts an
// already-materialized object directly when sender and receiver share a
// process.
package port

// Connection is the per-frame view of an inbound connection.
// It is only valid for the duration of a single Deliver call.
type Connection[T any] interface {
	// Valid returns false when the frame is a disconnection notice rather than data.
	Valid() bool

	// DirectReference returns an already-materialized object when the sender
	// lives in the same process and decoding can be skipped.
	DirectReference() (T, bool)

	// Writable reports whether the peer expects a reply on this connection.
	Writable() bool

	// DecodeInto deserializes the frame payload into dst.
	DecodeInto(dst T) error

	// Envelope returns the out-of-band metadata bytes attached to the frame.
	// The returned slice may be reused by the transport after Deliver returns.
	Envelope() []byte
}

// Transport is the endpoint that owns the socket and feeds a Sink.
type Transport interface {
	// Close shuts the endpoint down. It may call back into the Sink with a
	// disconnection notice before returning.
	Close() error
}

// Factory manufactures an empty payload object.
// Returning false is a configuration error.
type Factory[T any] func() (T, bool)

// Decoder deserializes raw frame bytes into a payload object. Transports use
// it to implement Connection.DecodeInto.
type Decoder[T any] func(data []byte, dst T) error

// Completion is invoked exactly once when an externally supplied object is
// released by the engine.
type Completion func()

// Replier takes over the full read of a writable connection.
type Replier[T any] interface {
	Reply(conn Connection[T]) error
}

// ReplierFunc adapts a function to the Replier interface.
type ReplierFunc[T any] func(conn Connection[T]) error

// Reply calls f(conn).
func (f ReplierFunc[T]) Reply(conn Connection[T]) error {
	return f(conn)
}

// ReplyWriter is implemented by writable connections that can carry a
// response back to the requester.
type ReplyWriter interface {
	WriteReply(data []byte) error
}

// EnvelopeReader decodes envelope bytes into a metadata record.
type EnvelopeReader interface {
	UnmarshalEnvelope(data []byte) error
}

// Sink receives frames from a transport.
type Sink[T any] interface {
	// Deliver is called once per arriving frame on the transport's goroutine.
	Deliver(conn Connection[T]) error

	// AcceptExternal injects a caller-owned object. done runs once the engine
	// no longer references obj.
	AcceptExternal(obj T, done Completion) error
}
