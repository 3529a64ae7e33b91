package buffer

// Token is a message lent out by Borrow. It stays valid until it is passed
// to Return on the Buffer it came from; the underlying slot is not reused
// in the meantime. A returned token yields the zero message and no envelope.
type Token[T any] struct {
	owner    *coordinator[T]
	slot     *slot[T]
	message  T
	returned bool
}

// Message returns the borrowed message.
func (t *Token[T]) Message() T {
	return t.message
}

// Envelope returns the envelope bytes delivered with the message.
func (t *Token[T]) Envelope() []byte {
	if t.returned || t.slot == nil {
		return nil
	}
	out := make([]byte, len(t.slot.envelope))
	copy(out, t.slot.envelope)
	return out
}
