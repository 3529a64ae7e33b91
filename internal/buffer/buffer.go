package buffer

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/errors"
	"github.com/jittakal/portbuffer/pkg/port"
)

// Ensure implementation satisfies interface at compile time.
var _ port.Sink[any] = (*Buffer[any])(nil)

// Delivery outcome labels reported to the MetricsCollector.
const (
	StatusAccepted    = "accepted"
	StatusDropped     = "dropped"
	StatusDecodeError = "decode_error"
	StatusDisconnect  = "disconnect"
	StatusReplied     = "replied"

	OutcomeDelivered = "delivered"
	OutcomeMissed    = "missed"
	OutcomeEmpty     = "empty"
)

// Config holds buffer settings.
type Config struct {
	// Name identifies the port in logs and metrics.
	Name string
	// Capacity bounds free plus pending slots. 0 means unbounded.
	Capacity int
	// Prune drops the previous pending message on every delivery.
	Prune bool
	// Period enables fixed-cadence sampling in Take when positive.
	Period time.Duration
}

// MetricsCollector defines the interface for buffer metrics.
type MetricsCollector interface {
	IncDeliveries(port, status string)
	IncTakes(port, outcome string)
	SetPendingMessages(port string, count float64)
	ObserveProducerWait(port string, seconds float64)
	SetTransportAttached(port string, attached bool)
}

// Delivery is the result of a take.
//
// OK is set when Message holds a message. Missed is set when a periodic
// deadline passed with nothing pending. Both are false after Interrupt or
// Close woke the consumer without data.
type Delivery[T any] struct {
	Message T
	OK      bool
	Missed  bool
}

// Stats is a point-in-time view of the buffer.
type Stats struct {
	Pending      int
	Free         int
	Allocated    int
	Borrowed     int
	Held         bool
	Attached     bool
	Closed       bool
	Delivered    uint64
	Dropped      uint64
	DecodeErrors uint64
	Taken        uint64
	Missed       uint64
}

// Buffer hands messages from a transport goroutine to consumer goroutines.
type Buffer[T any] struct {
	name    string
	factory port.Factory[T]
	logger  *zap.Logger
	metrics MetricsCollector
	coord   *coordinator[T]

	// Guarded by coord.mu.
	transport   port.Transport
	attached    bool
	replier     port.Replier[T]
	period      time.Duration
	lastReceive time.Time
	counters    Stats
}

// New creates a detached buffer. factory makes the payload object for each
// slot the first time the slot is filled. logger and metrics may be nil.
func New[T any](cfg Config, factory port.Factory[T], logger *zap.Logger, metrics MetricsCollector) *Buffer[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer[T]{
		name:    cfg.Name,
		factory: factory,
		logger:  logger.With(zap.String("port", cfg.Name)),
		metrics: metrics,
		coord:   newCoordinator[T](cfg.Capacity, cfg.Prune),
		period:  cfg.Period,
	}
}

// Name returns the port name.
func (b *Buffer[T]) Name() string {
	return b.name
}

// Attach binds the buffer to its transport. A buffer accepts one transport
// for its lifetime.
func (b *Buffer[T]) Attach(t port.Transport) error {
	c := b.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrBufferClosed
	}
	if b.attached {
		return errors.ErrAlreadyAttached
	}
	b.transport = t
	b.attached = true

	b.logger.Info("buffer attached to transport")
	if b.metrics != nil {
		b.metrics.SetTransportAttached(b.name, true)
	}
	return nil
}

// Deliver stores one arriving frame. It is called by the transport once per
// frame and may block while a bounded, non-pruning buffer is full.
//
// A direct reference bypasses decoding. A writable connection is handed to
// the replier, when one is set, without buffering. An invalid connection is
// a disconnection notice: the transport reference is dropped and a blocked
// consumer is woken.
func (b *Buffer[T]) Deliver(conn port.Connection[T]) error {
	if obj, ok := conn.DirectReference(); ok {
		return b.acceptExternal(obj, nil, conn.Envelope())
	}

	c := b.coord
	c.mu.Lock()
	replier := b.replier
	c.mu.Unlock()

	if replier != nil && conn.Writable() {
		b.record(StatusReplied)
		return replier.Reply(conn)
	}

	if !conn.Valid() {
		b.disconnected()
		return nil
	}

	s, dropped, err := b.acquire()
	if err != nil {
		return err
	}

	if !s.hasPayload {
		obj, ok := b.factory()
		if !ok {
			b.release(s)
			b.logger.Error("payload factory returned no object")
			return errors.ErrFactoryEmpty
		}
		s.payload = obj
		s.hasPayload = true
	}
	s.setOwned()

	if err := conn.DecodeInto(s.payload); err != nil {
		b.release(s)
		c.mu.Lock()
		b.counters.DecodeErrors++
		c.mu.Unlock()
		c.contentAvailable.post()

		b.logger.Warn("failed to decode frame", zap.Error(err))
		b.record(StatusDecodeError)
		return &errors.DecodeError{Port: b.name, Err: err}
	}
	s.setEnvelope(conn.Envelope())

	return b.commit(s, dropped)
}

// AcceptExternal queues a caller-owned object. done, if not nil, runs exactly
// once when the slot holding obj is recycled. done is not invoked when an
// error is returned.
func (b *Buffer[T]) AcceptExternal(obj T, done port.Completion) error {
	return b.acceptExternal(obj, done, nil)
}

func (b *Buffer[T]) acceptExternal(obj T, done port.Completion, envelope []byte) error {
	s, dropped, err := b.acquire()
	if err != nil {
		return err
	}
	s.setExternal(obj, done)
	s.setEnvelope(envelope)
	return b.commit(s, dropped)
}

// acquire obtains a slot for writing, blocking on slot released while the
// pool is exhausted. With prune enabled it drops the oldest pending slot
// instead of blocking, and reports that a drop happened.
func (b *Buffer[T]) acquire() (*slot[T], bool, error) {
	c := b.coord
	dropped := false
	var waitStart time.Time

	for {
		var done completions

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, dropped, errors.ErrBufferClosed
		}
		s, ok := c.acquireForWrite()
		if !ok && c.prune && c.dropOne(&done) {
			dropped = true
			s, ok = c.acquireForWrite()
		}
		c.mu.Unlock()
		done.run()

		if ok {
			if !waitStart.IsZero() && b.metrics != nil {
				b.metrics.ObserveProducerWait(b.name, time.Since(waitStart).Seconds())
			}
			return s, dropped, nil
		}

		if waitStart.IsZero() {
			waitStart = time.Now()
			b.logger.Debug("buffer full, waiting for a free slot")
		}
		c.slotReleased.wait()
	}
}

// release returns an unfilled slot to the free stack.
func (b *Buffer[T]) release(s *slot[T]) {
	var done completions
	b.coord.mu.Lock()
	b.coord.release(s, &done)
	b.coord.mu.Unlock()
	done.run()
	b.coord.slotReleased.post()
}

// commit queues a filled slot and signals the consumer unless the delivery
// displaced a pending message.
func (b *Buffer[T]) commit(s *slot[T], dropped bool) error {
	c := b.coord
	var done completions

	c.mu.Lock()
	if c.closed {
		// The caller's completion is not run for a rejected object.
		s.place = placeNone
		s.reset()
		c.mu.Unlock()
		return errors.ErrBufferClosed
	}
	if c.commit(s, &done) {
		dropped = true
	}
	b.counters.Delivered++
	if dropped {
		b.counters.Dropped++
	}
	pending := c.pool.pendingCount()
	c.mu.Unlock()
	done.run()

	if dropped {
		b.record(StatusDropped)
	} else {
		c.contentAvailable.post()
		b.record(StatusAccepted)
	}
	b.setPending(pending)
	return nil
}

func (b *Buffer[T]) disconnected() {
	c := b.coord
	c.mu.Lock()
	b.transport = nil
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		c.contentAvailable.post()
	}
	b.logger.Info("transport disconnected")
	b.record(StatusDisconnect)
	if b.metrics != nil {
		b.metrics.SetTransportAttached(b.name, false)
	}
}

// Take returns the next message, honouring the configured period.
//
// Without a period it blocks until a message arrives, Interrupt is called
// or the buffer is closed. With a period it targets one message per period:
// an early wake sleeps until the deadline, and a deadline that passes with
// nothing pending returns a missed Delivery and advances the schedule by
// exactly one period.
func (b *Buffer[T]) Take() Delivery[T] {
	return b.take(false)
}

// TakeWait blocks until a message arrives regardless of the period.
func (b *Buffer[T]) TakeWait() Delivery[T] {
	return b.take(true)
}

// TryTake returns the next pending message without blocking.
func (b *Buffer[T]) TryTake() Delivery[T] {
	if !b.coord.contentAvailable.tryWait() {
		b.recordTake(OutcomeEmpty)
		return Delivery[T]{}
	}
	return b.next()
}

func (b *Buffer[T]) take(forceWait bool) Delivery[T] {
	c := b.coord

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Delivery[T]{}
	}
	period := b.period
	last := b.lastReceive
	c.mu.Unlock()

	if period <= 0 || forceWait {
		if !c.contentAvailable.wait() {
			return Delivery[T]{}
		}
		return b.next()
	}

	now := time.Now()
	target := now.Add(period)
	if !last.IsZero() {
		target = last.Add(period)
	}

	var signaled bool
	if target.After(now) {
		signaled = c.contentAvailable.waitTimeout(target.Sub(now))
	} else {
		signaled = c.contentAvailable.tryWait()
	}

	if !signaled {
		c.mu.Lock()
		closed := c.closed
		if !closed && !b.lastReceive.IsZero() {
			b.lastReceive = b.lastReceive.Add(period)
		}
		if !closed {
			b.counters.Missed++
		}
		c.mu.Unlock()

		if closed {
			return Delivery[T]{}
		}
		b.recordTake(OutcomeMissed)
		return Delivery[T]{Missed: true}
	}

	if last.IsZero() {
		c.mu.Lock()
		b.lastReceive = time.Now()
		c.mu.Unlock()
	} else {
		if wait := time.Until(target); wait > 0 {
			time.Sleep(wait)
		}
		c.mu.Lock()
		b.lastReceive = target
		c.mu.Unlock()
	}

	return b.next()
}

// next moves the next pending slot to held and returns its message.
func (b *Buffer[T]) next() Delivery[T] {
	c := b.coord
	var done completions

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Delivery[T]{}
	}
	s, ok := c.takeNext(&done)
	var msg T
	if ok {
		msg = s.message()
		b.counters.Taken++
	}
	pending := c.pool.pendingCount()
	c.mu.Unlock()
	done.run()

	if !ok {
		b.recordTake(OutcomeEmpty)
		return Delivery[T]{}
	}
	c.slotReleased.post()
	b.recordTake(OutcomeDelivered)
	b.setPending(pending)
	return Delivery[T]{Message: msg, OK: true}
}

// Envelope returns a copy of the envelope delivered with the most recently
// taken message, or nil when no message is held.
func (b *Buffer[T]) Envelope() []byte {
	b.coord.mu.Lock()
	defer b.coord.mu.Unlock()
	return b.coord.envelope()
}

// ReadEnvelope decodes the held message's envelope into dst.
func (b *Buffer[T]) ReadEnvelope(dst port.EnvelopeReader) error {
	if err := dst.UnmarshalEnvelope(b.Envelope()); err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}
	return nil
}

// PendingCount returns the number of messages waiting to be taken.
func (b *Buffer[T]) PendingCount() int {
	b.coord.mu.Lock()
	defer b.coord.mu.Unlock()
	return b.coord.pool.pendingCount()
}

// FreeCount returns the number of slots ready for reuse.
func (b *Buffer[T]) FreeCount() int {
	b.coord.mu.Lock()
	defer b.coord.mu.Unlock()
	return b.coord.pool.freeCount()
}

// Borrow takes ownership of the most recently taken message so that it
// survives the next Take. The slot stays out of circulation until Return.
func (b *Buffer[T]) Borrow() (*Token[T], bool) {
	b.coord.mu.Lock()
	defer b.coord.mu.Unlock()
	if b.coord.closed {
		return nil, false
	}
	return b.coord.borrow()
}

// Return recycles a borrowed message. A token can be returned once.
func (b *Buffer[T]) Return(tok *Token[T]) error {
	c := b.coord
	var done completions

	c.mu.Lock()
	err := c.giveBack(tok, &done)
	c.mu.Unlock()
	done.run()

	if err != nil {
		return err
	}
	c.slotReleased.post()
	return nil
}

// Interrupt wakes a consumer blocked in Take without delivering data.
func (b *Buffer[T]) Interrupt() {
	b.coord.contentAvailable.post()
}

// SetCapacity changes the slot bound. 0 means unbounded.
func (b *Buffer[T]) SetCapacity(n int) {
	if n < 0 {
		n = 0
	}
	b.coord.mu.Lock()
	b.coord.capacity = n
	b.coord.mu.Unlock()
	b.coord.slotReleased.post()
}

// SetPrune enables or disables drop-oldest delivery.
func (b *Buffer[T]) SetPrune(enabled bool) {
	b.coord.mu.Lock()
	b.coord.prune = enabled
	b.coord.mu.Unlock()
	b.coord.slotReleased.post()
}

// SetPeriod sets the sampling period used by Take. A period of zero or less
// disables scheduling. Changing the period restarts the schedule.
func (b *Buffer[T]) SetPeriod(period time.Duration) {
	b.coord.mu.Lock()
	defer b.coord.mu.Unlock()
	b.period = period
	b.lastReceive = time.Time{}
}

// SetReplier installs a delegate that answers writable connections directly.
// A nil replier restores buffering for every connection.
func (b *Buffer[T]) SetReplier(r port.Replier[T]) {
	b.coord.mu.Lock()
	defer b.coord.mu.Unlock()
	b.replier = r
}

// Stats returns a snapshot of pool occupancy and counters.
func (b *Buffer[T]) Stats() Stats {
	c := b.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := b.counters
	stats.Pending, stats.Free, stats.Allocated = c.snapshot()
	stats.Borrowed = c.borrowed
	stats.Held = c.held != nil
	stats.Attached = b.transport != nil
	stats.Closed = c.closed
	return stats
}

// Close detaches and closes the transport, releases every slot and wakes
// blocked producers and consumers. The buffer must not be reused.
func (b *Buffer[T]) Close() error {
	c := b.coord

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	t := b.transport
	b.transport = nil
	c.mu.Unlock()

	// Release producers blocked on a full pool first so that a transport
	// waiting for its delivery goroutine can finish closing.
	c.slotReleased.shut()

	// The transport may call Deliver with a disconnection notice while it
	// closes, so the lock must not be held here.
	var err error
	if t != nil {
		if err = t.Close(); err != nil {
			b.logger.Warn("failed to close transport", zap.Error(err))
			err = fmt.Errorf("close transport: %w", err)
		}
	}

	c.mu.Lock()
	done := c.clear()
	c.mu.Unlock()
	done.run()

	c.contentAvailable.shut()

	if b.metrics != nil {
		b.metrics.SetTransportAttached(b.name, false)
		b.metrics.SetPendingMessages(b.name, 0)
	}
	b.logger.Info("buffer closed")
	return err
}

// Read was the pre-Deliver producer entry point.
func (b *Buffer[T]) Read(port.Connection[T]) error {
	return &errors.UnsupportedOperationError{Operation: "Read", Replacement: "Deliver"}
}

// Check was the non-blocking pending probe.
func (b *Buffer[T]) Check() (bool, error) {
	return false, &errors.UnsupportedOperationError{Operation: "Check", Replacement: "TryTake"}
}

func (b *Buffer[T]) record(status string) {
	if b.metrics != nil {
		b.metrics.IncDeliveries(b.name, status)
	}
}

func (b *Buffer[T]) recordTake(outcome string) {
	if b.metrics != nil {
		b.metrics.IncTakes(b.name, outcome)
	}
}

func (b *Buffer[T]) setPending(count int) {
	if b.metrics != nil {
		b.metrics.SetPendingMessages(b.name, float64(count))
	}
}
