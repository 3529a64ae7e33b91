package buffer

import (
	"sync"

	"github.com/jittakal/portbuffer/internal/errors"
)

// coordinator owns the slot pool and the primitives that guard it.
// Every method expects mu to be held by the caller; the signals are posted
// by the Buffer after mu is released.
type coordinator[T any] struct {
	mu       sync.Mutex
	pool     *slotPool[T]
	held     *slot[T]
	borrowed int
	capacity int
	prune    bool
	closed   bool

	contentAvailable *signal
	slotReleased     *signal
}

func newCoordinator[T any](capacity int, prune bool) *coordinator[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &coordinator[T]{
		pool:             newSlotPool[T](),
		capacity:         capacity,
		prune:            prune,
		contentAvailable: newSignal(),
		slotReleased:     newSignal(),
	}
}

// acquireForWrite returns a slot for a producer to fill. It returns false
// when capacity is bounded and free plus pending slots already reach it.
func (c *coordinator[T]) acquireForWrite() (*slot[T], bool) {
	if c.pool.freeCount() == 0 && c.capacity > 0 && c.pool.pendingCount() >= c.capacity {
		return nil, false
	}
	return c.pool.takeFree(), true
}

// release hands an unused slot back to the free stack.
func (c *coordinator[T]) release(s *slot[T], done *completions) {
	if c.closed {
		s.place = placeNone
		done.add(s.reset())
		return
	}
	done.add(c.pool.pushFree(s))
}

// commit queues s for consumption. With prune enabled the oldest pending
// slot is recycled first, and commit reports that a drop happened.
func (c *coordinator[T]) commit(s *slot[T], done *completions) bool {
	dropped := false
	if c.prune && c.pool.pendingCount() >= 1 {
		dropped = c.dropOne(done)
	}
	c.pool.pushPending(s)
	return dropped
}

// dropOne recycles the oldest pending slot without touching the held one.
func (c *coordinator[T]) dropOne(done *completions) bool {
	s, ok := c.pool.takePending()
	if !ok {
		return false
	}
	done.add(c.pool.pushFree(s))
	return true
}

// takeNext recycles the held slot, then pops and holds the next pending one.
func (c *coordinator[T]) takeNext(done *completions) (*slot[T], bool) {
	if c.held != nil {
		done.add(c.pool.pushFree(c.held))
		c.held = nil
	}
	s, ok := c.pool.takePending()
	if !ok {
		return nil, false
	}
	s.place = placeHeld
	c.held = s
	return s, true
}

// envelope returns a copy of the held slot's envelope, or nil.
func (c *coordinator[T]) envelope() []byte {
	if c.held == nil || len(c.held.envelope) == 0 {
		return nil
	}
	out := make([]byte, len(c.held.envelope))
	copy(out, c.held.envelope)
	return out
}

// borrow removes the held slot from pool management and wraps it in a Token.
func (c *coordinator[T]) borrow() (*Token[T], bool) {
	if c.held == nil {
		return nil, false
	}
	s := c.held
	c.held = nil
	s.place = placeBorrowed
	c.borrowed++
	return &Token[T]{owner: c, slot: s, message: s.message()}, true
}

// giveBack recycles a borrowed slot. The token must have come from borrow on
// this coordinator and must not have been given back before.
func (c *coordinator[T]) giveBack(tok *Token[T], done *completions) error {
	if tok == nil || tok.owner != c {
		return errors.ErrForeignToken
	}
	if tok.returned {
		return errors.ErrTokenReturned
	}
	tok.returned = true
	c.borrowed--

	s := tok.slot
	var zero T
	tok.slot = nil
	tok.message = zero

	if c.closed {
		s.place = placeNone
		done.add(s.reset())
		return nil
	}
	done.add(c.pool.pushFree(s))
	return nil
}

// clear drops every slot. The coordinator is unusable afterwards.
func (c *coordinator[T]) clear() completions {
	c.held = nil
	return c.pool.clear()
}

func (c *coordinator[T]) snapshot() (pending, free, total int) {
	return c.pool.pendingCount(), c.pool.freeCount(), c.pool.total()
}
