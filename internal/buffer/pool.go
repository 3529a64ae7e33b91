package buffer

import (
	"github.com/eapache/queue"

	"github.com/jittakal/portbuffer/pkg/port"
)

// slotPool keeps the free and pending slot collections.
// It has no synchronisation of its own; callers hold the coordinator lock.
type slotPool[T any] struct {
	slots   []*slot[T]
	free    []slotID
	pending *queue.Queue
}

func newSlotPool[T any]() *slotPool[T] {
	return &slotPool[T]{pending: queue.New()}
}

// takeFree pops a free slot, allocating a new one when none is free.
func (p *slotPool[T]) takeFree() *slot[T] {
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		s := p.slots[id]
		s.place = placeWriting
		return s
	}
	return p.allocate()
}

func (p *slotPool[T]) allocate() *slot[T] {
	s := &slot[T]{id: slotID(len(p.slots)), place: placeWriting}
	p.slots = append(p.slots, s)
	return s
}

// takePending pops the oldest pending slot.
func (p *slotPool[T]) takePending() (*slot[T], bool) {
	if p.pending.Length() == 0 {
		return nil, false
	}
	id := p.pending.Remove().(slotID)
	s := p.slots[id]
	s.place = placeNone
	return s, true
}

func (p *slotPool[T]) pushPending(s *slot[T]) {
	s.place = placePending
	p.pending.Add(s.id)
}

// pushFree resets s and returns it to the free stack.
func (p *slotPool[T]) pushFree(s *slot[T]) port.Completion {
	done := s.reset()
	s.place = placeFree
	p.free = append(p.free, s.id)
	return done
}

func (p *slotPool[T]) pendingCount() int {
	return p.pending.Length()
}

func (p *slotPool[T]) freeCount() int {
	return len(p.free)
}

// total is the number of slots ever allocated.
func (p *slotPool[T]) total() int {
	return len(p.slots)
}

// clear drops every slot and collects the completions still outstanding on
// free, pending and held slots. Slots being written by a producer or lent out
// as a Token are left to their owner.
func (p *slotPool[T]) clear() completions {
	var done completions
	for _, s := range p.slots {
		switch s.place {
		case placeWriting, placeBorrowed:
			continue
		}
		done.add(s.reset())
		s.place = placeNone
	}
	p.slots = nil
	p.free = nil
	p.pending = queue.New()
	return done
}
