package buffer

import "github.com/jittakal/portbuffer/pkg/port"

// slotID addresses a slot in the pool arena.
type slotID int

// slotMode tags which of the slot's references is meaningful.
type slotMode uint8

const (
	modeEmpty slotMode = iota
	modeOwned
	modeExternal
)

func (m slotMode) String() string {
	switch m {
	case modeOwned:
		return "owned"
	case modeExternal:
		return "external"
	default:
		return "empty"
	}
}

// slotPlace records which collection currently owns a slot.
type slotPlace uint8

const (
	placeNone slotPlace = iota
	placeFree
	placePending
	placeHeld
	placeWriting
	placeBorrowed
)

// slot holds one in-flight message plus its envelope.
//
// The factory-made payload survives recycling so that it can be decoded into
// again; only the mode decides whether it is the slot's message.
type slot[T any] struct {
	id         slotID
	place      slotPlace
	mode       slotMode
	payload    T
	hasPayload bool
	external   T
	completion port.Completion
	envelope   []byte
}

// setOwned makes the factory payload the slot's message.
func (s *slot[T]) setOwned() {
	var zero T
	s.mode = modeOwned
	s.external = zero
	s.completion = nil
}

// setExternal makes obj the slot's message. done runs when the slot is recycled.
func (s *slot[T]) setExternal(obj T, done port.Completion) {
	s.mode = modeExternal
	s.external = obj
	s.completion = done
}

func (s *slot[T]) message() T {
	if s.mode == modeExternal {
		return s.external
	}
	return s.payload
}

func (s *slot[T]) setEnvelope(data []byte) {
	s.envelope = append(s.envelope[:0], data...)
}

// reset clears the slot for reuse and hands back the pending completion, if
// any. A completion is returned at most once.
func (s *slot[T]) reset() port.Completion {
	var zero T
	done := s.completion
	s.mode = modeEmpty
	s.external = zero
	s.completion = nil
	s.envelope = s.envelope[:0]
	return done
}

// completions collects callbacks gathered under the state lock.
type completions []port.Completion

func (cs *completions) add(done port.Completion) {
	if done != nil {
		*cs = append(*cs, done)
	}
}

// run invokes every collected callback. Callers must not hold the state lock.
func (cs completions) run() {
	for _, done := range cs {
		done()
	}
}
