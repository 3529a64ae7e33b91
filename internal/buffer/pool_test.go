package buffer

import "testing"

func TestSlotPool_TakeFreeAllocates(t *testing.T) {
	p := newSlotPool[*testMsg]()

	a := p.takeFree()
	b := p.takeFree()
	if a.id == b.id {
		t.Fatalf("takeFree() returned slot %d twice", a.id)
	}
	if got := p.total(); got != 2 {
		t.Errorf("total() = %d, want 2", got)
	}

	p.pushFree(a)
	if got := p.freeCount(); got != 1 {
		t.Errorf("freeCount() = %d, want 1", got)
	}
	if c := p.takeFree(); c != a {
		t.Error("takeFree() did not reuse the free slot")
	}
	if got := p.total(); got != 2 {
		t.Errorf("total() after reuse = %d, want 2", got)
	}
}

func TestSlotPool_PendingIsFIFO(t *testing.T) {
	p := newSlotPool[*testMsg]()

	var order []slotID
	for i := 0; i < 4; i++ {
		s := p.takeFree()
		order = append(order, s.id)
		p.pushPending(s)
	}
	if got := p.pendingCount(); got != 4 {
		t.Fatalf("pendingCount() = %d, want 4", got)
	}

	for _, want := range order {
		s, ok := p.takePending()
		if !ok {
			t.Fatal("takePending() returned nothing")
		}
		if s.id != want {
			t.Errorf("takePending() = %d, want %d", s.id, want)
		}
	}
	if _, ok := p.takePending(); ok {
		t.Error("takePending() on empty queue returned a slot")
	}
}

func TestSlotPool_PushFreeReturnsCompletionOnce(t *testing.T) {
	p := newSlotPool[*testMsg]()
	calls := 0

	s := p.takeFree()
	s.setExternal(&testMsg{value: "ext"}, func() { calls++ })
	s.setEnvelope([]byte("env"))

	done := p.pushFree(s)
	if done == nil {
		t.Fatal("pushFree() returned no completion for an external slot")
	}
	done()
	if s.mode != modeEmpty || len(s.envelope) != 0 || s.external != nil {
		t.Errorf("slot not reset: mode=%v envelope=%q", s.mode, s.envelope)
	}

	if again := p.takeFree(); p.pushFree(again) != nil {
		t.Error("completion returned a second time")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSlotPool_ClearSkipsSlotsInUse(t *testing.T) {
	p := newSlotPool[*testMsg]()
	var cleared, skipped int

	pending := p.takeFree()
	pending.setExternal(&testMsg{}, func() { cleared++ })
	p.pushPending(pending)

	writing := p.takeFree()
	writing.setExternal(&testMsg{}, func() { skipped++ })

	borrowed := p.takeFree()
	borrowed.setExternal(&testMsg{}, func() { skipped++ })
	borrowed.place = placeBorrowed

	p.clear().run()

	if cleared != 1 {
		t.Errorf("pending completions = %d, want 1", cleared)
	}
	if skipped != 0 {
		t.Errorf("in-use completions = %d, want 0", skipped)
	}
	if p.total() != 0 || p.pendingCount() != 0 || p.freeCount() != 0 {
		t.Errorf("pool not empty after clear: total=%d pending=%d free=%d",
			p.total(), p.pendingCount(), p.freeCount())
	}
}

func TestSlot_ModeSwitch(t *testing.T) {
	s := &slot[*testMsg]{}
	owned := &testMsg{value: "owned"}
	s.payload = owned
	s.hasPayload = true

	s.setExternal(&testMsg{value: "ext"}, nil)
	if got := s.message().value; got != "ext" {
		t.Errorf("message() = %q, want ext", got)
	}

	s.setOwned()
	if s.message() != owned {
		t.Error("setOwned() did not restore the payload")
	}
	if s.external != nil {
		t.Error("setOwned() left the external reference set")
	}
	if s.mode.String() != "owned" {
		t.Errorf("mode = %s, want owned", s.mode)
	}
}
