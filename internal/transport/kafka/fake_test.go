package kafka

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
)

// fakeGroup runs one session over a single claim per Consume call.
type fakeGroup struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
	errs      chan error

	mu       sync.Mutex
	closed   bool
	marked   []int64
	sessions int
	once     sync.Once
}

func newFakeGroup(topic string) *fakeGroup {
	return &fakeGroup{
		topic:    topic,
		messages: make(chan *sarama.ConsumerMessage, 16),
		errs:     make(chan error),
	}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return sarama.ErrClosedConsumerGroup
	}
	g.sessions++
	g.mu.Unlock()

	session := &fakeSession{ctx: ctx, group: g}
	if err := handler.Setup(session); err != nil {
		return err
	}
	err := handler.ConsumeClaim(session, &fakeClaim{group: g})
	if cerr := handler.Cleanup(session); err == nil {
		err = cerr
	}
	<-ctx.Done()
	return err
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	g.once.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()
		close(g.errs)
	})
	return nil
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

func (g *fakeGroup) markedOffsets() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.marked...)
}

type fakeSession struct {
	ctx   context.Context
	group *fakeGroup
}

func (s *fakeSession) Claims() map[string][]int32 {
	return map[string][]int32{s.group.topic: {s.group.partition}}
}
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.group.mu.Lock()
	s.group.marked = append(s.group.marked, msg.Offset)
	s.group.mu.Unlock()
}

type fakeClaim struct {
	group *fakeGroup
}

func (c *fakeClaim) Topic() string                            { return c.group.topic }
func (c *fakeClaim) Partition() int32                         { return c.group.partition }
func (c *fakeClaim) InitialOffset() int64                     { return sarama.OffsetOldest }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.group.messages }

// fakeMetrics records transport metrics.
type fakeMetrics struct {
	mu         sync.Mutex
	frames     int
	rebalances int
	assigned   map[string]float64
}

func (m *fakeMetrics) IncFramesReceived(string, int32) {
	m.mu.Lock()
	m.frames++
	m.mu.Unlock()
}

func (m *fakeMetrics) IncRebalances(string) {
	m.mu.Lock()
	m.rebalances++
	m.mu.Unlock()
}

func (m *fakeMetrics) SetPartitionsAssigned(topic string, count float64) {
	m.mu.Lock()
	if m.assigned == nil {
		m.assigned = make(map[string]float64)
	}
	m.assigned[topic] = count
	m.mu.Unlock()
}

// fakeDeadLetter records dead-lettered offsets.
type fakeDeadLetter struct {
	mu      sync.Mutex
	offsets []int64
}

func (d *fakeDeadLetter) PublishDeadLetter(msg *sarama.ConsumerMessage, _ string) error {
	d.mu.Lock()
	d.offsets = append(d.offsets, msg.Offset)
	d.mu.Unlock()
	return nil
}

func (d *fakeDeadLetter) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.offsets)
}
