package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/errors"
	"github.com/jittakal/portbuffer/pkg/port"
)

// Ensure implementation satisfies interface at compile time.
var _ port.Transport = (*Transport[any])(nil)

// retryBackoff is the pause between failed consumer group sessions.
const retryBackoff = time.Second

// MetricsCollector defines metrics operations for the Kafka transport.
type MetricsCollector interface {
	IncFramesReceived(topic string, partition int32)
	IncRebalances(groupID string)
	SetPartitionsAssigned(topic string, count float64)
}

// DeadLetterPublisher receives records the sink could not decode.
type DeadLetterPublisher interface {
	PublishDeadLetter(msg *sarama.ConsumerMessage, reason string) error
}

// Transport consumes Kafka topics through a consumer group and delivers every
// record to a port sink. Offsets are marked once the sink has taken the record.
type Transport[T any] struct {
	group   sarama.ConsumerGroup
	config  Config
	sink    port.Sink[T]
	decode  port.Decoder[T]
	logger  *zap.Logger
	metrics MetricsCollector

	deadLetter DeadLetterPublisher
	ready      chan struct{}
	readyOnce  sync.Once
	wg         sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  atomic.Bool
}

// NewTransport creates a consumer group transport. It does not consume until
// Start is called.
func NewTransport[T any](
	config Config,
	sink port.Sink[T],
	decode port.Decoder[T],
	logger *zap.Logger,
	metrics MetricsCollector,
) (*Transport[T], error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	saramaConfig, err := config.consumerConfig()
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	t := newTransport(group, config, sink, decode, logger, metrics)
	t.logger.Info("kafka transport created",
		zap.Strings("bootstrap_servers", config.BootstrapServers),
		zap.Int("session_timeout_ms", config.SessionTimeoutMS),
		zap.Int("max_poll_interval_ms", config.MaxPollIntervalMS),
	)
	return t, nil
}

func newTransport[T any](
	group sarama.ConsumerGroup,
	config Config,
	sink port.Sink[T],
	decode port.Decoder[T],
	logger *zap.Logger,
	metrics MetricsCollector,
) *Transport[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport[T]{
		group:   group,
		config:  config,
		sink:    sink,
		decode:  decode,
		logger:  logger.With(zap.String("group_id", config.GroupID), zap.Strings("topics", config.Topics)),
		metrics: metrics,
		ready:   make(chan struct{}),
	}
}

// SetDeadLetter routes undecodable records to p. It must be called before Start.
func (t *Transport[T]) SetDeadLetter(p DeadLetterPublisher) {
	t.deadLetter = p
}

// Ready is closed once the first consumer group session has been set up.
func (t *Transport[T]) Ready() <-chan struct{} {
	return t.ready
}

// Start joins the consumer group and consumes in the background until ctx is
// cancelled or Close is called.
func (t *Transport[T]) Start(ctx context.Context) error {
	if t.closed.Load() {
		return errors.ErrTransportClosed
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("kafka transport already started")
	}
	t.started = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	handler := &groupHandler[T]{transport: t}

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		for err := range t.group.Errors() {
			t.logger.Error("consumer group error", zap.Error(err))
		}
	}()
	go func() {
		defer t.wg.Done()
		t.consume(ctx, handler)
	}()

	t.logger.Info("kafka transport started")
	return nil
}

func (t *Transport[T]) consume(ctx context.Context, handler sarama.ConsumerGroupHandler) {
	for {
		if err := t.group.Consume(ctx, t.config.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			t.logger.Error("consumer group session failed", zap.Error(err))

			select {
			case <-ctx.Done():
			case <-time.After(retryBackoff):
			}
		}

		if ctx.Err() != nil {
			t.logger.Info("consumer context cancelled")
			return
		}
	}
}

// Close leaves the consumer group and delivers a disconnection notice to the
// sink. It is safe to call more than once.
func (t *Transport[T]) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.logger.Info("closing kafka transport")

	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	err := t.group.Close()
	t.wg.Wait()

	notice := &connection[T]{decode: t.decode, header: t.config.envelopeHeader()}
	if derr := t.sink.Deliver(notice); derr != nil && !errors.Is(derr, errors.ErrBufferClosed) {
		t.logger.Warn("failed to deliver disconnection", zap.Error(derr))
	}

	if err != nil {
		t.logger.Error("error closing consumer group", zap.Error(err))
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	t.logger.Info("kafka transport closed")
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler[T any] struct {
	transport *Transport[T]
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *groupHandler[T]) Setup(session sarama.ConsumerGroupSession) error {
	t := h.transport
	t.logger.Info("consumer group session setup",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation_id", session.GenerationID()),
	)

	if t.metrics != nil {
		t.metrics.IncRebalances(t.config.GroupID)
		for topic, partitions := range session.Claims() {
			t.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
		}
	}

	t.readyOnce.Do(func() { close(t.ready) })
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *groupHandler[T]) Cleanup(session sarama.ConsumerGroupSession) error {
	h.transport.logger.Info("consumer group session cleanup",
		zap.String("member_id", session.MemberID()),
	)
	return nil
}

// ConsumeClaim delivers the records of one partition. It may block inside the
// sink while a bounded buffer is full.
func (h *groupHandler[T]) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	t := h.transport
	t.logger.Info("started consuming partition",
		zap.String("topic", claim.Topic()),
		zap.Int32("partition", claim.Partition()),
		zap.Int64("initial_offset", claim.InitialOffset()),
	)

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			if !t.deliver(msg) {
				return nil
			}
			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// deliver hands msg to the sink. It returns false once the sink is closed.
func (t *Transport[T]) deliver(msg *sarama.ConsumerMessage) bool {
	if t.metrics != nil {
		t.metrics.IncFramesReceived(msg.Topic, msg.Partition)
	}

	err := t.sink.Deliver(&connection[T]{msg: msg, decode: t.decode, header: t.config.envelopeHeader()})
	if err == nil {
		return true
	}

	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err),
	}

	var decodeErr *errors.DecodeError
	switch {
	case errors.Is(err, errors.ErrBufferClosed):
		t.logger.Info("sink closed, stopping partition consumption", fields...)
		return false

	case errors.As(err, &decodeErr):
		t.logger.Warn("failed to decode record", fields...)
		if t.deadLetter != nil {
			if dlqErr := t.deadLetter.PublishDeadLetter(msg, decodeErr.Error()); dlqErr != nil {
				t.logger.Error("failed to dead-letter record", zap.Error(dlqErr))
			}
		}

	default:
		t.logger.Error("failed to deliver record", fields...)
	}
	return true
}
