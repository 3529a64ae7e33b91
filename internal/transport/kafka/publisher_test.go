package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/jittakal/portbuffer/internal/errors"
)

func newMockPublisher(t *testing.T, cfg Config) (*Publisher, *mocks.SyncProducer) {
	t.Helper()
	sc := mocks.NewTestConfig()
	sc.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, sc)
	return newPublisher(producer, cfg, nil), producer
}

func header(msg *sarama.ProducerMessage, key string) (string, bool) {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func TestPublisher_Publish(t *testing.T) {
	p, producer := newMockPublisher(t, testConfig())

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "readings" {
			return fmt.Errorf("topic = %s", msg.Topic)
		}
		if v, ok := header(msg, DefaultEnvelopeHeader); !ok || v != "stamp" {
			return fmt.Errorf("envelope header = %q", v)
		}
		if v, _ := header(msg, "ce_type"); v != "reading" {
			return fmt.Errorf("ce_type header = %q", v)
		}
		return nil
	})

	err := p.Publish(context.Background(), "readings", "imu", []byte("{}"), []byte("stamp"),
		map[string]string{"ce_type": "reading"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestPublisher_PublishFailure(t *testing.T) {
	p, producer := newMockPublisher(t, testConfig())
	defer p.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := p.Publish(context.Background(), "readings", "", []byte("{}"), nil, nil)
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Publish() error = %v, want ErrOutOfBrokers", err)
	}
}

func TestPublisher_CancelledContext(t *testing.T) {
	p, _ := newMockPublisher(t, testConfig())
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, "readings", "", nil, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Publish() error = %v, want context.Canceled", err)
	}
}

func TestPublisher_DeadLetter(t *testing.T) {
	cfg := testConfig()
	cfg.DeadLetterTopic = "readings.dlq"
	p, producer := newMockPublisher(t, cfg)
	defer p.Close()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "readings.dlq" {
			return fmt.Errorf("topic = %s", msg.Topic)
		}
		if v, _ := header(msg, "original_topic"); v != "readings" {
			return fmt.Errorf("original_topic header = %q", v)
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var dl DeadLetter
		if err := json.Unmarshal(raw, &dl); err != nil {
			return err
		}
		if dl.OriginalOffset != 42 || string(dl.OriginalValue) != "garbage" {
			return fmt.Errorf("dead letter = %+v", dl)
		}
		if dl.ProcessorID != cfg.GroupID {
			return fmt.Errorf("processor id = %q", dl.ProcessorID)
		}
		return nil
	})

	msg := &sarama.ConsumerMessage{Topic: "readings", Offset: 42, Value: []byte("garbage")}
	if err := p.PublishDeadLetter(msg, "decode error"); err != nil {
		t.Fatalf("PublishDeadLetter() error = %v", err)
	}
}

func TestPublisher_DeadLetterDisabled(t *testing.T) {
	p, _ := newMockPublisher(t, testConfig())
	defer p.Close()

	msg := &sarama.ConsumerMessage{Topic: "readings", Value: []byte("garbage")}
	if err := p.PublishDeadLetter(msg, "decode error"); err != nil {
		t.Errorf("PublishDeadLetter() error = %v, want nil", err)
	}
}

func TestPublisher_Closed(t *testing.T) {
	p, _ := newMockPublisher(t, testConfig())
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := p.Publish(context.Background(), "readings", "", nil, nil, nil); !errors.Is(err, errors.ErrTransportClosed) {
		t.Errorf("Publish() error = %v, want ErrTransportClosed", err)
	}
	msg := &sarama.ConsumerMessage{Topic: "readings"}
	if err := p.PublishDeadLetter(msg, "x"); !errors.Is(err, errors.ErrTransportClosed) {
		t.Errorf("PublishDeadLetter() error = %v, want ErrTransportClosed", err)
	}
}
