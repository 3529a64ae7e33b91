package generator

import (
	"context"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/jittakal/portbuffer/internal/codec"
	"github.com/jittakal/portbuffer/internal/envelope"
)

// ObjectSender hands payload objects to a same-process port.
type ObjectSender interface {
	Send(obj *codec.Sample, envelope []byte) error
}

// FrameSender hands encoded frames to a same-process port.
type FrameSender interface {
	SendBytes(data, envelope []byte) error
}

// FramePublisher writes encoded frames to a broker topic.
type FramePublisher interface {
	Publish(ctx context.Context, topic, key string, value, envelope []byte, headers map[string]string) error
}

// ToObjects sends each event by reference.
func ToObjects(s ObjectSender) Target {
	return TargetFunc(func(_ context.Context, event cloudevents.Event, stamp envelope.Stamp) error {
		env, err := stamp.MarshalEnvelope()
		if err != nil {
			return err
		}
		sample, _ := codec.NewSample()
		sample.Event = event
		return s.Send(sample, env)
	})
}

// ToFrames sends each event as structured JSON.
func ToFrames(s FrameSender) Target {
	return TargetFunc(func(_ context.Context, event cloudevents.Event, stamp envelope.Stamp) error {
		data, env, err := encode(event, stamp)
		if err != nil {
			return err
		}
		return s.SendBytes(data, env)
	})
}

// ToTopic publishes each event to topic, keyed by subject so that one
// sensor's samples stay on one partition.
func ToTopic(p FramePublisher, topic string) Target {
	return TargetFunc(func(ctx context.Context, event cloudevents.Event, stamp envelope.Stamp) error {
		data, env, err := encode(event, stamp)
		if err != nil {
			return err
		}
		return p.Publish(ctx, topic, event.Subject(), data, env, codec.Headers(event))
	})
}

func encode(event cloudevents.Event, stamp envelope.Stamp) ([]byte, []byte, error) {
	data, err := codec.EncodeJSON(&codec.Sample{Event: event})
	if err != nil {
		return nil, nil, err
	}
	env, err := stamp.MarshalEnvelope()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, env, nil
}
