// Package codec defines the sample payload carried through a port and its
// structured-mode CloudEvents JSON encoding.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Content types and event types used by sample producers.
const (
	ContentTypeJSON   = "application/json"
	EventTypeReading  = "com.portbuffer.sample.reading"
	EventTypeCommand  = "com.portbuffer.sample.command"
	DefaultSource     = "/portbuffer"
	cloudEventsPrefix = "ce_"
)

// Sample is the payload object stored in a buffer slot.
type Sample struct {
	Event      cloudevents.Event
	ReceivedAt time.Time
}

// Reading is the data of a reading event.
type Reading struct {
	Sensor    string    `json:"sensor"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSample is the payload factory for sample buffers.
func NewSample() (*Sample, bool) {
	return &Sample{Event: cloudevents.NewEvent()}, true
}

// Reset clears s for reuse.
func (s *Sample) Reset() {
	s.Event = cloudevents.NewEvent()
	s.ReceivedAt = time.Time{}
}

// Reading decodes the event data as a Reading.
func (s *Sample) Reading() (Reading, error) {
	var r Reading
	if err := s.Event.DataAs(&r); err != nil {
		return Reading{}, fmt.Errorf("failed to decode reading: %w", err)
	}
	return r, nil
}

// DecodeJSON decodes a structured-mode CloudEvent into dst, replacing its
// previous contents.
func DecodeJSON(data []byte, dst *Sample) error {
	if dst == nil {
		return fmt.Errorf("decode sample: nil destination")
	}
	dst.Reset()

	if err := json.Unmarshal(data, &dst.Event); err != nil {
		return fmt.Errorf("failed to unmarshal cloud event: %w", err)
	}
	if err := dst.Event.Validate(); err != nil {
		return fmt.Errorf("invalid cloud event: %w", err)
	}
	dst.ReceivedAt = time.Now().UTC()
	return nil
}

// EncodeJSON encodes the sample's event in structured mode.
func EncodeJSON(s *Sample) ([]byte, error) {
	data, err := json.Marshal(s.Event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cloud event: %w", err)
	}
	return data, nil
}

// NewEvent builds a JSON CloudEvent with a random ID.
func NewEvent(source, eventType string, data any) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetID(uuid.New().String())
	event.SetType(eventType)
	event.SetSource(source)
	event.SetTime(time.Now())

	if err := event.SetData(ContentTypeJSON, data); err != nil {
		return event, fmt.Errorf("failed to set event data: %w", err)
	}
	return event, nil
}

// Headers returns the binary-mode attribute headers for event, as written
// next to a structured payload for broker-side filtering.
func Headers(event cloudevents.Event) map[string]string {
	return map[string]string{
		cloudEventsPrefix + "specversion": event.SpecVersion(),
		cloudEventsPrefix + "type":        event.Type(),
		cloudEventsPrefix + "source":      event.Source(),
		cloudEventsPrefix + "id":          event.ID(),
	}
}
