// Package envelope defines the metadata record carried next to every
// message payload and its Avro binary encoding.
//
// Producers stamp each frame with a Stamp; the buffer stores the encoded
// bytes verbatim and consumers decode them after Take:
//
//	var stamp envelope.Stamp
//	if err := buf.ReadEnvelope(&stamp); err != nil {
//	    return err
//	}
package envelope

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linkedin/goavro/v2"
)

// Stamp is the out-of-band metadata of one message.
type Stamp struct {
	Sequence int64
	Time     time.Time
	Source   string
	ID       string
}

// NewStamp returns a stamp for the seq-th message from source, timed now.
func NewStamp(seq int64, source string) Stamp {
	return Stamp{
		Sequence: seq,
		Time:     time.Now().UTC(),
		Source:   source,
		ID:       uuid.NewString(),
	}
}

// IsZero reports whether s carries no metadata.
func (s Stamp) IsZero() bool {
	return s.Sequence == 0 && s.Time.IsZero() && s.Source == "" && s.ID == ""
}

func schema() string {
	return `{
		"type": "record",
		"name": "Stamp",
		"namespace": "com.portbuffer",
		"fields": [
			{"name": "sequence", "type": "long"},
			{"name": "time_micros", "type": "long"},
			{"name": "source", "type": "string"},
			{"name": "id", "type": "string"}
		]
	}`
}

var (
	codecOnce sync.Once
	codec     *goavro.Codec
	codecErr  error
)

// Codec returns the shared Avro codec for Stamp records.
func Codec() (*goavro.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = goavro.NewCodec(schema())
		if codecErr != nil {
			codecErr = fmt.Errorf("failed to create envelope codec: %w", codecErr)
		}
	})
	return codec, codecErr
}

// MarshalEnvelope encodes s as an Avro binary record.
func (s Stamp) MarshalEnvelope() ([]byte, error) {
	c, err := Codec()
	if err != nil {
		return nil, err
	}

	var micros int64
	if !s.Time.IsZero() {
		micros = s.Time.UnixMicro()
	}
	native := map[string]interface{}{
		"sequence":    s.Sequence,
		"time_micros": micros,
		"source":      s.Source,
		"id":          s.ID,
	}

	data, err := c.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes an Avro binary record into s. Empty input
// yields a zero Stamp.
func (s *Stamp) UnmarshalEnvelope(data []byte) error {
	*s = Stamp{}
	if len(data) == 0 {
		return nil
	}

	c, err := Codec()
	if err != nil {
		return err
	}

	native, _, err := c.NativeFromBinary(data)
	if err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	record, ok := native.(map[string]interface{})
	if !ok {
		return fmt.Errorf("failed to decode envelope: unexpected type %T", native)
	}

	s.Sequence, _ = record["sequence"].(int64)
	if micros, _ := record["time_micros"].(int64); micros != 0 {
		s.Time = time.UnixMicro(micros).UTC()
	}
	s.Source, _ = record["source"].(string)
	s.ID, _ = record["id"].(string)
	return nil
}

// Marshal is like MarshalEnvelope but panics on error.
func Marshal(s Stamp) []byte {
	data, err := s.MarshalEnvelope()
	if err != nil {
		panic(err)
	}
	return data
}
