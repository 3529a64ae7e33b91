package recorder

import (
	"time"

	"github.com/jittakal/portbuffer/internal/codec"
	"github.com/jittakal/portbuffer/internal/envelope"
)

// Row is the archived form of one taken sample. Time columns use
// TIMESTAMP_MICROS so the files stay readable by Athena and Spark.
type Row struct {
	Port        string `parquet:"port,dict"`
	SpecVersion string `parquet:"spec_version,dict"`
	ID          string `parquet:"id"`
	Source      string `parquet:"source,dict"`
	Type        string `parquet:"type,dict"`
	Data        string `parquet:"data"`

	Subject         *string    `parquet:"subject,dict,optional"`
	DataContentType *string    `parquet:"data_content_type,dict,optional"`
	Time            *time.Time `parquet:"time,timestamp(microsecond),optional"`

	StampSequence int64      `parquet:"stamp_sequence"`
	StampSource   *string    `parquet:"stamp_source,dict,optional"`
	StampID       *string    `parquet:"stamp_id,optional"`
	StampTime     *time.Time `parquet:"stamp_time,timestamp(microsecond),optional"`

	ReceivedAt time.Time `parquet:"received_at,timestamp(microsecond)"`
	TakenAt    time.Time `parquet:"taken_at,timestamp(microsecond)"`
}

// newRow copies what it needs out of s; the slot behind s is recycled on the
// next take.
func newRow(port string, s *codec.Sample, stamp envelope.Stamp, takenAt time.Time) Row {
	ev := s.Event
	row := Row{
		Port:        port,
		SpecVersion: ev.SpecVersion(),
		ID:          ev.ID(),
		Source:      ev.Source(),
		Type:        ev.Type(),
		Data:        string(ev.Data()),
		ReceivedAt:  s.ReceivedAt.UTC(),
		TakenAt:     takenAt.UTC(),
	}

	if v := ev.Subject(); v != "" {
		row.Subject = &v
	}
	if v := ev.DataContentType(); v != "" {
		row.DataContentType = &v
	}
	if t := ev.Time(); !t.IsZero() {
		t = t.UTC()
		row.Time = &t
	}

	if !stamp.IsZero() {
		row.StampSequence = stamp.Sequence
		src, id, t := stamp.Source, stamp.ID, stamp.Time.UTC()
		row.StampSource = &src
		row.StampID = &id
		row.StampTime = &t
	}
	return row
}
