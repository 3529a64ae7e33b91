package recorder

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/linkedin/goavro/v2"
	"github.com/parquet-go/parquet-go"
)

// Supported archive formats.
const (
	FormatParquet = "parquet"
	FormatAvro    = "avro"
)

// Encoder serializes a batch of rows into one archive object.
type Encoder interface {
	Encode(w io.Writer, rows []Row) error
	Format() string
	Extension() string
	ContentType() string
}

// NewEncoder returns the encoder for format. An empty compression selects the
// format default.
func NewEncoder(format, compression string) (Encoder, error) {
	switch strings.ToLower(format) {
	case FormatParquet, "":
		return &parquetEncoder{compression: compression}, nil
	case FormatAvro:
		return newAvroEncoder(compression)
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", format)
	}
}

// SupportedCompressions returns the compression codecs valid for format.
func SupportedCompressions(format string) []string {
	switch strings.ToLower(format) {
	case FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case FormatAvro:
		return []string{"uncompressed", "gzip"}
	default:
		return nil
	}
}

type parquetEncoder struct {
	compression string
}

func compressionCodec(compression string) parquet.WriterOption {
	switch strings.ToLower(compression) {
	case "gzip":
		return parquet.Compression(&parquet.Gzip)
	case "lz4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "none":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

func (e *parquetEncoder) Encode(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to encode")
	}

	writer := parquet.NewGenericWriter[Row](w,
		compressionCodec(e.compression),
		parquet.CreatedBy("portbuffer-recorder", "1.0", "0"),
	)
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

func (e *parquetEncoder) Format() string      { return FormatParquet }
func (e *parquetEncoder) Extension() string   { return ".parquet" }
func (e *parquetEncoder) ContentType() string { return "application/vnd.apache.parquet" }

// avroSchema mirrors Row. Times are RFC 3339 strings.
const avroSchema = `{
	"type": "record",
	"name": "SampleRow",
	"namespace": "com.portbuffer.recorder",
	"fields": [
		{"name": "port", "type": "string"},
		{"name": "spec_version", "type": "string"},
		{"name": "id", "type": "string"},
		{"name": "source", "type": "string"},
		{"name": "type", "type": "string"},
		{"name": "data", "type": "string"},
		{"name": "subject", "type": ["null", "string"], "default": null},
		{"name": "data_content_type", "type": ["null", "string"], "default": null},
		{"name": "time", "type": ["null", "string"], "default": null},
		{"name": "stamp_sequence", "type": "long"},
		{"name": "stamp_source", "type": ["null", "string"], "default": null},
		{"name": "stamp_id", "type": ["null", "string"], "default": null},
		{"name": "stamp_time", "type": ["null", "string"], "default": null},
		{"name": "received_at", "type": "string"},
		{"name": "taken_at", "type": "string"}
	]
}`

type avroEncoder struct {
	codec *goavro.Codec
	gzip  bool
}

func newAvroEncoder(compression string) (*avroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}
	return &avroEncoder{codec: codec, gzip: strings.EqualFold(compression, "gzip")}, nil
}

func (e *avroEncoder) Encode(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to encode")
	}

	var gz *gzip.Writer
	if e.gzip {
		gz = gzip.NewWriter(w)
		w = gz
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Codec: e.codec})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	records := make([]any, len(rows))
	for i := range rows {
		records[i] = avroRecord(&rows[i])
	}
	if err := ocf.Append(records); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return nil
}

func (e *avroEncoder) Format() string { return FormatAvro }

func (e *avroEncoder) Extension() string {
	if e.gzip {
		return ".avro.gz"
	}
	return ".avro"
}

func (e *avroEncoder) ContentType() string { return "application/avro" }

func avroRecord(r *Row) map[string]any {
	return map[string]any{
		"port":              r.Port,
		"spec_version":      r.SpecVersion,
		"id":                r.ID,
		"source":            r.Source,
		"type":              r.Type,
		"data":              r.Data,
		"subject":           optionalString(r.Subject),
		"data_content_type": optionalString(r.DataContentType),
		"time":              optionalTime(r.Time),
		"stamp_sequence":    r.StampSequence,
		"stamp_source":      optionalString(r.StampSource),
		"stamp_id":          optionalString(r.StampID),
		"stamp_time":        optionalTime(r.StampTime),
		"received_at":       r.ReceivedAt.Format(time.RFC3339Nano),
		"taken_at":          r.TakenAt.Format(time.RFC3339Nano),
	}
}

func optionalString(s *string) any {
	if s == nil {
		return nil
	}
	return goavro.Union("string", *s)
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return goavro.Union("string", t.Format(time.RFC3339Nano))
}
