package recorder

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/portbuffer/internal/buffer"
	"github.com/jittakal/portbuffer/internal/codec"
	"github.com/jittakal/portbuffer/internal/envelope"
	"github.com/jittakal/portbuffer/internal/errors"
	"github.com/jittakal/portbuffer/internal/transport/loopback"
)

type object struct {
	key         string
	data        []byte
	contentType string
}

// memSink keeps every stored object. failures makes the next Puts fail.
type memSink struct {
	mu       sync.Mutex
	objects  []object
	failures int
	failWith error
}

func (s *memSink) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return s.failWith
	}
	s.objects = append(s.objects, object{key: key, data: append([]byte(nil), data...), contentType: contentType})
	return nil
}

func (s *memSink) Name() string { return "memory" }
func (s *memSink) Close() error { return nil }

func (s *memSink) stored() []object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]object(nil), s.objects...)
}

type recordingMetrics struct {
	mu       sync.Mutex
	batches  map[string]int
	errors   int
	observed int
}

func (m *recordingMetrics) IncArchiveBatches(_, _, _, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batches == nil {
		m.batches = make(map[string]int)
	}
	m.batches[status]++
}

func (m *recordingMetrics) ObserveArchiveSize(string, string, float64) {
	m.mu.Lock()
	m.observed++
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveArchiveDuration(string, float64) {}

func (m *recordingMetrics) IncStorageErrors(string, string) {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func newSample(t *testing.T, seq int64) *codec.Sample {
	t.Helper()
	event, err := codec.NewEvent("/test", codec.EventTypeReading, codec.Reading{Sensor: "imu", Value: float64(seq), Sequence: seq})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	return &codec.Sample{Event: event, ReceivedAt: time.Now()}
}

func newParquet(t *testing.T) Encoder {
	t.Helper()
	enc, err := NewEncoder(FormatParquet, "snappy")
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	return enc
}

func readRows(t *testing.T, data []byte) []Row {
	t.Helper()
	rows, err := parquet.Read[Row](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("parquet.Read() error = %v", err)
	}
	return rows
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type runResult struct {
	cancel context.CancelFunc
	done   chan error
}

func start(rec *Recorder) runResult {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	return runResult{cancel: cancel, done: done}
}

func (r runResult) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
		return nil
	}
}

func TestRecorder_BatchesBySize(t *testing.T) {
	buf := buffer.New(buffer.Config{Name: "/imu"}, codec.NewSample, nil, nil)
	defer buf.Close()
	sink := &memSink{}
	metrics := &recordingMetrics{}
	rec := New(buf, newParquet(t), sink, Config{BatchSize: 2, FlushInterval: time.Hour}, nil, metrics)

	run := start(rec)
	for i := int64(1); i <= 5; i++ {
		if err := buf.AcceptExternal(newSample(t, i), nil); err != nil {
			t.Fatalf("AcceptExternal() error = %v", err)
		}
	}
	eventually(t, func() bool { return len(sink.stored()) == 2 })

	if err := run.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	objects := sink.stored()
	if len(objects) != 3 {
		t.Fatalf("stored %d objects, want 3", len(objects))
	}

	var ids []string
	for _, obj := range objects {
		if obj.contentType != "application/vnd.apache.parquet" {
			t.Errorf("content type = %q", obj.contentType)
		}
		for _, row := range readRows(t, obj.data) {
			ids = append(ids, row.ID)
			if row.Port != "/imu" {
				t.Errorf("Port = %q, want /imu", row.Port)
			}
			if row.StampID != nil {
				t.Errorf("StampID = %q, want nil without an envelope", *row.StampID)
			}
		}
	}
	if len(ids) != 5 {
		t.Errorf("archived %d rows, want 5", len(ids))
	}

	stats := rec.Stats()
	if stats.Rows != 5 || stats.Batches != 3 {
		t.Errorf("Stats() = %+v, want 5 rows in 3 batches", stats)
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.batches[StatusSuccess] != 3 || metrics.observed != 3 {
		t.Errorf("metrics batches = %v observed = %d", metrics.batches, metrics.observed)
	}
}

func TestRecorder_CarriesEnvelope(t *testing.T) {
	buf := buffer.New(buffer.Config{Name: "/imu"}, codec.NewSample, nil, nil)
	defer buf.Close()
	p := loopback.New[*codec.Sample]("/imu", buf, codec.DecodeJSON, nil)
	sink := &memSink{}
	rec := New(buf, newParquet(t), sink, Config{BatchSize: 1, FlushInterval: time.Hour}, nil, nil)

	run := start(rec)
	stamp := envelope.NewStamp(42, "imu-driver")
	if err := p.Send(newSample(t, 1), envelope.Marshal(stamp)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	eventually(t, func() bool { return len(sink.stored()) == 1 })
	if err := run.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	rows := readRows(t, sink.stored()[0].data)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.StampSequence != 42 {
		t.Errorf("StampSequence = %d, want 42", row.StampSequence)
	}
	if row.StampID == nil || *row.StampID != stamp.ID {
		t.Errorf("StampID = %v, want %s", row.StampID, stamp.ID)
	}
	if row.Type != codec.EventTypeReading {
		t.Errorf("Type = %q, want %q", row.Type, codec.EventTypeReading)
	}
}

func TestRecorder_FlushInterval(t *testing.T) {
	buf := buffer.New(buffer.Config{Name: "/imu"}, codec.NewSample, nil, nil)
	defer buf.Close()
	sink := &memSink{}
	rec := New(buf, newParquet(t), sink, Config{BatchSize: 100, FlushInterval: 30 * time.Millisecond}, nil, nil)

	run := start(rec)
	defer run.stop(t)

	if err := buf.AcceptExternal(newSample(t, 1), nil); err != nil {
		t.Fatalf("AcceptExternal() error = %v", err)
	}
	eventually(t, func() bool { return len(sink.stored()) == 1 })
}

func TestRecorder_StopsWhenBufferCloses(t *testing.T) {
	buf := buffer.New(buffer.Config{Name: "/imu"}, codec.NewSample, nil, nil)
	sink := &memSink{}
	rec := New(buf, newParquet(t), sink, Config{BatchSize: 10, FlushInterval: time.Hour}, nil, nil)

	run := start(rec)
	if err := buf.AcceptExternal(newSample(t, 1), nil); err != nil {
		t.Fatalf("AcceptExternal() error = %v", err)
	}
	eventually(t, func() bool { return rec.Stats().Rows == 1 })

	buf.Close()
	select {
	case err := <-run.done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after buffer Close")
	}
	if n := len(sink.stored()); n != 1 {
		t.Errorf("stored %d objects on shutdown, want 1", n)
	}
	if rec.Running() {
		t.Error("Running() = true after Run returned")
	}
}

func TestRecorder_RetainsRowsOnRetryableFailure(t *testing.T) {
	buf := buffer.New(buffer.Config{Name: "/imu"}, codec.NewSample, nil, nil)
	defer buf.Close()
	sink := &memSink{
		failures: 1,
		failWith: &errors.StorageError{Operation: "upload", Path: "mem://", Err: errors.ErrConnectionLost},
	}
	metrics := &recordingMetrics{}
	rec := New(buf, newParquet(t), sink, Config{BatchSize: 1, FlushInterval: time.Hour}, nil, metrics)

	run := start(rec)
	for i := int64(1); i <= 2; i++ {
		if err := buf.AcceptExternal(newSample(t, i), nil); err != nil {
			t.Fatalf("AcceptExternal() error = %v", err)
		}
	}
	eventually(t, func() bool { return rec.Stats().Rows == 2 })
	if n := len(sink.stored()); n != 0 {
		t.Errorf("stored %d objects before the retry interval, want 0", n)
	}
	// The final flush on stop retries the retained rows.
	if err := run.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := len(sink.stored()); n != 1 {
		t.Fatalf("stored %d objects, want 1", n)
	}

	if rows := readRows(t, sink.stored()[0].data); len(rows) != 2 {
		t.Errorf("retried batch has %d rows, want 2", len(rows))
	}
	stats := rec.Stats()
	if stats.Failures != 1 || stats.DroppedRows != 0 {
		t.Errorf("Stats() = %+v, want 1 failure and no dropped rows", stats)
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.batches[StatusFailure] != 1 || metrics.errors != 1 {
		t.Errorf("metrics batches = %v errors = %d", metrics.batches, metrics.errors)
	}
}

func TestRecorder_RetryWaitsForFlushInterval(t *testing.T) {
	buf := buffer.New(buffer.Config{Name: "/imu", Period: 5 * time.Millisecond}, codec.NewSample, nil, nil)
	defer buf.Close()
	sink := &memSink{
		failures: 1 << 20,
		failWith: &errors.StorageError{Operation: "upload", Path: "mem://", Err: errors.ErrConnectionLost},
	}
	rec := New(buf, newParquet(t), sink, Config{BatchSize: 1, FlushInterval: 100 * time.Millisecond}, nil, nil)

	run := start(rec)
	if err := buf.AcceptExternal(newSample(t, 1), nil); err != nil {
		t.Fatalf("AcceptExternal() error = %v", err)
	}
	time.Sleep(350 * time.Millisecond)
	failures := rec.Stats().Failures
	if err := run.stop(t); err != nil && !errors.IsRetryable(err) {
		t.Fatalf("Run() error = %v", err)
	}

	if failures < 2 {
		t.Errorf("upload attempts = %d, want a retry after the flush interval", failures)
	}
	if failures > 5 {
		t.Errorf("upload attempts = %d in 350ms with a 100ms interval, want at most 5", failures)
	}
	if dropped := rec.Stats().DroppedRows; dropped != 0 {
		t.Errorf("DroppedRows = %d, want 0", dropped)
	}
}

func TestRecorder_DropsRowsOnPermanentFailure(t *testing.T) {
	buf := buffer.New(buffer.Config{Name: "/imu"}, codec.NewSample, nil, nil)
	defer buf.Close()
	sink := &memSink{failures: 1, failWith: errors.ErrSinkClosed}
	rec := New(buf, newParquet(t), sink, Config{BatchSize: 1, FlushInterval: time.Hour}, nil, nil)

	run := start(rec)
	if err := buf.AcceptExternal(newSample(t, 1), nil); err != nil {
		t.Fatalf("AcceptExternal() error = %v", err)
	}
	eventually(t, func() bool { return rec.Stats().DroppedRows == 1 })
	if err := run.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := len(sink.stored()); n != 0 {
		t.Errorf("stored %d objects, want 0", n)
	}
}

func TestRecorder_CountsMissedTicks(t *testing.T) {
	buf := buffer.New(buffer.Config{Name: "/imu", Period: 10 * time.Millisecond}, codec.NewSample, nil, nil)
	defer buf.Close()
	rec := New(buf, newParquet(t), &memSink{}, Config{BatchSize: 10, FlushInterval: time.Hour}, nil, nil)

	run := start(rec)
	eventually(t, func() bool { return rec.Stats().Missed >= 2 })
	if err := run.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRecorder_RunTwice(t *testing.T) {
	buf := buffer.New(buffer.Config{Name: "/imu"}, codec.NewSample, nil, nil)
	defer buf.Close()
	rec := New(buf, newParquet(t), &memSink{}, Config{}, nil, nil)

	run := start(rec)
	defer run.stop(t)
	eventually(t, rec.Running)

	if err := rec.Run(context.Background()); err == nil {
		t.Error("second Run() should fail while the first is active")
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)

	tests := []struct {
		name   string
		prefix string
		port   string
		want   string
	}{
		{"rooted port", "archive", "/imu", "archive/imu/parquet/dt=2025-03-09/hour=14/samples_20250309_140507_002.parquet"},
		{"nested port", "", "/robot/imu/", "robot_imu/parquet/dt=2025-03-09/hour=14/samples_20250309_140507_002.parquet"},
		{"empty port", "", "", "default/parquet/dt=2025-03-09/hour=14/samples_20250309_140507_002.parquet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := objectKey(tt.prefix, tt.port, FormatParquet, ".parquet", at, 2); got != tt.want {
				t.Errorf("objectKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
