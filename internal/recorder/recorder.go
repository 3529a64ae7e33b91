// Package recorder is a buffer consumer that archives taken samples as
// Parquet or Avro objects on a file, S3, Azure Blob or GCS sink.
package recorder

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/buffer"
	"github.com/jittakal/portbuffer/internal/codec"
	"github.com/jittakal/portbuffer/internal/envelope"
	"github.com/jittakal/portbuffer/internal/errors"
	"github.com/jittakal/portbuffer/pkg/port"
)

// Archive batch status labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Source is the consumer side of a sample buffer.
type Source interface {
	Name() string
	Take() buffer.Delivery[*codec.Sample]
	ReadEnvelope(dst port.EnvelopeReader) error
	Interrupt()
	Stats() buffer.Stats
}

// MetricsCollector defines metrics operations for the recorder.
type MetricsCollector interface {
	IncArchiveBatches(port, sink, format, status string)
	ObserveArchiveSize(port, format string, size float64)
	ObserveArchiveDuration(port string, seconds float64)
	IncStorageErrors(backend string, operation string)
}

// Config holds recorder settings.
type Config struct {
	// BatchSize flushes once this many rows are buffered.
	BatchSize int
	// FlushInterval flushes a non-empty batch at least this often.
	FlushInterval time.Duration
	// Prefix is prepended to every object key.
	Prefix string
	// MaxRetainedRows bounds the rows kept across failed flushes.
	// Zero means four batches.
	MaxRetainedRows int
}

// Stats reports recorder progress.
type Stats struct {
	Rows          uint64
	Batches       uint64
	Failures      uint64
	Missed        uint64
	DroppedRows   uint64
	LastFlushTime time.Time
}

// Recorder takes samples from a Source and archives them in batches.
type Recorder struct {
	source  Source
	encoder Encoder
	sink    Sink
	cfg     Config
	logger  *zap.Logger
	metrics MetricsCollector

	// Owned by the Run goroutine.
	rows       []Row
	batchStart time.Time
	retryAt    time.Time
	lastKey    string
	keySeq     int

	running  atomic.Bool
	rowCount atomic.Uint64
	batches  atomic.Uint64
	failures atomic.Uint64
	missed   atomic.Uint64
	dropped  atomic.Uint64

	mu        sync.Mutex
	lastFlush time.Time
}

// New creates a recorder. logger and metrics may be nil.
func New(source Source, enc Encoder, sink Sink, cfg Config, logger *zap.Logger, metrics MetricsCollector) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.MaxRetainedRows <= 0 {
		cfg.MaxRetainedRows = 4 * cfg.BatchSize
	}
	return &Recorder{
		source:  source,
		encoder: enc,
		sink:    sink,
		cfg:     cfg,
		logger: logger.With(
			zap.String("port", source.Name()),
			zap.String("sink", sink.Name()),
			zap.String("format", enc.Format()),
		),
		metrics: metrics,
	}
}

// Run takes samples until ctx is cancelled or the source is closed, then
// flushes what is left. Cancelling ctx interrupts a blocked take.
func (r *Recorder) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("recorder already running")
	}
	defer r.running.Store(false)

	stop := context.AfterFunc(ctx, r.source.Interrupt)
	defer stop()

	// Wakes an idle take so a partial batch still ages out.
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	tickDone := make(chan struct{})
	defer close(tickDone)
	go func() {
		for {
			select {
			case <-ticker.C:
				r.source.Interrupt()
			case <-tickDone:
				return
			}
		}
	}()

	r.logger.Info("recorder started",
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Duration("flush_interval", r.cfg.FlushInterval),
	)

	for {
		d := r.source.Take()
		switch {
		case d.OK:
			r.append(d.Message)
		case d.Missed:
			r.missed.Add(1)
		}

		if ctx.Err() != nil || (!d.OK && !d.Missed && r.source.Stats().Closed) {
			break
		}

		if r.due(time.Now()) {
			if err := r.flush(ctx); err != nil {
				r.logger.Error("failed to archive batch", zap.Error(err))
			}
		}
	}

	err := r.flush(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, errors.ErrNothingToArchive) {
		r.logger.Error("failed to archive final batch", zap.Error(err))
		return err
	}
	r.logger.Info("recorder stopped", zap.Uint64("rows", r.rowCount.Load()))
	return nil
}

func (r *Recorder) append(s *codec.Sample) {
	var stamp envelope.Stamp
	if err := r.source.ReadEnvelope(&stamp); err != nil {
		r.logger.Warn("failed to read envelope", zap.Error(err))
		stamp = envelope.Stamp{}
	}

	now := time.Now()
	if len(r.rows) == 0 {
		r.batchStart = now
	}
	r.rows = append(r.rows, newRow(r.source.Name(), s, stamp, now))
	r.rowCount.Add(1)
}

// due reports whether the current batch should be flushed. After a failed
// upload the retained rows wait one FlushInterval unless they reach
// MaxRetainedRows.
func (r *Recorder) due(now time.Time) bool {
	if len(r.rows) == 0 {
		return false
	}
	if now.Before(r.retryAt) {
		return len(r.rows) >= r.cfg.MaxRetainedRows
	}
	return len(r.rows) >= r.cfg.BatchSize || now.Sub(r.batchStart) >= r.cfg.FlushInterval
}

// flush encodes the buffered rows and writes them to the sink. Rows are kept
// after a retryable failure, up to MaxRetainedRows.
func (r *Recorder) flush(ctx context.Context) error {
	if len(r.rows) == 0 {
		return errors.ErrNothingToArchive
	}

	start := time.Now()
	portName := r.source.Name()
	format := r.encoder.Format()

	var buf bytes.Buffer
	if err := r.encoder.Encode(&buf, r.rows); err != nil {
		r.fail("encode")
		r.discard("encode failed")
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	key := r.nextKey(start)
	if err := r.sink.Put(ctx, key, buf.Bytes(), r.encoder.ContentType()); err != nil {
		r.fail("upload")
		if !errors.IsRetryable(err) || len(r.rows) >= r.cfg.MaxRetainedRows {
			r.discard("upload failed")
		} else {
			r.retryAt = time.Now().Add(r.cfg.FlushInterval)
		}
		return fmt.Errorf("failed to store batch: %w", err)
	}

	duration := time.Since(start)
	r.logger.Info("archived batch",
		zap.String("key", key),
		zap.Int("row_count", len(r.rows)),
		zap.Int("size", buf.Len()),
		zap.Int64("duration_ms", duration.Milliseconds()),
	)
	if r.metrics != nil {
		r.metrics.IncArchiveBatches(portName, r.sink.Name(), format, StatusSuccess)
		r.metrics.ObserveArchiveSize(portName, format, float64(buf.Len()))
		r.metrics.ObserveArchiveDuration(portName, duration.Seconds())
	}

	r.batches.Add(1)
	r.rows = r.rows[:0]
	r.retryAt = time.Time{}
	r.mu.Lock()
	r.lastFlush = start
	r.mu.Unlock()
	return nil
}

func (r *Recorder) fail(operation string) {
	r.failures.Add(1)
	if r.metrics != nil {
		r.metrics.IncArchiveBatches(r.source.Name(), r.sink.Name(), r.encoder.Format(), StatusFailure)
		r.metrics.IncStorageErrors(r.sink.Name(), operation)
	}
}

func (r *Recorder) discard(reason string) {
	r.logger.Warn("discarding batch", zap.String("reason", reason), zap.Int("row_count", len(r.rows)))
	r.dropped.Add(uint64(len(r.rows)))
	r.rows = r.rows[:0]
	r.retryAt = time.Time{}
}

// nextKey keeps keys unique when several batches land in the same second.
func (r *Recorder) nextKey(at time.Time) string {
	second := at.UTC().Format("20060102_150405")
	if second == r.lastKey {
		r.keySeq++
	} else {
		r.lastKey = second
		r.keySeq = 1
	}
	return objectKey(r.cfg.Prefix, r.source.Name(), r.encoder.Format(), r.encoder.Extension(), at, r.keySeq)
}

// Stats returns a snapshot of recorder counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	last := r.lastFlush
	r.mu.Unlock()
	return Stats{
		Rows:          r.rowCount.Load(),
		Batches:       r.batches.Load(),
		Failures:      r.failures.Load(),
		Missed:        r.missed.Load(),
		DroppedRows:   r.dropped.Load(),
		LastFlushTime: last,
	}
}

// Running reports whether Run is active.
func (r *Recorder) Running() bool {
	return r.running.Load()
}
