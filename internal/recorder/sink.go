package recorder

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/errors"
)

// Sink stores encoded archive objects under a slash-separated key.
type Sink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Name() string
	Close() error
}

// objectKey lays archives out Hive style:
// prefix/port/format/dt=YYYY-MM-DD/hour=HH/samples_YYYYMMDD_HHMMSS_NNN.ext
func objectKey(prefix, port, format, ext string, at time.Time, seq int) string {
	at = at.UTC()
	name := strings.Trim(strings.ReplaceAll(port, "/", "_"), "_")
	if name == "" {
		name = "default"
	}
	filename := fmt.Sprintf("samples_%s_%03d%s", at.Format("20060102_150405"), seq, ext)
	return strings.TrimPrefix(path.Join(
		prefix,
		name,
		format,
		"dt="+at.Format("2006-01-02"),
		"hour="+at.Format("15"),
		filename,
	), "/")
}

// FileSink writes archives under a local base directory.
type FileSink struct {
	basePath string
	logger   *zap.Logger
	mu       sync.Mutex
	closed   bool
}

// NewFileSink creates basePath if needed.
func NewFileSink(basePath string, logger *zap.Logger) (*FileSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, &errors.StorageError{Operation: "mkdir", Path: basePath, Err: err}
	}
	logger.Info("filesystem sink created", zap.String("base_path", basePath))
	return &FileSink{basePath: basePath, logger: logger}, nil
}

// Put writes data to a temporary file and renames it into place so readers
// never see a partial archive.
func (s *FileSink) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSinkClosed
	}

	full := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &errors.StorageError{Operation: "create", Path: full, Err: err}
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &errors.StorageError{Operation: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return &errors.StorageError{Operation: "rename", Path: full, Err: err}
	}

	s.logger.Debug("wrote archive", zap.String("path", full), zap.Int("size", len(data)))
	return nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Info("closing filesystem sink")
	return nil
}
