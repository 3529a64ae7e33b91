package recorder

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jittakal/portbuffer/internal/errors"
)

// Ensure implementation satisfies interface at compile time.
var _ Sink = (*GCSSink)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
	Endpoint        string
}

// objectWriterFunc opens a writer for an object; the object is committed on Close.
type objectWriterFunc func(ctx context.Context, name, contentType string) io.WriteCloser

// GCSSink uploads archives as GCS objects.
type GCSSink struct {
	client    *storage.Client
	newWriter objectWriterFunc
	cfg       GCSConfig
	logger    *zap.Logger
}

// NewGCSSink creates a client from explicit credentials when given, else from
// application default credentials.
func NewGCSSink(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCSSink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	bucket := client.Bucket(cfg.Bucket)
	sink := newGCSSink(func(ctx context.Context, name, contentType string) io.WriteCloser {
		w := bucket.Object(name).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}, cfg, logger)
	sink.client = client
	sink.logger.Info("GCS sink created", zap.String("project_id", cfg.ProjectID))
	return sink, nil
}

func newGCSSink(newWriter objectWriterFunc, cfg GCSConfig, logger *zap.Logger) *GCSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCSSink{
		newWriter: newWriter,
		cfg:       cfg,
		logger:    logger.With(zap.String("bucket", cfg.Bucket)),
	}
}

func (s *GCSSink) Put(ctx context.Context, key string, data []byte, contentType string) error {
	name := path.Join(s.cfg.Prefix, key)
	location := "gs://" + s.cfg.Bucket + "/" + name

	// Cancelling ctx aborts the upload; Close is what commits it.
	w := s.newWriter(ctx, name, contentType)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return &errors.StorageError{Operation: "upload", Path: location, Err: err}
	}
	if err := w.Close(); err != nil {
		return &errors.StorageError{Operation: "upload", Path: location, Err: err}
	}

	s.logger.Debug("uploaded archive", zap.String("object", name), zap.Int("size", len(data)))
	return nil
}

func (s *GCSSink) Name() string { return "gcs" }

func (s *GCSSink) Close() error {
	s.logger.Info("closing GCS sink")
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
