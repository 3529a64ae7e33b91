package recorder

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/errors"
)

// Ensure implementation satisfies interface at compile time.
var _ Sink = (*S3Sink)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// s3Uploader is the subset of manager.Uploader used by S3Sink.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink uploads archives to an S3 bucket with multipart support.
type S3Sink struct {
	uploader s3Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3Sink loads the default AWS credential chain and creates an uploader.
func NewS3Sink(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})

	sink := newS3Sink(uploader, cfg, logger)
	sink.logger.Info("S3 sink created",
		zap.String("region", cfg.Region),
		zap.Bool("sse_enabled", cfg.SSEEnabled),
	)
	return sink, nil
}

func newS3Sink(uploader s3Uploader, cfg S3Config, logger *zap.Logger) *S3Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Sink{
		uploader: uploader,
		cfg:      cfg,
		logger:   logger.With(zap.String("bucket", cfg.Bucket)),
	}
}

func (s *S3Sink) Put(ctx context.Context, key string, data []byte, contentType string) error {
	key = path.Join(s.cfg.Prefix, key)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if s.cfg.SSEEnabled {
		if s.cfg.SSEKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(s.cfg.SSEKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	result, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return &errors.StorageError{Operation: "upload", Path: "s3://" + s.cfg.Bucket + "/" + key, Err: err}
	}

	s.logger.Debug("uploaded archive",
		zap.String("key", key),
		zap.String("location", result.Location),
		zap.Int("size", len(data)),
	)
	return nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Close() error {
	s.logger.Info("closing S3 sink")
	return nil
}
