package recorder

import (
	"context"
	"fmt"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/errors"
)

// Ensure implementation satisfies interface at compile time.
var _ Sink = (*AzureSink)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Prefix        string
	Endpoint      string
}

// blobUploader is the subset of azblob.Client used by AzureSink.
type blobUploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// AzureSink uploads archives as block blobs.
type AzureSink struct {
	client blobUploader
	cfg    AzureConfig
	logger *zap.Logger
}

// NewAzureSink authenticates with a shared account key connection string.
func NewAzureSink(cfg AzureConfig, logger *zap.Logger) (*AzureSink, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure container name is required")
	}

	var connectionString string
	if cfg.Endpoint != "" {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	} else {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			cfg.AccountName, cfg.AccountKey)
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	sink := newAzureSink(client, cfg, logger)
	sink.logger.Info("Azure sink created", zap.String("account", cfg.AccountName))
	return sink, nil
}

func newAzureSink(client blobUploader, cfg AzureConfig, logger *zap.Logger) *AzureSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzureSink{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("container", cfg.ContainerName)),
	}
}

func (s *AzureSink) Put(ctx context.Context, key string, data []byte, contentType string) error {
	name := path.Join(s.cfg.Prefix, key)
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}

	if _, err := s.client.UploadBuffer(ctx, s.cfg.ContainerName, name, data, opts); err != nil {
		return &errors.StorageError{Operation: "upload", Path: s.cfg.ContainerName + "/" + name, Err: err}
	}

	s.logger.Debug("uploaded archive", zap.String("blob", name), zap.Int("size", len(data)))
	return nil
}

func (s *AzureSink) Name() string { return "azure" }

func (s *AzureSink) Close() error {
	s.logger.Info("Azure sink closed")
	return nil
}
