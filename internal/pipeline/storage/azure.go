package storage

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-storage-blob-go/azblob"
)

type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
}

type AzureUploader struct {
	accountName string
	pipe        pipeline.Pipeline
}

func NewAzureUploader(cfg AzureConfig) (*AzureUploader, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure account name and key are required")
	}
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credentials: %w", err)
	}
	return &AzureUploader{
		accountName: cfg.AccountName,
		pipe:        azblob.NewPipeline(credential, azblob.PipelineOptions{}),
	}, nil
}

func (u *AzureUploader) Upload(ctx context.Context, container, key string, data []byte, contentType string) (string, error) {
	containerURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", u.accountName, container))
	if err != nil {
		return "", err
	}
	blobURL := azblob.NewContainerURL(*containerURL, u.pipe).NewBlockBlobURL(key)
	_, err = azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: contentType},
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", u.accountName, container, key), nil
}
