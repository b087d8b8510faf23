package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stanstork/stratum-ingest/internal/pipeline"
)

// Uploader writes one object to a cloud provider and returns its canonical URL.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

var providerAliases = map[string]string{
	"aws":   "s3",
	"s3":    "s3",
	"gcp":   "gcs",
	"gcs":   "gcs",
	"azure": "azure",
	"blob":  "azure",
}

// CloudStorage routes "provider:bucket:key" locations to the matching uploader.
// "bucket:key" uses the default provider.
type CloudStorage struct {
	pipeline.KeyMatcher
	defaultProvider string

	mu        sync.RWMutex
	uploaders map[string]Uploader
}

func NewCloudStorage(defaultProvider string) *CloudStorage {
	return &CloudStorage{
		KeyMatcher:      "CLOUD",
		defaultProvider: canonicalProvider(defaultProvider),
		uploaders:       map[string]Uploader{},
	}
}

// Register installs the uploader for provider (or one of its aliases).
func (s *CloudStorage) Register(provider string, u Uploader) error {
	name := canonicalProvider(provider)
	if name == "" {
		return fmt.Errorf("unknown cloud provider %q", provider)
	}
	s.mu.Lock()
	s.uploaders[name] = u
	s.mu.Unlock()
	return nil
}

func (s *CloudStorage) Store(ctx context.Context, data []byte, format, location string) (pipeline.StoreResult, error) {
	provider, bucket, key, err := s.parseLocation(location)
	if err != nil {
		return pipeline.StoreResult{}, err
	}

	s.mu.RLock()
	u, ok := s.uploaders[provider]
	s.mu.RUnlock()
	if !ok {
		return pipeline.StoreResult{}, fmt.Errorf("%w: cloud provider %s is not configured", pipeline.ErrWriteFailure, provider)
	}

	url, err := u.Upload(ctx, bucket, key, data, contentType(format))
	if err != nil {
		return pipeline.StoreResult{}, fmt.Errorf("%w: upload to %s: %v", pipeline.ErrWriteFailure, provider, err)
	}
	return pipeline.StoreResult{Descriptor: url, BytesWritten: int64(len(data))}, nil
}

func (s *CloudStorage) parseLocation(location string) (provider, bucket, key string, err error) {
	parts := strings.SplitN(location, ":", 3)
	switch len(parts) {
	case 3:
		provider = canonicalProvider(parts[0])
		if provider == "" {
			return "", "", "", fmt.Errorf("%w: unknown cloud provider %q", pipeline.ErrWriteFailure, parts[0])
		}
		bucket, key = parts[1], parts[2]
	case 2:
		provider = s.defaultProvider
		bucket, key = parts[0], parts[1]
	default:
		return "", "", "", fmt.Errorf("%w: location must be provider:bucket:key or bucket:key", pipeline.ErrWriteFailure)
	}
	if provider == "" {
		return "", "", "", fmt.Errorf("%w: no default cloud provider configured", pipeline.ErrWriteFailure)
	}
	if bucket == "" || key == "" {
		return "", "", "", fmt.Errorf("%w: bucket and key are required", pipeline.ErrWriteFailure)
	}
	return provider, bucket, strings.TrimPrefix(key, "/"), nil
}

func canonicalProvider(p string) string {
	return providerAliases[strings.ToLower(strings.TrimSpace(p))]
}

func contentType(format string) string {
	switch strings.ToUpper(format) {
	case "CSV":
		return "text/csv"
	case "JSON":
		return "application/json"
	case "XML":
		return "application/xml"
	}
	return "application/octet-stream"
}
