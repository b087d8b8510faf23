// Package storage implements the store stage destinations.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stanstork/stratum-ingest/internal/pipeline"
)

// LocalStorage writes the payload to a file. Relative locations resolve against
// the base path.
type LocalStorage struct {
	pipeline.KeyMatcher
	basePath string
}

func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{KeyMatcher: "LOCAL", basePath: basePath}
}

func (s *LocalStorage) Store(_ context.Context, data []byte, _ string, location string) (pipeline.StoreResult, error) {
	if location == "" {
		return pipeline.StoreResult{}, fmt.Errorf("%w: empty destination path", pipeline.ErrWriteFailure)
	}
	path := location
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.basePath, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pipeline.StoreResult{}, fmt.Errorf("%w: create directory: %v", pipeline.ErrWriteFailure, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pipeline.StoreResult{}, fmt.Errorf("%w: %v", pipeline.ErrWriteFailure, err)
	}
	return pipeline.StoreResult{Descriptor: path, BytesWritten: int64(len(data))}, nil
}
