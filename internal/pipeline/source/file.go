// Package source implements the extract stage connectors.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stanstork/stratum-ingest/internal/pipeline"
)

// FileConnector reads a local file whose extension matches the declared format.
type FileConnector struct {
	pipeline.KeyMatcher
}

func NewFileConnector() *FileConnector {
	return &FileConnector{KeyMatcher: "FILE"}
}

func (c *FileConnector) Extract(_ context.Context, location, format string) ([]byte, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrSourceUnavailable, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", pipeline.ErrSourceUnavailable, location)
	}

	ext := strings.TrimPrefix(filepath.Ext(location), ".")
	if !strings.EqualFold(ext, format) {
		return nil, fmt.Errorf("%w: file %s does not match format %s", pipeline.ErrFormatMismatch, filepath.Base(location), format)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrSourceUnavailable, err)
	}
	return data, nil
}
