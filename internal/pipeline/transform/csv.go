package transform

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/stanstork/stratum-ingest/internal/pipeline"
)

// CSVTransformer renames and drops columns of CSV data.
type CSVTransformer struct {
	pipeline.KeyMatcher
}

func NewCSVTransformer() *CSVTransformer {
	return &CSVTransformer{KeyMatcher: "CSV"}
}

func (t *CSVTransformer) Transform(_ context.Context, data []byte, format, config string) ([]byte, error) {
	if err := requireFormat(format, "CSV"); err != nil {
		return nil, err
	}
	cfg, err := parseFieldConfig(config)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: CSV data is empty", pipeline.ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", pipeline.ErrUnsupportedFormat, err)
	}

	var (
		keep      []int
		newHeader []string
	)
	for i, name := range header {
		if renamed, ok := cfg.rename(name); ok {
			keep = append(keep, i)
			newHeader = append(newHeader, renamed)
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(newHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(keep))
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read record: %v", pipeline.ErrUnsupportedFormat, err)
		}
		for j, i := range keep {
			row[j] = ""
			if i < len(record) {
				row[j] = record[i]
			}
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
