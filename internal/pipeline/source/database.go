package source

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stanstork/stratum-ingest/internal/pipeline"
)

// DatabaseConnector runs the job location as a query and renders the rows as CSV
// or JSON.
type DatabaseConnector struct {
	pipeline.KeyMatcher
	db *sql.DB
}

func NewDatabaseConnector(db *sql.DB) *DatabaseConnector {
	return &DatabaseConnector{KeyMatcher: "DATABASE", db: db}
}

func (c *DatabaseConnector) Extract(ctx context.Context, location, format string) ([]byte, error) {
	if c.db == nil {
		return nil, fmt.Errorf("%w: no source database configured", pipeline.ErrSourceUnavailable)
	}
	format = strings.ToUpper(format)
	if format != "CSV" && format != "JSON" {
		return nil, fmt.Errorf("%w: database source cannot produce %s", pipeline.ErrFormatMismatch, format)
	}

	rows, err := c.db.QueryContext(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", pipeline.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: columns: %v", pipeline.ErrSourceUnavailable, err)
	}

	var records [][]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", pipeline.ErrSourceUnavailable, err)
		}
		records = append(records, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", pipeline.ErrSourceUnavailable, err)
	}

	if format == "JSON" {
		return rowsToJSON(columns, records)
	}
	return rowsToCSV(columns, records)
}

// rowsToCSV writes a header line and one line per row, quoting values that need it.
func rowsToCSV(columns []string, records [][]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	line := make([]string, len(columns))
	for _, record := range records {
		for i, v := range record {
			line[i] = formatValue(v)
		}
		if err := w.Write(line); err != nil {
			return nil, fmt.Errorf("encode row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return buf.Bytes(), nil
}

func rowsToJSON(columns []string, records [][]interface{}) ([]byte, error) {
	out := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		obj := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			v := record[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			obj[col] = v
		}
		out = append(out, obj)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return data, nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
