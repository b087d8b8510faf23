package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/stanstork/stratum-ingest/internal/pipeline"
	"github.com/tidwall/gjson"
)

const insertBatchSize = 100

type columnType int

const (
	colText columnType = iota
	colInt
	colBigInt
	colFloat
	colBool
	colDate
	colTimestamp
)

var columnTypes = map[string]columnType{
	"INT":       colInt,
	"INTEGER":   colInt,
	"BIGINT":    colBigInt,
	"LONG":      colBigInt,
	"DOUBLE":    colFloat,
	"FLOAT":     colFloat,
	"BOOLEAN":   colBool,
	"DATE":      colDate,
	"TIMESTAMP": colTimestamp,
	"TEXT":      colText,
	"VARCHAR":   colText,
}

type column struct {
	name string
	typ  columnType
}

// DatabaseStorage inserts rows into a table described by "table:schemaJson".
type DatabaseStorage struct {
	pipeline.KeyMatcher
	db *sql.DB
}

func NewDatabaseStorage(db *sql.DB) *DatabaseStorage {
	return &DatabaseStorage{KeyMatcher: "DATABASE", db: db}
}

func (s *DatabaseStorage) Store(ctx context.Context, data []byte, format, location string) (pipeline.StoreResult, error) {
	table, columns, err := parseTableLocation(location)
	if err != nil {
		return pipeline.StoreResult{}, err
	}

	var rows [][]any
	switch strings.ToUpper(format) {
	case "CSV":
		rows, err = csvRows(data, columns)
	case "JSON":
		rows, err = jsonRows(data, columns)
	default:
		return pipeline.StoreResult{}, fmt.Errorf("%w: %s cannot be stored in a database", pipeline.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return pipeline.StoreResult{}, err
	}

	inserted, err := s.insert(ctx, table, columns, rows)
	if err != nil {
		return pipeline.StoreResult{}, err
	}
	return pipeline.StoreResult{
		Descriptor:     fmt.Sprintf("Inserted %d records into table %s", inserted, table),
		RecordsWritten: inserted,
		BytesWritten:   int64(len(data)),
		Counted:        true,
	}, nil
}

func (s *DatabaseStorage) insert(ctx context.Context, table string, columns []column, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %v", pipeline.ErrWriteFailure, err)
	}
	defer tx.Rollback()

	var total int64
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		query, args := insertStatement(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("%w: insert into %s: %v", pipeline.ErrWriteFailure, table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(end - start)
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", pipeline.ErrWriteFailure, err)
	}
	return total, nil
}

func insertStatement(table string, columns []column, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pq.QuoteIdentifier(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pq.QuoteIdentifier(c.name))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			args = append(args, row[i])
			b.WriteString("$" + strconv.Itoa(len(args)))
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

// parseTableLocation splits on the first colon only; the schema itself is JSON.
func parseTableLocation(location string) (string, []column, error) {
	table, schema, ok := strings.Cut(location, ":")
	table = strings.TrimSpace(table)
	if !ok || table == "" {
		return "", nil, fmt.Errorf("%w: location must be table:schemaJson", pipeline.ErrSchema)
	}
	parsed := gjson.Parse(schema)
	if !gjson.Valid(schema) || !parsed.IsObject() {
		return "", nil, fmt.Errorf("%w: schema for %s must be a JSON object", pipeline.ErrSchema, table)
	}

	var (
		columns []column
		bad     error
	)
	parsed.ForEach(func(key, value gjson.Result) bool {
		typ, ok := columnTypes[strings.ToUpper(strings.TrimSpace(value.String()))]
		if !ok {
			bad = fmt.Errorf("%w: column %s has unsupported type %q", pipeline.ErrSchema, key.String(), value.String())
			return false
		}
		columns = append(columns, column{name: key.String(), typ: typ})
		return true
	})
	if bad != nil {
		return "", nil, bad
	}
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("%w: schema for %s has no columns", pipeline.ErrSchema, table)
	}
	return table, columns, nil
}

func csvRows(data []byte, columns []column) ([][]any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", pipeline.ErrFormatMismatch, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}

	var rows [][]any
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv: %v", pipeline.ErrFormatMismatch, err)
		}
		row := make([]any, len(columns))
		for i, c := range columns {
			pos, ok := index[c.name]
			if !ok || pos >= len(record) {
				continue
			}
			v, err := coerce(record[pos], c.typ)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %s: %v", pipeline.ErrSchema, line, c.name, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func jsonRows(data []byte, columns []column) ([][]any, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", pipeline.ErrFormatMismatch)
	}
	doc := gjson.ParseBytes(data)
	var objects []gjson.Result
	switch {
	case doc.IsArray():
		objects = doc.Array()
	case doc.IsObject():
		objects = []gjson.Result{doc}
	default:
		return nil, fmt.Errorf("%w: expected JSON object or array", pipeline.ErrFormatMismatch)
	}

	rows := make([][]any, 0, len(objects))
	for n, obj := range objects {
		if !obj.IsObject() {
			return nil, fmt.Errorf("%w: element %d is not an object", pipeline.ErrFormatMismatch, n)
		}
		row := make([]any, len(columns))
		for i, c := range columns {
			field := obj.Get(gjsonKey(c.name))
			if !field.Exists() || field.Type == gjson.Null {
				continue
			}
			v, err := coerce(field.String(), c.typ)
			if err != nil {
				return nil, fmt.Errorf("%w: element %d column %s: %v", pipeline.ErrSchema, n, c.name, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var gjsonEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

func gjsonKey(name string) string {
	return gjsonEscaper.Replace(name)
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// coerce converts a raw value to the column type. Empty values become NULL.
func coerce(raw string, typ columnType) (any, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, nil
	}
	switch typ {
	case colInt:
		return strconv.ParseInt(v, 10, 32)
	case colBigInt:
		return strconv.ParseInt(v, 10, 64)
	case colFloat:
		return strconv.ParseFloat(v, 64)
	case colBool:
		return strconv.ParseBool(v)
	case colDate:
		return time.Parse(time.DateOnly, v)
	case colTimestamp:
		var lastErr error
		for _, layout := range timestampLayouts {
			t, err := time.Parse(layout, v)
			if err == nil {
				return t, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
	return raw, nil
}
