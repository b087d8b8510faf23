// Package pipeline holds the extract, transform and store stage contracts and the
// registries that resolve a job's type keys to implementations.
package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Stage failure kinds. Implementations wrap them so callers can tell a missing
// source from a malformed one after the executor has classified the error.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrFormatMismatch    = errors.New("format mismatch")
	ErrInvalidConfig     = errors.New("invalid transformation config")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrWriteFailure      = errors.New("write failure")
	ErrSchema            = errors.New("schema error")
)

// Strategy is the part every stage implementation shares.
type Strategy interface {
	TypeKey() string
	CanHandle(key string) bool
}

type Connector interface {
	Strategy
	Extract(ctx context.Context, location, format string) ([]byte, error)
}

type Transformer interface {
	Strategy
	Transform(ctx context.Context, data []byte, format, config string) ([]byte, error)
}

type Storage interface {
	Strategy
	Store(ctx context.Context, data []byte, format, location string) (StoreResult, error)
}

// StoreResult describes what a storage wrote. Counted is false for storages that
// cannot report records, in which case RecordsWritten is meaningless.
type StoreResult struct {
	Descriptor     string
	RecordsWritten int64
	BytesWritten   int64
	Counted        bool
}

var insertedPattern = regexp.MustCompile(`(?i)\binserted\s+(\d+)`)

// Records returns the reported count, falling back to an "inserted N" token in the
// descriptor for storages that only describe their result in text.
func (r StoreResult) Records() int64 {
	if r.Counted {
		return r.RecordsWritten
	}
	return ParseInsertedCount(r.Descriptor)
}

// ParseInsertedCount extracts N from "... inserted N ..."; 0 when absent.
func ParseInsertedCount(descriptor string) int64 {
	m := insertedPattern.FindStringSubmatch(descriptor)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// KeyMatcher implements Strategy for implementations that answer to a single key.
type KeyMatcher string

func (k KeyMatcher) TypeKey() string {
	return string(k)
}

func (k KeyMatcher) CanHandle(key string) bool {
	return strings.EqualFold(strings.TrimSpace(key), string(k))
}
