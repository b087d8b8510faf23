// Package transform implements the optional transform stage.
package transform

import (
	"fmt"
	"strings"

	"github.com/stanstork/stratum-ingest/internal/pipeline"
	"github.com/tidwall/gjson"
)

// mapping is one rename, in config order.
type mapping struct {
	from string
	to   string
}

// fieldConfig is the shared shape of the CSV and JSON transformer config:
//
//	{"fieldMappings": {"target": "source"}, "fieldsToRemove": ["field"]}
type fieldConfig struct {
	mappings []mapping
	remove   map[string]bool
}

func parseFieldConfig(raw string) (fieldConfig, error) {
	cfg := fieldConfig{remove: map[string]bool{}}
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}
	if !gjson.Valid(raw) {
		return cfg, fmt.Errorf("%w: config is not valid JSON", pipeline.ErrInvalidConfig)
	}
	root := gjson.Parse(raw)
	if !root.IsObject() {
		return cfg, fmt.Errorf("%w: config must be a JSON object", pipeline.ErrInvalidConfig)
	}

	if m := root.Get("fieldMappings"); m.Exists() {
		if !m.IsObject() {
			return cfg, fmt.Errorf("%w: fieldMappings must be an object", pipeline.ErrInvalidConfig)
		}
		m.ForEach(func(target, source gjson.Result) bool {
			cfg.mappings = append(cfg.mappings, mapping{from: source.String(), to: target.String()})
			return true
		})
	}
	if r := root.Get("fieldsToRemove"); r.Exists() {
		if !r.IsArray() {
			return cfg, fmt.Errorf("%w: fieldsToRemove must be an array", pipeline.ErrInvalidConfig)
		}
		for _, f := range r.Array() {
			cfg.remove[f.String()] = true
		}
	}
	return cfg, nil
}

// rename returns the new name for field and whether the field is kept at all.
func (c fieldConfig) rename(field string) (string, bool) {
	for _, m := range c.mappings {
		if m.from == field {
			return m.to, true
		}
	}
	if c.remove[field] {
		return "", false
	}
	return field, true
}

func requireFormat(format, want string) error {
	if !strings.EqualFold(format, want) {
		return fmt.Errorf("%w: %s transformer only accepts %s data, got %q", pipeline.ErrUnsupportedFormat, want, want, format)
	}
	return nil
}
