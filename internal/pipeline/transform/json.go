package transform

import (
	"bytes"
	"context"
	"fmt"

	"github.com/stanstork/stratum-ingest/internal/pipeline"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JSONTransformer renames and drops top-level fields of a JSON object or of every
// object in a JSON array.
type JSONTransformer struct {
	pipeline.KeyMatcher
}

func NewJSONTransformer() *JSONTransformer {
	return &JSONTransformer{KeyMatcher: "JSON"}
}

func (t *JSONTransformer) Transform(_ context.Context, data []byte, format, config string) ([]byte, error) {
	if err := requireFormat(format, "JSON"); err != nil {
		return nil, err
	}
	cfg, err := parseFieldConfig(config)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", pipeline.ErrUnsupportedFormat)
	}

	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return transformObject(root, cfg)
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range root.Array() {
		if i > 0 {
			buf.WriteByte(',')
		}
		out, err := transformObject(item, cfg)
		if err != nil {
			return nil, err
		}
		buf.Write(out)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func transformObject(obj gjson.Result, cfg fieldConfig) ([]byte, error) {
	if !obj.IsObject() {
		return []byte(obj.Raw), nil
	}
	out := []byte("{}")
	var err error
	obj.ForEach(func(key, value gjson.Result) bool {
		name, ok := cfg.rename(key.String())
		if !ok {
			return true
		}
		out, err = sjson.SetRawBytes(out, escapePath(name), []byte(value.Raw))
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite object: %w", err)
	}
	return out, nil
}

// escapePath makes key usable as a literal sjson path.
func escapePath(key string) string {
	var b bytes.Buffer
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
