package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/stanstork/stratum-ingest/internal/pipeline"
	"github.com/tidwall/gjson"
)

// XMLTransformer renames and removes elements selected by etree paths.
//
//	{"elementMappings": {"//customer": "client"}, "elementsToRemove": ["//ssn"]}
type XMLTransformer struct {
	pipeline.KeyMatcher
}

func NewXMLTransformer() *XMLTransformer {
	return &XMLTransformer{KeyMatcher: "XML"}
}

type xmlConfig struct {
	mappings []mapping
	remove   []string
}

func parseXMLConfig(raw string) (xmlConfig, error) {
	var cfg xmlConfig
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}
	if !gjson.Valid(raw) {
		return cfg, fmt.Errorf("%w: config is not valid JSON", pipeline.ErrInvalidConfig)
	}
	root := gjson.Parse(raw)
	if m := root.Get("elementMappings"); m.Exists() {
		if !m.IsObject() {
			return cfg, fmt.Errorf("%w: elementMappings must be an object", pipeline.ErrInvalidConfig)
		}
		m.ForEach(func(path, name gjson.Result) bool {
			cfg.mappings = append(cfg.mappings, mapping{from: path.String(), to: name.String()})
			return true
		})
	}
	if r := root.Get("elementsToRemove"); r.Exists() {
		if !r.IsArray() {
			return cfg, fmt.Errorf("%w: elementsToRemove must be an array", pipeline.ErrInvalidConfig)
		}
		for _, p := range r.Array() {
			cfg.remove = append(cfg.remove, p.String())
		}
	}
	return cfg, nil
}

func (t *XMLTransformer) Transform(_ context.Context, data []byte, format, config string) ([]byte, error) {
	if err := requireFormat(format, "XML"); err != nil {
		return nil, err
	}
	cfg, err := parseXMLConfig(config)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: parse XML: %v", pipeline.ErrUnsupportedFormat, err)
	}

	for _, m := range cfg.mappings {
		path, err := etree.CompilePath(m.from)
		if err != nil {
			return nil, fmt.Errorf("%w: path %q: %v", pipeline.ErrInvalidConfig, m.from, err)
		}
		for _, el := range doc.FindElementsPath(path) {
			el.Space = ""
			el.Tag = m.to
		}
	}
	for _, p := range cfg.remove {
		path, err := etree.CompilePath(p)
		if err != nil {
			return nil, fmt.Errorf("%w: path %q: %v", pipeline.ErrInvalidConfig, p, err)
		}
		for _, el := range doc.FindElementsPath(path) {
			if parent := el.Parent(); parent != nil {
				parent.RemoveChild(el)
			}
		}
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("write XML: %w", err)
	}
	return out, nil
}
