package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Kind tells context mappings and model mappings apart.
type Kind int

const (
	KindUnknown Kind = iota
	KindContext
	KindModel
)

// ParseModel parses a model mapping document.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := decode(data, &m); err != nil {
		return nil, fmt.Errorf("parse model mapping: %w", err)
	}
	if m.Archetype() == "" && m.Base() == "" {
		return nil, fmt.Errorf("model mapping %q: missing spec.openEhrConfig.archetype", m.Metadata.Name)
	}
	return &m, nil
}

// ParseContext parses a context mapping document.
func ParseContext(data []byte) (*Context, error) {
	var c Context
	if err := decode(data, &c); err != nil {
		return nil, fmt.Errorf("parse context mapping: %w", err)
	}
	if c.TemplateID() == "" {
		return nil, fmt.Errorf("context mapping %q: missing context.template.id", c.Metadata.Name)
	}
	return &c, nil
}

// Sniff reports whether data holds a context or a model mapping.
func Sniff(data []byte) (Kind, error) {
	var head struct {
		Type    string    `yaml:"type"`
		Context yaml.Node `yaml:"context"`
		Spec    yaml.Node `yaml:"spec"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return KindUnknown, fmt.Errorf("sniff mapping document: %w", err)
	}
	switch {
	case head.Type == "context" || head.Context.Kind != 0:
		return KindContext, nil
	case head.Type == "model" || head.Spec.Kind != 0:
		return KindModel, nil
	}
	return KindUnknown, nil
}

func decode(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty document")
		}
		return err
	}
	return nil
}

// MarshalModel renders m back into YAML.
func MarshalModel(m *Model) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
