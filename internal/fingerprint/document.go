// Package fingerprint hashes browser fingerprint payloads and rejects
// payloads that were seen too recently.
package fingerprint

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Document is a client supplied fingerprint payload. Missing or malformed
// components read as empty strings.
type Document map[string]any

func Parse(raw []byte) (Document, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid fingerprint payload: %w", err)
	}
	return doc, nil
}

// Component looks under "components" first and falls back to the top level.
func (d Document) Component(name string) string {
	if d == nil {
		return ""
	}
	if nested, ok := d["components"].(map[string]any); ok {
		if v, ok := nested[name]; ok {
			return componentText(v)
		}
	}
	if v, ok := d[name]; ok {
		return componentText(v)
	}
	return ""
}

func componentText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// String is the compact JSON form, used as the device input for identity hashing.
func (d Document) String() string {
	if d == nil {
		return ""
	}
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *Document) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported fingerprint column type %T", src)
	}
	doc, err := Parse(raw)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}
