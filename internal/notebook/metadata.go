package notebook

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
)

// Metadata is a key/value store with JSON-compatible values.
type Metadata interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Has(key string) bool
	Delete(key string)
	Keys() []string
}

// MapMetadata is the in-memory Metadata used by documents and cells.
// Safe for concurrent use.
type MapMetadata struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMapMetadata returns an empty store.
func NewMapMetadata() *MapMetadata {
	return &MapMetadata{values: make(map[string]any)}
}

func (m *MapMetadata) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MapMetadata) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MapMetadata) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok
}

func (m *MapMetadata) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// Keys returns the keys in sorted order.
func (m *MapMetadata) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Replace swaps the whole content, used when a document is reloaded.
func (m *MapMetadata) Replace(values map[string]any) {
	if values == nil {
		values = make(map[string]any)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = values
}

func (m *MapMetadata) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return marshalJSON(m.values)
}

func (m *MapMetadata) UnmarshalJSON(data []byte) error {
	values := make(map[string]any)
	if err := unmarshalJSON(data, &values); err != nil {
		return err
	}
	m.Replace(values)
	return nil
}

// Truthy reports whether a metadata value counts as set. Mirrors the
// loose boolean reading notebooks written by other tools rely on.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	default:
		return true
	}
}

// Flag reads key from md as a boolean using Truthy.
func Flag(md Metadata, key string) bool {
	if md == nil {
		return false
	}
	v, ok := md.Get(key)
	return ok && Truthy(v)
}

// StringSlice converts []string or []any (as decoded from JSON) to []string.
// Non-string elements are dropped; ok is false when v is not a list.
func StringSlice(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out, true
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// unmarshalJSON keeps numbers as json.Number so integers beyond float64
// precision survive a load/save cycle.
func unmarshalJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// marshalJSON encodes without HTML escaping, so "<", ">" and "&" in sources
// and outputs are written back as they were read.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
