package domain

import (
	"fmt"
	"strconv"
)

// ValueKind tags the variant held by a ClaimValue
type ValueKind uint8

const (
	KindString ValueKind = iota + 1
	KindNumber
	KindBool
	KindMap
)

// String returns the wire name of the kind
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// ParseValueKind maps a wire name back to a kind. Unknown names return false.
func ParseValueKind(s string) (ValueKind, bool) {
	switch s {
	case "string":
		return KindString, true
	case "number":
		return KindNumber, true
	case "bool":
		return KindBool, true
	case "map":
		return KindMap, true
	}
	return 0, false
}

// ClaimValue is a tagged union: string | number | bool | nested map.
// The zero value is invalid and is rejected by the codec.
type ClaimValue struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	m    *ClaimMap
}

// String wraps a string claim value
func String(s string) ClaimValue { return ClaimValue{kind: KindString, str: s} }

// Number wraps a numeric claim value
func Number(f float64) ClaimValue { return ClaimValue{kind: KindNumber, num: f} }

// Bool wraps a boolean claim value
func Bool(b bool) ClaimValue { return ClaimValue{kind: KindBool, b: b} }

// Map wraps a nested claim map. The map is copied.
func Map(m ClaimMap) ClaimValue {
	c := m.Clone()
	return ClaimValue{kind: KindMap, m: &c}
}

// Kind reports which variant is held
func (v ClaimValue) Kind() ValueKind { return v.kind }

// IsValid is false for the zero value
func (v ClaimValue) IsValid() bool { return v.kind != 0 }

// AsString returns the string variant
func (v ClaimValue) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number variant
func (v ClaimValue) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the bool variant
func (v ClaimValue) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsMap returns the nested map variant
func (v ClaimValue) AsMap() (ClaimMap, bool) {
	if v.kind != KindMap || v.m == nil {
		return ClaimMap{}, false
	}
	return v.m.Clone(), true
}

// Depth is 0 for scalars and 1 + the deepest child for maps
func (v ClaimValue) Depth() int {
	if v.kind != KindMap || v.m == nil {
		return 0
	}
	return 1 + v.m.Depth()
}

// Text renders scalar values the way the codec writes them
func (v ClaimValue) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindMap:
		return fmt.Sprintf("map[%d]", v.m.Len())
	default:
		return ""
	}
}

// Equal compares kind and content, including nested entry order
func (v ClaimValue) Equal(o ClaimValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindMap:
		if v.m == nil || o.m == nil {
			return v.m == o.m
		}
		return v.m.Equal(*o.m)
	}
	return true
}

// ClaimEntry is one key/value pair of a ClaimMap
type ClaimEntry struct {
	Key   string
	Value ClaimValue
}

// ClaimMap is an insertion-ordered map of claims
type ClaimMap struct {
	entries []ClaimEntry
}

// NewClaimMap builds a map from entries; later duplicates replace earlier ones
func NewClaimMap(entries ...ClaimEntry) ClaimMap {
	var m ClaimMap
	for _, e := range entries {
		m.Set(e.Key, e.Value)
	}
	return m
}

// Set inserts or replaces a key, keeping the original position on replace
func (m *ClaimMap) Set(key string, value ClaimValue) {
	for i := range m.entries {
		if m.entries[i].Key == key {
			m.entries[i].Value = value
			return
		}
	}
	m.entries = append(m.entries, ClaimEntry{Key: key, Value: value})
}

// Get looks up a key
func (m ClaimMap) Get(key string) (ClaimValue, bool) {
	for _, e := range m.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return ClaimValue{}, false
}

// GetString looks up a key holding a string
func (m ClaimMap) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// Delete removes a key if present
func (m *ClaimMap) Delete(key string) {
	for i, e := range m.entries {
		if e.Key == key {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of entries
func (m ClaimMap) Len() int { return len(m.entries) }

// Entries returns a copy of the entries in insertion order
func (m ClaimMap) Entries() []ClaimEntry {
	out := make([]ClaimEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Keys returns keys in insertion order
func (m ClaimMap) Keys() []string {
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// Clone copies the map; nested maps are shared copy-on-wrap via Map()
func (m ClaimMap) Clone() ClaimMap {
	if m.entries == nil {
		return ClaimMap{}
	}
	return ClaimMap{entries: m.Entries()}
}

// Depth returns the deepest nesting level among values
func (m ClaimMap) Depth() int {
	depth := 0
	for _, e := range m.entries {
		if d := e.Value.Depth(); d > depth {
			depth = d
		}
	}
	return depth
}

// Equal compares entries in order
func (m ClaimMap) Equal(o ClaimMap) bool {
	if len(m.entries) != len(o.entries) {
		return false
	}
	for i := range m.entries {
		if m.entries[i].Key != o.entries[i].Key || !m.entries[i].Value.Equal(o.entries[i].Value) {
			return false
		}
	}
	return true
}
