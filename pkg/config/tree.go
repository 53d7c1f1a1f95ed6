package config

import (
	"strings"
	"time"
)

// Tree is a read-only view over the raw decoded config. Paths are dotted
// key sequences into nested mappings, "resolver.cacheSize".
type Tree struct {
	root map[string]interface{}
}

// Get returns the value at path, or def when the path does not exist or
// crosses a non-mapping node.
func (t Tree) Get(path string, def interface{}) interface{} {
	cur := interface{}(t.root)
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return def
		}
		cur, ok = m[key]
		if !ok {
			return def
		}
	}
	return cur
}

// GetString returns the string at path, or def for missing or non-string
// values.
func (t Tree) GetString(path, def string) string {
	if s, ok := t.Get(path, def).(string); ok {
		return s
	}
	return def
}

// GetInt returns the integer at path, or def. YAML decodes whole numbers as
// int, but anything numeric is accepted.
func (t Tree) GetInt(path string, def int) int {
	switch v := t.Get(path, nil).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// GetDuration returns the duration at path, or def. Strings parse as Go
// durations, integers count seconds, matching the Duration scalar type.
func (t Tree) GetDuration(path string, def time.Duration) time.Duration {
	switch v := t.Get(path, nil).(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		return def
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	default:
		return def
	}
}

// Sub returns the mapping at path as a plain map, or nil. Used to pass
// whole sections through, like capability overrides.
func (t Tree) Sub(path string) map[string]interface{} {
	if m, ok := t.Get(path, nil).(map[string]interface{}); ok {
		return m
	}
	return nil
}
