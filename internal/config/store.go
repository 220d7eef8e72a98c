// Package config loads the over-temperature configuration from a key/value
// store. Stores hold JSON-compatible values under slash-separated keys such
// as /overTemp/DPA0.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned by Store.Lookup for an absent key.
var ErrNotFound = errors.New("config: key not found")

// Store is a read-only configuration database.
type Store interface {
	// Lookup decodes the value under key into dst. It returns an error
	// wrapping ErrNotFound when the key is absent.
	Lookup(key string, dst any) error
}

// Writer is a store that can be seeded.
type Writer interface {
	Put(key string, value any) error
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// MapStore is an in-memory Store. Values round-trip through JSON so decoding
// behaves like the persistent stores.
type MapStore map[string]any

// Lookup decodes the value under key into dst.
func (m MapStore) Lookup(key string, dst any) error {
	v, ok := m[key]
	if !ok {
		return notFound(key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Put sets a value.
func (m MapStore) Put(key string, value any) error {
	m[key] = value
	return nil
}

// Keys returns the keys in sorted order.
func (m MapStore) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copy writes every value of src into dst in key order.
func Copy(dst Writer, src MapStore) error {
	for _, k := range src.Keys() {
		if err := dst.Put(k, src[k]); err != nil {
			return fmt.Errorf("put %s: %w", k, err)
		}
	}
	return nil
}
