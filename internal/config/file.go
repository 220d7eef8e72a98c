package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileStore is a Store read from a flat YAML document of key: value pairs.
type FileStore struct {
	path   string
	values map[string]yaml.Node
}

// LoadFile parses a YAML configuration file.
func LoadFile(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	fs, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	fs.path = path
	return fs, nil
}

// ParseYAML parses a YAML configuration document.
func ParseYAML(data []byte) (*FileStore, error) {
	values := map[string]yaml.Node{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &FileStore{values: values}, nil
}

// Lookup decodes the value under key into dst.
func (s *FileStore) Lookup(key string, dst any) error {
	node, ok := s.values[key]
	if !ok {
		return notFound(key)
	}
	if err := node.Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Map returns the document as a MapStore, for seeding another store.
func (s *FileStore) Map() (MapStore, error) {
	out := make(MapStore, len(s.values))
	for k, node := range s.values {
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
