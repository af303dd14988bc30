package inventory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileEntry struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
	Type  string `yaml:"type"`
}

// ParseYAML reads entries from a YAML document. Both a bare list and a
// mapping with an "inventory" key are accepted.
func ParseYAML(data []byte) ([]Entry, error) {
	var list []fileEntry
	if err := yaml.Unmarshal(data, &list); err != nil {
		var wrapped struct {
			Inventory []fileEntry `yaml:"inventory"`
		}
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("failed to parse inventory yaml: %w", err)
		}
		list = wrapped.Inventory
	}
	entries := make([]Entry, 0, len(list))
	for _, fe := range list {
		entries = append(entries, Entry{Name: fe.Name, Value: fe.Value, Type: fe.Type})
	}
	return entries, nil
}

// LoadFile reads entries from a YAML file on disk.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	return ParseYAML(data)
}
