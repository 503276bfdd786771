package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// EncodeSnapshot serializes a table set for persistence. Tables are sorted by
// name so snapshots of the same schema are byte-identical across runs.
func EncodeSnapshot(tables map[string]*TableDefinition) ([]byte, error) {
	list := make([]*TableDefinition, 0, len(tables))
	for _, name := range sortedNames(tables) {
		list = append(list, tables[name])
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot restores a table set from its persisted form.
func DecodeSnapshot(data []byte) (map[string]*TableDefinition, error) {
	var list []*TableDefinition
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	tables := make(map[string]*TableDefinition, len(list))
	for _, def := range list {
		tables[def.Name] = def
		sort.Strings(def.Dependencies)
	}
	return tables, nil
}
