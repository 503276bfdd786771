package schema

import "strings"

// Extraction strategies. Descriptor libraries expose table metadata through
// several internal conventions; each field is resolved by walking an ordered
// list of named strategies until one produces a value. The lists are package
// variables so new conventions can be appended without touching Parse.

// extractFn attempts to pull a raw value out of a descriptor. The fallback
// key is the schema export name the descriptor was found under.
type extractFn func(d *descriptor, fallbackKey string) (any, bool)

// strategy is one named entry in an extraction list. The name appears in
// debug logs so misbehaving descriptors can be traced to the convention that
// matched them.
type strategy struct {
	name    string
	extract extractFn
}

func directKeys(keys ...string) extractFn {
	return func(d *descriptor, _ string) (any, bool) {
		return d.get(keys...)
	}
}

var tableNameStrategies = []strategy{
	{"direct-name", directKeys("name", "tableName", "table_name", "table")},
	{"marker-name", directKeys("__name__", "__tablename__", "$name")},
	{"nested-config", func(d *descriptor, _ string) (any, bool) {
		cfg, ok := d.get("config", "options", "meta")
		if !ok {
			return nil, false
		}
		return newDescriptor(cfg).get("name", "tableName", "table_name")
	}},
	{"fallback-key", func(_ *descriptor, fallbackKey string) (any, bool) {
		key := strings.TrimSuffix(fallbackKey, "Table")
		if key == "" {
			return nil, false
		}
		return toSnakeCase(key), true
	}},
}

var columnSetStrategies = []strategy{
	{"direct-columns", directKeys("columns", "fields")},
	{"marker-columns", directKeys("__columns__", "$columns")},
	{"nested-schema", func(d *descriptor, _ string) (any, bool) {
		cfg, ok := d.get("schema", "definition")
		if !ok {
			return nil, false
		}
		return newDescriptor(cfg).get("columns", "fields")
	}},
}

var foreignKeyStrategies = []strategy{
	{"direct-fks", directKeys("foreignKeys", "foreign_keys", "references")},
	{"marker-fks", directKeys("__fks__", "$foreignKeys")},
}

var indexStrategies = []strategy{
	{"direct-indexes", directKeys("indexes", "indices")},
	{"marker-indexes", directKeys("__indexes__")},
}

var extraConfigStrategies = []strategy{
	{"direct-extra", directKeys("extra", "extraConfig", "extra_config")},
	{"marker-extra", directKeys("__extra__", "$extra")},
}

// resolveWith walks a strategy list and returns the first extracted value
// along with the name of the strategy that produced it.
func resolveWith(list []strategy, d *descriptor, fallbackKey string) (any, string, bool) {
	for _, s := range list {
		if v, ok := s.extract(d, fallbackKey); ok {
			return v, s.name, true
		}
	}
	return nil, "", false
}
