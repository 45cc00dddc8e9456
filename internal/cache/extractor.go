package cache

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Extractor pulls a field out of a JSON value using a gjson path or a
// JSONPath expression ($.items[0].id). Values that are not JSON have no
// fields.
type Extractor string

// Extract returns the field as a string.
func (e Extractor) Extract(value []byte) (string, bool) {
	if e == "" || !gjson.ValidBytes(value) {
		return "", false
	}
	r := gjson.GetBytes(value, e.path())
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}

// path converts JSONPath syntax to a gjson path.
// $.foo.bar -> foo.bar, $.items[0].id -> items.0.id, $.data[*].name -> data.#.name
func (e Extractor) path() string {
	path := string(e)
	if !strings.HasPrefix(path, "$") {
		return path
	}
	path = strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")

	var result strings.Builder
	for i := 0; i < len(path); i++ {
		if path[i] == '[' {
			if j := strings.IndexByte(path[i:], ']'); j > 0 {
				content := path[i+1 : i+j]
				if content == "*" {
					content = "#"
				}
				result.WriteByte('.')
				result.WriteString(content)
				i += j
				continue
			}
		}
		result.WriteByte(path[i])
	}
	return result.String()
}

// Filter selects entries whose extracted field equals Value. The zero Filter
// matches every entry.
type Filter struct {
	Extractor Extractor
	Value     string
}

// All matches every entry.
var All = Filter{}

// Matches reports whether value passes the filter.
func (f Filter) Matches(value []byte) bool {
	if f.Extractor == "" {
		return true
	}
	v, ok := f.Extractor.Extract(value)
	return ok && v == f.Value
}

// Aggregator reduces a set of entries to one result.
type Aggregator interface {
	Aggregate(entries map[string][]byte) (interface{}, error)
}

// DistinctValues collects the distinct extracted values, sorted.
type DistinctValues struct {
	Extractor Extractor
}

func (d DistinctValues) Aggregate(entries map[string][]byte) (interface{}, error) {
	seen := make(map[string]struct{})
	for _, value := range entries {
		if v, ok := d.Extractor.Extract(value); ok {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// Count counts entries.
type Count struct{}

func (Count) Aggregate(entries map[string][]byte) (interface{}, error) {
	return len(entries), nil
}
