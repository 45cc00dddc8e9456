package protocol

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
)

// ValueType selects how bench and load jobs build values.
type ValueType string

const (
	ValueBytes  ValueType = "bytes"  // random bytes of the job's value size
	ValueString ValueType = "string" // "value-<key>"
	ValueJSON   ValueType = "json"   // a Record, queryable by field
)

// RecordGroups is the number of distinct Record.Group values.
const RecordGroups = 16

// Record is the JSON value written for ValueJSON. Query, distinct and index
// jobs extract its fields by name ("id", "group", "name").
type Record struct {
	ID    int    `json:"id"`
	Group int    `json:"group"`
	Name  string `json:"name"`
}

// Valid reports whether t is a known value type.
func (t ValueType) Valid() bool {
	switch t {
	case ValueBytes, ValueString, ValueJSON:
		return true
	}
	return false
}

// ValueTypeNames lists the known value types.
func ValueTypeNames() []string {
	return []string{string(ValueBytes), string(ValueString), string(ValueJSON)}
}

// NewValue builds the value of type t for key.
func NewValue(t ValueType, key, size int, rng *rand.Rand) []byte {
	switch t {
	case ValueString:
		return []byte("value-" + strconv.Itoa(key))
	case ValueJSON:
		data, _ := json.Marshal(Record{ID: key, Group: key % RecordGroups, Name: "name-" + strconv.Itoa(key)})
		return data
	default:
		return randomBytes(size, rng)
	}
}

func randomBytes(n int, rng *rand.Rand) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

// complexValue is a JSON object of n string parameters whose encoded
// size is close to size.
type complexValue struct {
	params []string
	width  int
}

func newComplexValue(n, size int, rng *rand.Rand) *complexValue {
	width := size / n
	if width < 1 {
		width = 1
	}
	v := &complexValue{params: make([]string, n), width: width}
	for i := range v.params {
		v.params[i] = randomText(width, rng)
	}
	return v
}

// change rewrites pct percent of the parameters, at least one when pct > 0.
func (v *complexValue) change(pct int, rng *rand.Rand) {
	n := len(v.params) * pct / 100
	if n == 0 && pct > 0 {
		n = 1
	}
	for _, i := range rng.Perm(len(v.params))[:n] {
		v.params[i] = randomText(v.width, rng)
	}
}

func (v *complexValue) encode() []byte {
	m := make(map[string]string, len(v.params))
	for i, p := range v.params {
		m[fmt.Sprintf("p%d", i)] = p
	}
	data, _ := json.Marshal(m)
	return data
}

const textAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomText(n int, rng *rand.Rand) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = textAlphabet[rng.Intn(len(textAlphabet))]
	}
	return string(b)
}
