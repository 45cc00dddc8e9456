// Package wire implements the property-indexed object encoding shared by every
// message and payload that crosses a channel.
//
// Each field of an encoded object is stored under a small stable integer index.
// Readers ignore indices they do not know, so fields may be appended without
// breaking older peers.
package wire

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// Properties is one encoded object: property index to JSON value.
type Properties map[int]json.RawMessage

// Frame is the unit written to a channel. Type selects the concrete message
// kind on the receiving side; ID carries the request correlation id (0 for
// fire-and-forget messages).
type Frame struct {
	Type  int        `json:"t"`
	ID    int64      `json:"id,omitempty"`
	Props Properties `json:"p,omitempty"`
}

// Writable is implemented by values that know how to write their properties.
type Writable interface {
	WriteProperties(w Properties) error
}

// Readable is implemented by values that can be populated from properties.
type Readable interface {
	ReadProperties(r Properties) error
}

// Put stores v under index idx.
func (p Properties) Put(idx int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding property %d", idx)
	}
	p[idx] = data
	return nil
}

// Get decodes the property at idx into v. Missing properties leave v untouched.
func (p Properties) Get(idx int, v any) error {
	data, ok := p[idx]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decoding property %d", idx)
	}
	return nil
}

// Has reports whether idx is present.
func (p Properties) Has(idx int) bool {
	_, ok := p[idx]
	return ok
}

// Encode converts a Writable into properties.
func Encode(w Writable) (Properties, error) {
	p := make(Properties)
	if err := w.WriteProperties(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Writer accumulates properties and remembers the first error so encoders can
// write a sequence of fields without checking every call.
type Writer struct {
	props Properties
	err   error
}

// NewWriter wraps p.
func NewWriter(p Properties) *Writer {
	return &Writer{props: p}
}

// Put stores v at idx unless an earlier Put failed.
func (w *Writer) Put(idx int, v any) *Writer {
	if w.err == nil {
		w.err = w.props.Put(idx, v)
	}
	return w
}

// Err returns the first error seen.
func (w *Writer) Err() error {
	return w.err
}

// Reader is the decoding counterpart of Writer.
type Reader struct {
	props Properties
	err   error
}

// NewReader wraps p.
func NewReader(p Properties) *Reader {
	return &Reader{props: p}
}

// Get decodes idx into v unless an earlier Get failed.
func (r *Reader) Get(idx int, v any) *Reader {
	if r.err == nil {
		r.err = r.props.Get(idx, v)
	}
	return r
}

// Err returns the first error seen.
func (r *Reader) Err() error {
	return r.err
}

// MarshalJSON writes the keys as decimal strings in index order.
func (p Properties) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(p))
	for k, v := range p {
		m[strconv.Itoa(k)] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the form written by MarshalJSON.
func (p *Properties) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Properties, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return errors.Errorf("invalid property index %q", k)
		}
		out[idx] = v
	}
	*p = out
	return nil
}
