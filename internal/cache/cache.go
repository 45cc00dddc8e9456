// Package cache is the narrow view of the distributed cache that benchmark
// tasks drive. Two backends implement it: an in-process store and redis.
package cache

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Service is a set of named caches holding opaque byte values.
type Service interface {
	Get(ctx context.Context, cache, key string) ([]byte, bool, error)
	GetAll(ctx context.Context, cache string, keys []string) (map[string][]byte, error)
	Put(ctx context.Context, cache, key string, value []byte) error
	PutAll(ctx context.Context, cache string, entries map[string][]byte) error
	Remove(ctx context.Context, cache, key string) error
	Clear(ctx context.Context, cache string) error

	// Invoke runs p against one entry atomically and returns its result.
	Invoke(ctx context.Context, cache, key string, p Processor) ([]byte, error)
	// Query returns the entries matching f.
	Query(ctx context.Context, cache string, f Filter) (map[string][]byte, error)
	// Aggregate runs a over the entries matching f.
	Aggregate(ctx context.Context, cache string, f Filter, a Aggregator) (interface{}, error)

	AddIndex(ctx context.Context, cache string, e Extractor) error
	RemoveIndex(ctx context.Context, cache string, e Extractor) error

	Close() error
}

// Entry is the view of one cache entry handed to a Processor.
type Entry struct {
	Key     string
	Value   []byte
	Present bool

	dirty   bool
	removed bool
}

// SetValue replaces the entry value.
func (e *Entry) SetValue(v []byte) {
	e.Value = v
	e.Present = true
	e.dirty = true
	e.removed = false
}

// Remove deletes the entry.
func (e *Entry) Remove() {
	e.Value = nil
	e.Present = false
	e.dirty = true
	e.removed = true
}

// Processor mutates or reads one entry under the backend's entry lock.
type Processor interface {
	Process(e *Entry) ([]byte, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(e *Entry) ([]byte, error)

func (f ProcessorFunc) Process(e *Entry) ([]byte, error) { return f(e) }

// PutProcessor stores Value and returns the previous value.
type PutProcessor struct {
	Value []byte
}

func (p PutProcessor) Process(e *Entry) ([]byte, error) {
	previous := e.Value
	e.SetValue(p.Value)
	return previous, nil
}

// GetProcessor returns the current value.
type GetProcessor struct{}

func (GetProcessor) Process(e *Entry) ([]byte, error) {
	return e.Value, nil
}

// Options selects and configures a backend.
type Options struct {
	Backend  string // "memory" or "redis"
	Addr     string
	Password string
	DB       int
}

// Open creates the backend named by opts.
func Open(opts Options, log *logrus.Entry) (Service, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(opts, log)
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", opts.Backend)
	}
}

// KeyOf formats a benchmark key.
func KeyOf(i int) string {
	return strconv.Itoa(i)
}

// KeyRange returns the keys start through start+n-1.
func KeyRange(start, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = KeyOf(start + i)
	}
	return keys
}
