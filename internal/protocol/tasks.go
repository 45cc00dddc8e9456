package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/collector"
	"github.com/oracle/coherence-sub061/internal/core"
)

// ErrStopOnError ends a put thread at its first failed batch.
var ErrStopOnError = errors.New("stopping on first error")

// NewTask builds the task one thread runs for its key slice. Every Run call is
// one iteration: the slice is processed once in batches of BatchSize, each
// batch counting one success or failure, one latency sample and the bytes moved.
func NewTask(kind Kind, p *JobParams, svc cache.Service, slice Slice, seed int64) (core.Task, error) {
	if svc == nil {
		return nil, errors.New("no cache service")
	}
	base := batchTask{
		svc:   svc,
		cache: p.CacheName,
		keys:  cache.KeyRange(slice.Start, slice.Size),
		batch: p.BatchSize,
		rng:   rand.New(rand.NewSource(seed)),
	}
	if base.batch < 1 {
		base.batch = 1
	}

	switch kind {
	case KindPut:
		value := randomBytes(p.ValueSize, base.rng)
		return &putTask{batchTask: base, stopOnError: p.StopOnError, value: func(string) []byte { return value }}, nil
	case KindPutMixed:
		t := &putTask{batchTask: base, stopOnError: p.StopOnError}
		t.value = func(string) []byte { return randomBytes(1+t.rng.Intn(p.ValueSize), t.rng) }
		return t, nil
	case KindPutMixedContent:
		buf := randomBytes(p.ValueSize, base.rng)
		t := &putTask{batchTask: base, stopOnError: p.StopOnError, value: func(string) []byte { return buf }}
		t.beforeIteration = func() {
			n := len(buf) * p.PctChange / 100
			for i := 0; i < n; i++ {
				buf[t.rng.Intn(len(buf))] = byte(t.rng.Intn(256))
			}
		}
		return t, nil
	case KindPutMixedComplexContent:
		cv := newComplexValue(p.ParamCount, p.ValueSize, base.rng)
		var encoded []byte
		t := &putTask{batchTask: base, stopOnError: p.StopOnError, value: func(string) []byte { return encoded }}
		first := true
		t.beforeIteration = func() {
			if !first {
				cv.change(p.PctChange, t.rng)
			}
			first = false
			encoded = cv.encode()
		}
		return t, nil
	case KindPut2Serv:
		value := randomBytes(p.ValueSize, base.rng)
		return &invokeTask{batchTask: base, processor: cache.PutProcessor{Value: value}, bytes: len(value)}, nil
	case KindGet:
		return &getTask{batchTask: base}, nil
	case KindGet2Serv:
		return &invokeTask{batchTask: base, processor: cache.GetProcessor{}}, nil
	case KindRun:
		return &runTask{batchTask: base, cost: p.Cost, latency: time.Duration(p.LatencyMillis) * time.Millisecond}, nil
	case KindBench:
		return &benchTask{batchTask: base, valueType: p.ValueType, valueSize: p.ValueSize,
			pctGet: p.PctGet, pctPut: p.PctPut}, nil
	case KindQuery:
		return &queryTask{svc: svc, cache: p.CacheName,
			filter: cache.Filter{Extractor: cache.Extractor(p.Extractor), Value: p.Value}}, nil
	case KindDistinct:
		return &distinctTask{svc: svc, cache: p.CacheName, extractor: cache.Extractor(p.Extractor)}, nil
	case KindClear:
		return &clearTask{svc: svc, cache: p.CacheName}, nil
	}
	return nil, errors.Wrapf(ErrUnknownType, "no task for %s", kind)
}

type batchTask struct {
	svc   cache.Service
	cache string
	keys  []string
	batch int
	rng   *rand.Rand
}

// each calls fn for every batch of keys until fn returns an error or ctx is done.
func (t *batchTask) each(ctx context.Context, fn func(keys []string) error) error {
	for start := 0; start < len(t.keys); start += t.batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + t.batch
		if end > len(t.keys) {
			end = len(t.keys)
		}
		if err := fn(t.keys[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func record(result *collector.TestResult, start time.Time, err error, bytes int) {
	result.AddLatency(time.Since(start))
	if err != nil {
		result.IncFailureCount(1)
		return
	}
	result.IncSuccessCount(1)
	result.IncByteCount(int64(bytes))
}

type putTask struct {
	batchTask
	stopOnError     bool
	value           func(key string) []byte
	beforeIteration func()
}

func (t *putTask) Run(ctx context.Context, result *collector.TestResult) error {
	if t.beforeIteration != nil {
		t.beforeIteration()
	}
	return t.each(ctx, func(keys []string) error {
		entries := make(map[string][]byte, len(keys))
		bytes := 0
		for _, key := range keys {
			v := t.value(key)
			entries[key] = v
			bytes += len(v)
		}
		start := time.Now()
		err := t.svc.PutAll(ctx, t.cache, entries)
		record(result, start, err, bytes)
		if err != nil && t.stopOnError {
			return errors.Wrap(ErrStopOnError, err.Error())
		}
		return nil
	})
}

type getTask struct {
	batchTask
}

func (t *getTask) Run(ctx context.Context, result *collector.TestResult) error {
	return t.each(ctx, func(keys []string) error {
		start := time.Now()
		values, err := t.svc.GetAll(ctx, t.cache, keys)
		bytes := 0
		for _, v := range values {
			bytes += len(v)
		}
		record(result, start, err, bytes)
		return nil
	})
}

type invokeTask struct {
	batchTask
	processor cache.Processor
	bytes     int // bytes sent per invocation; 0 counts the returned value
}

func (t *invokeTask) Run(ctx context.Context, result *collector.TestResult) error {
	return t.each(ctx, func(keys []string) error {
		start := time.Now()
		bytes := 0
		var err error
		for _, key := range keys {
			var v []byte
			if v, err = t.svc.Invoke(ctx, t.cache, key, t.processor); err != nil {
				break
			}
			if t.bytes > 0 {
				bytes += t.bytes
			} else {
				bytes += len(v)
			}
		}
		record(result, start, err, bytes)
		return nil
	})
}

type runTask struct {
	batchTask
	cost    int
	latency time.Duration
}

func (t *runTask) Run(ctx context.Context, result *collector.TestResult) error {
	return t.each(ctx, func(keys []string) error {
		start := time.Now()
		burn(t.cost)
		var err error
		if t.latency > 0 {
			timer := time.NewTimer(t.latency)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				err = ctx.Err()
			}
		}
		record(result, start, err, 0)
		return err
	})
}

// burn performs cost units of CPU work; one unit is a thousand hash rounds.
func burn(cost int) [sha256.Size]byte {
	var block [sha256.Size + 8]byte
	var sum [sha256.Size]byte
	for i := 0; i < cost*1000; i++ {
		copy(block[:sha256.Size], sum[:])
		binary.LittleEndian.PutUint64(block[sha256.Size:], uint64(i))
		sum = sha256.Sum256(block[:])
	}
	return sum
}

// benchTask applies a random get, put or remove to every key. Each operation
// is recorded on its own.
type benchTask struct {
	batchTask
	valueType ValueType
	valueSize int
	pctGet    int
	pctPut    int
}

func (t *benchTask) Run(ctx context.Context, result *collector.TestResult) error {
	return t.each(ctx, func(keys []string) error {
		for _, key := range keys {
			start := time.Now()
			var (
				err   error
				bytes int
			)
			switch r := t.rng.Intn(100); {
			case r < t.pctGet:
				var v []byte
				v, _, err = t.svc.Get(ctx, t.cache, key)
				bytes = len(v)
			case r < t.pctGet+t.pctPut:
				k, _ := strconv.Atoi(key)
				v := NewValue(t.valueType, k, t.valueSize, t.rng)
				err = t.svc.Put(ctx, t.cache, key, v)
				bytes = len(v)
			default:
				err = t.svc.Remove(ctx, t.cache, key)
			}
			record(result, start, err, bytes)
		}
		return nil
	})
}

type queryTask struct {
	svc    cache.Service
	cache  string
	filter cache.Filter
}

func (t *queryTask) Run(ctx context.Context, result *collector.TestResult) error {
	start := time.Now()
	entries, err := t.svc.Query(ctx, t.cache, t.filter)
	bytes := 0
	for _, v := range entries {
		bytes += len(v)
	}
	record(result, start, err, bytes)
	return nil
}

type distinctTask struct {
	svc       cache.Service
	cache     string
	extractor cache.Extractor
}

func (t *distinctTask) Run(ctx context.Context, result *collector.TestResult) error {
	start := time.Now()
	_, err := t.svc.Aggregate(ctx, t.cache, cache.All, cache.DistinctValues{Extractor: t.extractor})
	record(result, start, err, 0)
	return nil
}

type clearTask struct {
	svc   cache.Service
	cache string
}

func (t *clearTask) Run(ctx context.Context, result *collector.TestResult) error {
	start := time.Now()
	err := t.svc.Clear(ctx, t.cache)
	record(result, start, err, 0)
	return err
}

// Load writes the job's key range in batches and returns the number of
// entries written.
func Load(ctx context.Context, p *JobParams, svc cache.Service) (int, error) {
	rng := rand.New(rand.NewSource(int64(p.StartKey)))
	batch := p.BatchSize
	if batch < 1 {
		batch = 1
	}
	loaded := 0
	for start := p.StartKey; start < p.StartKey+p.JobSize; start += batch {
		end := start + batch
		if end > p.StartKey+p.JobSize {
			end = p.StartKey + p.JobSize
		}
		entries := make(map[string][]byte, end-start)
		for k := start; k < end; k++ {
			entries[cache.KeyOf(k)] = NewValue(p.ValueType, k, p.ValueSize, rng)
		}
		if err := svc.PutAll(ctx, p.CacheName, entries); err != nil {
			return loaded, errors.Wrapf(err, "loading keys %d-%d", start, end-1)
		}
		loaded += len(entries)
	}
	return loaded, nil
}

// Index adds or removes the job's extractor index.
func Index(ctx context.Context, p *JobParams, svc cache.Service) error {
	e := cache.Extractor(p.Extractor)
	if p.AddIndex {
		return svc.AddIndex(ctx, p.CacheName, e)
	}
	return svc.RemoveIndex(ctx, p.CacheName, e)
}
