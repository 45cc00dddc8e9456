package protocol

import (
	"fmt"

	"github.com/oracle/coherence-sub061/internal/wire"
)

// JobParams are the parameters of one job. The first six fields are common
// to every job; the rest are read only by the kinds that use them.
type JobParams struct {
	CacheName      string
	IterationCount int
	ThreadCount    int
	StartKey       int
	JobSize        int
	BatchSize      int

	ValueSize     int
	StopOnError   bool
	PctChange     int
	ParamCount    int
	Cost          int
	LatencyMillis int
	ValueType     ValueType
	PctGet        int
	PctPut        int
	PctRemove     int
	Extractor     string
	Value         string
	AddIndex      bool

	// Envelope extensions shared by every job.
	JobID        int64
	OpsPerSecond int
}

type field int

const (
	fieldValueSize field = iota
	fieldStopOnError
	fieldPctChange
	fieldParamCount
	fieldCost
	fieldLatencyMillis
	fieldValueType
	fieldPctGet
	fieldPctPut
	fieldPctRemove
	fieldExtractor
	fieldValue
	fieldAddIndex
)

const (
	firstSubtypeIndex = 6
	jobIDIndex        = 20
	opsPerSecondIndex = 21
)

// layouts lists the subtype fields of each kind in property order, starting
// at index 6. Appending to a list is compatible; reordering is not.
var layouts = map[Kind][]field{
	KindClear:                  nil,
	KindPut:                    {fieldValueSize, fieldStopOnError},
	KindPut2Serv:               {fieldValueSize, fieldStopOnError},
	KindPutMixed:               {fieldValueSize, fieldStopOnError},
	KindPutMixedContent:        {fieldValueSize, fieldStopOnError, fieldPctChange},
	KindPutMixedComplexContent: {fieldValueSize, fieldStopOnError, fieldPctChange, fieldParamCount},
	KindGet:                    nil,
	KindGet2Serv:               nil,
	KindRun:                    {fieldCost, fieldLatencyMillis},
	KindBench:                  {fieldValueSize, fieldValueType, fieldPctGet, fieldPctPut, fieldPctRemove},
	KindQuery:                  {fieldExtractor, fieldValue},
	KindDistinct:               {fieldExtractor},
	KindLoadRequest:            {fieldValueType, fieldValueSize},
	KindIndexRequest:           {fieldExtractor, fieldAddIndex},
}

func (p *JobParams) ref(f field) interface{} {
	switch f {
	case fieldValueSize:
		return &p.ValueSize
	case fieldStopOnError:
		return &p.StopOnError
	case fieldPctChange:
		return &p.PctChange
	case fieldParamCount:
		return &p.ParamCount
	case fieldCost:
		return &p.Cost
	case fieldLatencyMillis:
		return &p.LatencyMillis
	case fieldValueType:
		return &p.ValueType
	case fieldPctGet:
		return &p.PctGet
	case fieldPctPut:
		return &p.PctPut
	case fieldPctRemove:
		return &p.PctRemove
	case fieldExtractor:
		return &p.Extractor
	case fieldValue:
		return &p.Value
	case fieldAddIndex:
		return &p.AddIndex
	}
	panic(fmt.Sprintf("protocol: unknown field %d", f))
}

func (p *JobParams) write(kind Kind, props wire.Properties) error {
	w := wire.NewWriter(props).
		Put(0, p.CacheName).
		Put(1, p.IterationCount).
		Put(2, p.ThreadCount).
		Put(3, p.StartKey).
		Put(4, p.JobSize).
		Put(5, p.BatchSize)
	for i, f := range layouts[kind] {
		w.Put(firstSubtypeIndex+i, p.ref(f))
	}
	return w.
		Put(jobIDIndex, p.JobID).
		Put(opsPerSecondIndex, p.OpsPerSecond).
		Err()
}

func (p *JobParams) read(kind Kind, props wire.Properties) error {
	r := wire.NewReader(props).
		Get(0, &p.CacheName).
		Get(1, &p.IterationCount).
		Get(2, &p.ThreadCount).
		Get(3, &p.StartKey).
		Get(4, &p.JobSize).
		Get(5, &p.BatchSize)
	for i, f := range layouts[kind] {
		r.Get(firstSubtypeIndex+i, p.ref(f))
	}
	return r.
		Get(jobIDIndex, &p.JobID).
		Get(opsPerSecondIndex, &p.OpsPerSecond).
		Err()
}

// Clone returns a copy of p.
func (p *JobParams) Clone() *JobParams {
	c := *p
	return &c
}

// Split returns client i's share of the key range when the job is divided
// among n clients: an even division with the remainder going to the last
// client. It returns nil when the share is empty.
func (p *JobParams) Split(i, n int) *JobParams {
	if n < 1 || i < 0 || i >= n {
		return nil
	}
	base := p.JobSize / n
	size := base
	if i == n-1 {
		size += p.JobSize % n
	}
	if size <= 0 {
		return nil
	}
	c := p.Clone()
	c.StartKey = p.StartKey + i*base
	c.JobSize = size
	return c
}

// Slice is a contiguous key range.
type Slice struct {
	Start int
	Size  int
}

// Threads returns the number of threads a runner uses for this job: the
// requested count clamped to the job size and to the number of batches.
func (p *JobParams) Threads() int {
	if p.JobSize <= 0 {
		return 0
	}
	threads := p.ThreadCount
	if threads > p.JobSize {
		threads = p.JobSize
	}
	if batches := p.batches(); threads > batches {
		threads = batches
	}
	if threads < 1 {
		threads = 1
	}
	return threads
}

func (p *JobParams) batches() int {
	batch := p.BatchSize
	if batch < 1 {
		batch = 1
	}
	return (p.JobSize + batch - 1) / batch
}

// ThreadSlices divides the key range among Threads() threads in whole
// batches, the remainder going to the last thread.
func (p *JobParams) ThreadSlices() []Slice {
	threads := p.Threads()
	if threads == 0 {
		return nil
	}
	batch := p.BatchSize
	if batch < 1 {
		batch = 1
	}
	per := p.batches() / threads
	end := p.StartKey + p.JobSize
	out := make([]Slice, threads)
	start := p.StartKey
	for i := range out {
		size := per * batch
		if i == threads-1 || start+size > end {
			size = end - start
		}
		out[i] = Slice{Start: start, Size: size}
		start += size
	}
	return out
}
