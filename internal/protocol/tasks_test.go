package protocol

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/collector"
)

func runOnce(t *testing.T, kind Kind, p *JobParams, svc cache.Service, slice Slice) *collector.TestResult {
	t.Helper()
	task, err := NewTask(kind, p, svc, slice, 1)
	require.NoError(t, err)
	result := collector.NewTestResult()
	result.Start()
	require.NoError(t, task.Run(context.Background(), result))
	result.Stop()
	return result
}

func TestPutTask_CountsBatchesAndBytes(t *testing.T) {
	svc := cache.NewMemory()
	p := &JobParams{CacheName: "c", BatchSize: 10, ValueSize: 16}

	result := runOnce(t, KindPut, p, svc, Slice{Start: 0, Size: 25})

	assert.Equal(t, int64(3), result.SuccessCount())
	assert.Equal(t, int64(25*16), result.ByteCount())
	assert.Equal(t, int64(3), result.Latency().Count())

	values, err := svc.GetAll(context.Background(), "c", cache.KeyRange(0, 25))
	require.NoError(t, err)
	assert.Len(t, values, 25)
}

func TestPutMixedTask_SizesWithinBound(t *testing.T) {
	svc := cache.NewMemory()
	p := &JobParams{CacheName: "c", BatchSize: 5, ValueSize: 8}

	result := runOnce(t, KindPutMixed, p, svc, Slice{Start: 0, Size: 20})

	values, err := svc.GetAll(context.Background(), "c", cache.KeyRange(0, 20))
	require.NoError(t, err)
	total := 0
	for _, v := range values {
		assert.GreaterOrEqual(t, len(v), 1)
		assert.LessOrEqual(t, len(v), 8)
		total += len(v)
	}
	assert.Equal(t, int64(total), result.ByteCount())
}

func TestPutMixedContentTask_ChangesValueBetweenIterations(t *testing.T) {
	svc := cache.NewMemory()
	p := &JobParams{CacheName: "c", BatchSize: 1, ValueSize: 100, PctChange: 50}
	task, err := NewTask(KindPutMixedContent, p, svc, Slice{Start: 0, Size: 1}, 3)
	require.NoError(t, err)

	ctx := context.Background()
	result := collector.NewTestResult()
	require.NoError(t, task.Run(ctx, result))
	first, _, _ := svc.Get(ctx, "c", "0")
	require.NoError(t, task.Run(ctx, result))
	second, _, _ := svc.Get(ctx, "c", "0")

	assert.Len(t, second, 100)
	assert.NotEqual(t, first, second)
}

func TestPutMixedComplexContentTask_WritesJSONParams(t *testing.T) {
	svc := cache.NewMemory()
	p := &JobParams{CacheName: "c", BatchSize: 2, ValueSize: 40, PctChange: 25, ParamCount: 4}

	runOnce(t, KindPutMixedComplexContent, p, svc, Slice{Start: 0, Size: 2})

	v, ok, err := svc.Get(context.Background(), "c", "1")
	require.NoError(t, err)
	require.True(t, ok)
	var params map[string]string
	require.NoError(t, json.Unmarshal(v, &params))
	assert.Len(t, params, 4)
	assert.Len(t, params["p0"], 10)
}

func TestComplexValue_ChangeRewritesShare(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	v := newComplexValue(10, 100, rng)
	before := append([]string(nil), v.params...)

	v.change(30, rng)

	changed := 0
	for i := range before {
		if before[i] != v.params[i] {
			changed++
		}
	}
	assert.LessOrEqual(t, changed, 3)
	assert.Greater(t, changed, 0)
}

func TestGetTask_CountsBytesRead(t *testing.T) {
	svc := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, svc.PutAll(ctx, "c", map[string][]byte{"0": []byte("aa"), "1": []byte("bbb")}))

	result := runOnce(t, KindGet, &JobParams{CacheName: "c", BatchSize: 10}, svc, Slice{Start: 0, Size: 4})

	assert.Equal(t, int64(1), result.SuccessCount())
	assert.Equal(t, int64(5), result.ByteCount())
}

func TestServerSideTasks(t *testing.T) {
	svc := cache.NewMemory()
	p := &JobParams{CacheName: "c", BatchSize: 2, ValueSize: 4}

	put := runOnce(t, KindPut2Serv, p, svc, Slice{Start: 0, Size: 4})
	assert.Equal(t, int64(2), put.SuccessCount())
	assert.Equal(t, int64(16), put.ByteCount())

	get := runOnce(t, KindGet2Serv, p, svc, Slice{Start: 0, Size: 4})
	assert.Equal(t, int64(2), get.SuccessCount())
	assert.Equal(t, int64(16), get.ByteCount())
}

func TestRunTask(t *testing.T) {
	p := &JobParams{CacheName: "c", BatchSize: 1, Cost: 1, LatencyMillis: 2}

	result := runOnce(t, KindRun, p, cache.NewMemory(), Slice{Start: 0, Size: 3})

	assert.Equal(t, int64(3), result.SuccessCount())
	assert.GreaterOrEqual(t, result.Duration().Milliseconds(), int64(6))
}

func TestRunTask_InterruptedDuringLatency(t *testing.T) {
	p := &JobParams{CacheName: "c", BatchSize: 1, LatencyMillis: 10_000}
	task, err := NewTask(KindRun, p, cache.NewMemory(), Slice{Start: 0, Size: 1}, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := collector.NewTestResult()

	assert.ErrorIs(t, task.Run(ctx, result), context.Canceled)
}

func TestBenchTask_MixesOperations(t *testing.T) {
	svc := cache.NewMemory()
	p := &JobParams{CacheName: "c", BatchSize: 10, ValueSize: 8, ValueType: ValueBytes, PctGet: 0, PctPut: 100}

	result := runOnce(t, KindBench, p, svc, Slice{Start: 0, Size: 20})
	assert.Equal(t, int64(20), result.SuccessCount(), "bench records every operation")

	all, err := svc.Query(context.Background(), "c", cache.All)
	require.NoError(t, err)
	assert.Len(t, all, 20)

	p.PctPut, p.PctRemove = 0, 100
	runOnce(t, KindBench, p, svc, Slice{Start: 0, Size: 20})
	all, err = svc.Query(context.Background(), "c", cache.All)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestQueryAndDistinctTasks(t *testing.T) {
	svc := cache.NewMemory()
	ctx := context.Background()
	n, err := Load(ctx, &JobParams{CacheName: "people", JobSize: 32, BatchSize: 8, ValueType: ValueJSON}, svc)
	require.NoError(t, err)
	require.Equal(t, 32, n)

	query := runOnce(t, KindQuery, &JobParams{CacheName: "people", Extractor: "group", Value: "3"}, svc, Slice{Size: 1})
	assert.Equal(t, int64(1), query.SuccessCount())
	assert.Greater(t, query.ByteCount(), int64(0))

	distinct := runOnce(t, KindDistinct, &JobParams{CacheName: "people", Extractor: "group"}, svc, Slice{Size: 1})
	assert.Equal(t, int64(1), distinct.SuccessCount())

	groups, err := svc.Aggregate(ctx, "people", cache.All, cache.DistinctValues{Extractor: "group"})
	require.NoError(t, err)
	assert.Len(t, groups, RecordGroups)
}

func TestClearTask(t *testing.T) {
	svc := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, svc.Put(ctx, "c", "1", []byte("x")))

	runOnce(t, KindClear, &JobParams{CacheName: "c"}, svc, Slice{Size: 1})

	_, ok, err := svc.Get(ctx, "c", "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingService struct {
	cache.Service
}

func (failingService) PutAll(context.Context, string, map[string][]byte) error {
	return assert.AnError
}

func TestPutTask_StopOnError(t *testing.T) {
	svc := failingService{Service: cache.NewMemory()}
	ctx := context.Background()

	lenient, err := NewTask(KindPut, &JobParams{CacheName: "c", BatchSize: 1, ValueSize: 1}, svc, Slice{Size: 3}, 1)
	require.NoError(t, err)
	result := collector.NewTestResult()
	assert.NoError(t, lenient.Run(ctx, result))
	assert.Equal(t, int64(3), result.FailureCount())

	strict, err := NewTask(KindPut, &JobParams{CacheName: "c", BatchSize: 1, ValueSize: 1, StopOnError: true}, svc, Slice{Size: 3}, 1)
	require.NoError(t, err)
	result = collector.NewTestResult()
	assert.ErrorIs(t, strict.Run(ctx, result), ErrStopOnError)
	assert.Equal(t, int64(1), result.FailureCount())
}

func TestIndex(t *testing.T) {
	svc := cache.NewMemory()
	ctx := context.Background()

	require.NoError(t, Index(ctx, &JobParams{CacheName: "c", Extractor: "group", AddIndex: true}, svc))
	assert.True(t, svc.Indexed("c", "group"))

	require.NoError(t, Index(ctx, &JobParams{CacheName: "c", Extractor: "group"}, svc))
	assert.False(t, svc.Indexed("c", "group"))
}

func TestNewTask_Errors(t *testing.T) {
	_, err := NewTask(KindPut, &JobParams{}, nil, Slice{}, 1)
	assert.Error(t, err)

	_, err = NewTask(KindSampleRequest, &JobParams{}, cache.NewMemory(), Slice{}, 1)
	assert.ErrorIs(t, err, ErrUnknownType)
}
