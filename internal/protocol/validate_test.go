package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func benchParams(get, put, remove int) *JobParams {
	return &JobParams{
		CacheName: "c", IterationCount: 1, ThreadCount: 2, JobSize: 100, BatchSize: 10,
		ValueSize: 32, ValueType: ValueBytes, PctGet: get, PctPut: put, PctRemove: remove,
	}
}

func TestValidate_BenchPercentages(t *testing.T) {
	assert.NoError(t, Validate(KindBench, benchParams(70, 20, 10)))

	err := Validate(KindBench, benchParams(70, 20, 5))
	var verr *ValidationError
	if assert.True(t, errors.As(err, &verr)) {
		assert.Equal(t, "percentages", verr.Field)
		assert.Contains(t, verr.Error(), "got 95")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *JobParams {
		return &JobParams{CacheName: "c", IterationCount: 1, ThreadCount: 1, JobSize: 10, BatchSize: 1, ValueSize: 8}
	}

	tests := []struct {
		name   string
		kind   Kind
		mutate func(p *JobParams)
		field  string
	}{
		{"valid put", KindPut, func(p *JobParams) {}, ""},
		{"empty cache", KindPut, func(p *JobParams) { p.CacheName = " " }, "cache name"},
		{"zero iterations", KindPut, func(p *JobParams) { p.IterationCount = 0 }, "iteration count"},
		{"zero threads", KindGet, func(p *JobParams) { p.ThreadCount = 0 }, "thread count"},
		{"zero job size", KindGet, func(p *JobParams) { p.JobSize = 0 }, "job size"},
		{"zero batch", KindGet, func(p *JobParams) { p.BatchSize = 0 }, "batch size"},
		{"negative start", KindGet, func(p *JobParams) { p.StartKey = -1 }, "start key"},
		{"zero value size", KindPutMixed, func(p *JobParams) { p.ValueSize = 0 }, "value size"},
		{"pct change range", KindPutMixedContent, func(p *JobParams) { p.PctChange = 101 }, "percent change"},
		{"param count", KindPutMixedComplexContent, func(p *JobParams) { p.PctChange = 10 }, "parameter count"},
		{"negative cost", KindRun, func(p *JobParams) { p.Cost = -1 }, "cost"},
		{"query extractor", KindQuery, func(p *JobParams) {}, "extractor"},
		{"distinct ok", KindDistinct, func(p *JobParams) { p.Extractor = "group" }, ""},
		{"clear needs only a name", KindClear, func(p *JobParams) { p.JobSize = 0 }, ""},
		{"load type", KindLoadRequest, func(p *JobParams) { p.ValueType = "xml" }, "value type"},
		{"load json", KindLoadRequest, func(p *JobParams) { p.ValueType = ValueJSON; p.IterationCount = 0 }, ""},
		{"index extractor", KindIndexRequest, func(p *JobParams) {}, "extractor"},
		{"not a job", KindSampleRequest, func(p *JobParams) {}, "kind"},
		{"negative throttle", KindGet, func(p *JobParams) { p.OpsPerSecond = -1 }, "ops per second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := Validate(tt.kind, p)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			if assert.True(t, errors.As(err, &verr), "expected a validation error, got %v", err) {
				assert.Equal(t, tt.field, verr.Field)
			}
		})
	}
}
