package protocol

import (
	"fmt"
	"strings"
)

// ValidationError reports a job parameter the console refuses to dispatch.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s job: %s %s", e.Kind, e.Field, e.Reason)
}

// Validate checks p for a job of the given kind.
func Validate(kind Kind, p *JobParams) error {
	invalid := func(field, reason string) error {
		return &ValidationError{Kind: kind, Field: field, Reason: reason}
	}
	if p == nil {
		return invalid("parameters", "are missing")
	}
	if strings.TrimSpace(p.CacheName) == "" {
		return invalid("cache name", "must not be empty")
	}
	if kind == KindClear {
		return nil
	}

	if kind.IsKeyRange() || kind == KindQuery || kind == KindDistinct {
		if kind != KindLoadRequest {
			if p.IterationCount <= 0 {
				return invalid("iteration count", "must be positive")
			}
			if p.ThreadCount <= 0 {
				return invalid("thread count", "must be positive")
			}
		}
		if p.JobSize <= 0 {
			return invalid("job size", "must be positive")
		}
		if p.BatchSize <= 0 {
			return invalid("batch size", "must be positive")
		}
		if p.StartKey < 0 {
			return invalid("start key", "must not be negative")
		}
	}
	if p.OpsPerSecond < 0 {
		return invalid("ops per second", "must not be negative")
	}

	switch kind {
	case KindPut, KindPut2Serv, KindPutMixed:
		if p.ValueSize <= 0 {
			return invalid("value size", "must be positive")
		}
	case KindPutMixedContent, KindPutMixedComplexContent:
		if p.ValueSize <= 0 {
			return invalid("value size", "must be positive")
		}
		if p.PctChange < 0 || p.PctChange > 100 {
			return invalid("percent change", "must be between 0 and 100")
		}
		if kind == KindPutMixedComplexContent && p.ParamCount <= 0 {
			return invalid("parameter count", "must be positive")
		}
	case KindRun:
		if p.Cost < 0 {
			return invalid("cost", "must not be negative")
		}
		if p.LatencyMillis < 0 {
			return invalid("latency", "must not be negative")
		}
	case KindBench:
		if !p.ValueType.Valid() {
			return invalid("value type", fmt.Sprintf("must be one of %s", strings.Join(ValueTypeNames(), ", ")))
		}
		if p.ValueType == ValueBytes && p.ValueSize <= 0 {
			return invalid("value size", "must be positive")
		}
		for _, pct := range []int{p.PctGet, p.PctPut, p.PctRemove} {
			if pct < 0 || pct > 100 {
				return invalid("percentages", "must be between 0 and 100")
			}
		}
		if sum := p.PctGet + p.PctPut + p.PctRemove; sum != 100 {
			return invalid("percentages", fmt.Sprintf("must sum to 100, got %d", sum))
		}
	case KindLoadRequest:
		if !p.ValueType.Valid() {
			return invalid("value type", fmt.Sprintf("must be one of %s", strings.Join(ValueTypeNames(), ", ")))
		}
		if p.ValueType == ValueBytes && p.ValueSize <= 0 {
			return invalid("value size", "must be positive")
		}
	case KindQuery, KindDistinct, KindIndexRequest:
		if strings.TrimSpace(p.Extractor) == "" {
			return invalid("extractor", "must not be empty")
		}
	case KindGet, KindGet2Serv:
	default:
		return invalid("kind", "is not a job")
	}
	return nil
}
