package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Thresholds defines pass/fail criteria checked against a job's final result.
type Thresholds struct {
	FailureRate    string        `yaml:"failureRate"`    // e.g. "1%"
	MinRate        int64         `yaml:"minRate"`        // operations per second
	MaxMeanLatency time.Duration `yaml:"maxMeanLatency"` // mean of the latency histogram
}

// ThresholdResult represents the outcome of a single threshold check.
type ThresholdResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

// ThresholdResults contains all threshold check results.
type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// Check evaluates all thresholds against r.
func (t *Thresholds) Check(r *TestResult) *ThresholdResults {
	if t == nil || r == nil {
		return &ThresholdResults{Passed: true, Results: nil}
	}

	results := &ThresholdResults{
		Passed:  true,
		Results: make([]ThresholdResult, 0),
	}

	if t.FailureRate != "" {
		results.checkFailureRate(t.FailureRate, r)
	}

	if t.MinRate > 0 {
		actual := r.Rate()
		results.add(ThresholdResult{
			Name:      "rate",
			Passed:    actual >= t.MinRate,
			Threshold: fmt.Sprintf(">= %d/s", t.MinRate),
			Actual:    fmt.Sprintf("%d/s", actual),
		})
	}

	if t.MaxMeanLatency > 0 {
		mean := r.Latency().Summarize().Mean
		actual := time.Duration(mean * float64(time.Millisecond))
		results.add(ThresholdResult{
			Name:      "latency.mean",
			Passed:    actual < t.MaxMeanLatency,
			Threshold: "< " + FormatDuration(t.MaxMeanLatency),
			Actual:    FormatDuration(actual),
		})
	}

	return results
}

func (r *ThresholdResults) add(result ThresholdResult) {
	if !result.Passed {
		r.Passed = false
	}
	r.Results = append(r.Results, result)
}

func (r *ThresholdResults) checkFailureRate(threshold string, result *TestResult) {
	thresholdRate, err := parsePercentage(threshold)
	if err != nil {
		return
	}

	actualRate := 0.0
	if ops := result.OperationCount(); ops > 0 {
		actualRate = float64(result.FailureCount()) / float64(ops) * 100
	}

	r.add(ThresholdResult{
		Name:      "failure.rate",
		Passed:    actualRate < thresholdRate,
		Threshold: "< " + threshold,
		Actual:    fmt.Sprintf("%.2f%%", actualRate),
	})
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, fmt.Errorf("invalid percentage format: %s", s)
	}
	s = strings.TrimSuffix(s, "%")
	return strconv.ParseFloat(s, 64)
}

// Violations returns only the failed threshold results.
func (r *ThresholdResults) Violations() []ThresholdResult {
	violations := make([]ThresholdResult, 0)
	for _, result := range r.Results {
		if !result.Passed {
			violations = append(violations, result)
		}
	}
	return violations
}
