package collector

// ComputeSample merges snapshots into a lifetime aggregate and diffs it against
// previous. Pure function, no side effects.
func ComputeSample(snapshots map[string][]*TestResult, previous *TestResult) (Sample, error) {
	lifetime := NewTestResult()
	threads := 0
	for _, results := range snapshots {
		if err := lifetime.AddAll(results); err != nil {
			return Sample{}, err
		}
		threads += len(results)
	}

	delta, err := lifetime.ComputeDelta(previous)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		Threads:  threads,
		Lifetime: lifetime,
		Delta:    delta,
	}, nil
}

// Merge folds results into a new never-started aggregate.
func Merge(results []*TestResult) (*TestResult, error) {
	total := NewTestResult()
	if err := total.AddAll(results); err != nil {
		return nil, err
	}
	return total, nil
}
