package collector

import (
	"fmt"
	"io"
	"time"
)

// ReportHeader is the header row of a saved report.
const ReportHeader = "Duration(ms)\tSuccesses\tFailures\tBytes\tRate\tThroughput\tLatency"

// FormatText writes a human-readable summary of r.
func FormatText(w io.Writer, title string, r *TestResult, thresholds *ThresholdResults) {
	if r == nil {
		fmt.Fprintln(w, "No results collected")
		return
	}
	latency := r.Latency().Summarize()

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, "==============================")
	fmt.Fprintf(w, "Duration:    %s\n", FormatDuration(r.Duration()))
	fmt.Fprintf(w, "Successes:   %s\n", formatNumber(r.SuccessCount()))
	fmt.Fprintf(w, "Failures:    %s\n", formatNumber(r.FailureCount()))
	fmt.Fprintf(w, "Bytes:       %s\n", formatBytes(r.ByteCount()))
	fmt.Fprintf(w, "Rate:        %s ops/s\n", formatNumber(r.Rate()))
	fmt.Fprintf(w, "Throughput:  %s/s\n", formatBytes(r.Throughput()))
	fmt.Fprintln(w, "Latency:")
	fmt.Fprintf(w, "  Samples: %s\n", formatNumber(latency.Count))
	if latency.Count > 0 {
		fmt.Fprintf(w, "  Mean:    %.2f %s (stddev %.2f)\n", latency.Mean, r.Latency().Units(), latency.StdDev)
		fmt.Fprintf(w, "  Min:     %s %s\n", latency.Min, r.Latency().Units())
		fmt.Fprintf(w, "  Max:     %s %s\n", latency.Max, r.Latency().Units())
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range thresholds.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			fmt.Fprintf(w, "  %s %s %s (actual: %s)\n",
				symbol, result.Name, result.Threshold, result.Actual)
		}
	}
}

// FormatSample writes one sampling round: lifetime totals then the delta since the last round.
func FormatSample(w io.Writer, s Sample) {
	fmt.Fprintf(w, "[%03d] threads=%d lifetime: %s\n", s.Round, s.Threads, formatLine(s.Lifetime))
	fmt.Fprintf(w, "[%03d] threads=%d delta:    %s\n", s.Round, s.Threads, formatLine(s.Delta))
}

func formatLine(r *TestResult) string {
	latency := r.Latency().Summarize()
	return fmt.Sprintf("ops=%d ok=%d fail=%d rate=%d/s tput=%s/s lat=%.2f%s",
		r.OperationCount(), r.SuccessCount(), r.FailureCount(), r.Rate(),
		formatBytes(r.Throughput()), latency.Mean, r.Latency().Units())
}

// WriteReport writes r as a tab-separated summary row followed by the raw
// latency histogram, for spreadsheet import.
func WriteReport(w io.Writer, r *TestResult) error {
	latency := r.Latency()
	_, err := fmt.Fprintf(w, "%s\n%d\t%d\t%d\t%d\t%d\t%d\t%.2f\n%s\n%s\n",
		ReportHeader,
		r.DurationMillis(), r.SuccessCount(), r.FailureCount(), r.ByteCount(),
		r.Rate(), r.Throughput(), latency.Summarize().Mean,
		latency.TSVHeader(), latency.TSVRow())
	return err
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return formatNumber(n/1000) + fmt.Sprintf(",%03d", n%1000)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
