package collector

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/oracle/coherence-sub061/internal/wire"
)

// ErrIncompatibleHistogram is returned when merging or diffing histograms of a
// different kind, unit or size.
var ErrIncompatibleHistogram = errors.New("incompatible histogram")

// HistogramKind selects the bucket index function.
type HistogramKind int8

const (
	// Linear buckets hold exactly one sample value each.
	Linear HistogramKind = iota
	// Scaled buckets are linear up to 10 and logarithmic (tenths of a decade) above.
	Scaled
)

// scaledLinearLimit is the largest sample stored at its own value in a scaled histogram.
const scaledLinearLimit = 10

// Histogram counts non-negative samples in a fixed number of buckets. The last
// bucket collects every sample beyond the range of the others.
//
// AddSample is safe to call from one writer while other goroutines Clone.
type Histogram struct {
	kind   HistogramKind
	units  string
	counts []atomic.Int64
}

// NewHistogram creates a linear histogram.
func NewHistogram(size int, units string) *Histogram {
	return newHistogram(Linear, size, units)
}

// NewScaledHistogram creates a histogram with logarithmic buckets above 10.
func NewScaledHistogram(size int, units string) *Histogram {
	return newHistogram(Scaled, size, units)
}

func newHistogram(kind HistogramKind, size int, units string) *Histogram {
	if size < 1 {
		size = 1
	}
	return &Histogram{
		kind:   kind,
		units:  units,
		counts: make([]atomic.Int64, size),
	}
}

// Kind returns the bucket index function in use.
func (h *Histogram) Kind() HistogramKind { return h.kind }

// Units returns the display units.
func (h *Histogram) Units() string { return h.units }

// Size returns the number of buckets.
func (h *Histogram) Size() int { return len(h.counts) }

// AddSample counts v in exactly one bucket.
func (h *Histogram) AddSample(v int64) {
	h.counts[h.indexOf(v)].Add(1)
}

func (h *Histogram) maxIndex() int {
	return len(h.counts) - 1
}

func (h *Histogram) indexOf(v int64) int {
	return h.clamp(h.rawIndex(v))
}

func (h *Histogram) clamp(i int64) int {
	if i < 0 {
		return 0
	}
	if i > int64(h.maxIndex()) {
		return h.maxIndex()
	}
	return int(i)
}

// rawIndex is the unclamped bucket index of v.
func (h *Histogram) rawIndex(v int64) int64 {
	if v < 0 {
		v = 0
	}
	if h.kind == Linear || v <= scaledLinearLimit {
		return v
	}
	return int64(math.Floor(math.Log10(float64(v)) * 10))
}

// lowerBound is the smallest sample value that maps to bucket i.
func (h *Histogram) lowerBound(i int) int64 {
	if h.kind == Linear || i <= scaledLinearLimit {
		return int64(i)
	}
	f := math.Pow(10, float64(i)/10)
	if f >= math.MaxInt64/2 {
		return math.MaxInt64
	}
	v := int64(math.Floor(f)) - 1
	if v <= scaledLinearLimit {
		v = scaledLinearLimit + 1
	}
	for h.rawIndex(v) < int64(i) {
		v++
	}
	return v
}

// medianValue is the value a sample in bucket i is assumed to have.
func (h *Histogram) medianValue(i int) float64 {
	lo := h.lowerBound(i)
	if h.kind == Linear || i == h.maxIndex() {
		return float64(lo)
	}
	hi := h.lowerBound(i+1) - 1
	return float64(lo+hi) / 2
}

// BucketLabel names bucket i by its lower bound; the over-max bucket gets a "+" suffix.
func (h *Histogram) BucketLabel(i int) string {
	label := strconv.FormatInt(h.lowerBound(i), 10)
	if i == h.maxIndex() {
		label += "+"
	}
	return label
}

// Buckets returns a copy of the bucket counts.
func (h *Histogram) Buckets() []int64 {
	out := make([]int64, len(h.counts))
	for i := range h.counts {
		out[i] = h.counts[i].Load()
	}
	return out
}

// Count returns the number of samples.
func (h *Histogram) Count() int64 {
	var n int64
	for i := range h.counts {
		n += h.counts[i].Load()
	}
	return n
}

// Compatible reports whether other can be merged into or diffed against h.
func (h *Histogram) Compatible(other *Histogram) bool {
	return other != nil && h.kind == other.kind && h.units == other.units && len(h.counts) == len(other.counts)
}

// Clone returns a deep copy.
func (h *Histogram) Clone() *Histogram {
	c := newHistogram(h.kind, len(h.counts), h.units)
	for i := range h.counts {
		c.counts[i].Store(h.counts[i].Load())
	}
	return c
}

// AddSamples sums other into h bucket by bucket.
func (h *Histogram) AddSamples(other *Histogram) error {
	if !h.Compatible(other) {
		return errors.Wrapf(ErrIncompatibleHistogram, "cannot add %s", other.describe())
	}
	for i := range h.counts {
		h.counts[i].Add(other.counts[i].Load())
	}
	return nil
}

// ComputeDelta returns h minus other. A nil other yields a copy of h.
func (h *Histogram) ComputeDelta(other *Histogram) (*Histogram, error) {
	if other == nil {
		return h.Clone(), nil
	}
	if !h.Compatible(other) {
		return nil, errors.Wrapf(ErrIncompatibleHistogram, "cannot diff %s", other.describe())
	}
	d := newHistogram(h.kind, len(h.counts), h.units)
	for i := range h.counts {
		d.counts[i].Store(h.counts[i].Load() - other.counts[i].Load())
	}
	return d, nil
}

func (h *Histogram) describe() string {
	if h == nil {
		return "nil histogram"
	}
	kind := "linear"
	if h.kind == Scaled {
		kind = "scaled"
	}
	return kind + " histogram of " + strconv.Itoa(len(h.counts)) + " " + h.units + " buckets"
}

// HistogramSummary holds statistics computed from bucket medians.
type HistogramSummary struct {
	Count  int64
	Total  float64
	Min    string
	Max    string
	Mean   float64
	StdDev float64
}

// Summarize weights each non-empty bucket by its median representable value.
func (h *Histogram) Summarize() HistogramSummary {
	var (
		s       HistogramSummary
		values  []float64
		weights []float64
	)
	for i := range h.counts {
		c := h.counts[i].Load()
		if c <= 0 {
			continue
		}
		if s.Count == 0 {
			s.Min = h.BucketLabel(i)
		}
		s.Max = h.BucketLabel(i)
		m := h.medianValue(i)
		s.Count += c
		s.Total += m * float64(c)
		values = append(values, m)
		weights = append(weights, float64(c))
	}
	if s.Count == 0 {
		return s
	}
	mean, std := stat.MeanStdDev(values, weights)
	s.Mean = mean
	if s.Count > 1 && !math.IsNaN(std) {
		s.StdDev = std
	}
	return s
}

// TSVHeader returns the bucket labels separated by tabs.
func (h *Histogram) TSVHeader() string {
	labels := make([]string, len(h.counts))
	for i := range labels {
		labels[i] = h.BucketLabel(i)
	}
	return strings.Join(labels, "\t")
}

// TSVRow returns the raw bucket counts separated by tabs.
func (h *Histogram) TSVRow() string {
	cells := make([]string, len(h.counts))
	for i := range h.counts {
		cells[i] = strconv.FormatInt(h.counts[i].Load(), 10)
	}
	return strings.Join(cells, "\t")
}

// WriteProperties implements wire.Writable.
func (h *Histogram) WriteProperties(p wire.Properties) error {
	return wire.NewWriter(p).
		Put(0, h.kind).
		Put(1, h.units).
		Put(2, h.Buckets()).
		Err()
}

// ReadProperties implements wire.Readable.
func (h *Histogram) ReadProperties(p wire.Properties) error {
	var (
		kind   HistogramKind
		units  string
		counts []int64
	)
	if err := wire.NewReader(p).Get(0, &kind).Get(1, &units).Get(2, &counts).Err(); err != nil {
		return err
	}
	*h = *newHistogram(kind, len(counts), units)
	for i, c := range counts {
		h.counts[i].Store(c)
	}
	return nil
}

// MarshalJSON encodes the histogram as indexed properties.
func (h *Histogram) MarshalJSON() ([]byte, error) {
	p, err := wire.Encode(h)
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (h *Histogram) UnmarshalJSON(data []byte) error {
	var p wire.Properties
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	return h.ReadProperties(p)
}
