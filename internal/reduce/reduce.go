// Package reduce turns a set of selected segments into the time
// intervals a clip should retain. It is the contract between the
// selection editor and the clip surgeon: everything about what
// "selected" means in terms of time lives here.
package reduce

import (
	"sort"

	"github.com/dugoutlabs/hap/internal/haperr"
	"github.com/dugoutlabs/hap/internal/segment"
)

// Interval is a contiguous span of clip time to retain, end exclusive.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the interval's length in seconds.
func (iv Interval) Duration() float64 {
	return iv.End - iv.Start
}

const (
	// DefaultBuffer is the padding added before and after each run of
	// selected segments so cuts do not clip word onsets.
	DefaultBuffer = 0.15

	// DefaultMergeGap merges two buffered intervals when less than this
	// much time separates them; cutting such slivers sounds worse than
	// keeping them.
	DefaultMergeGap = 0.5
)

// Options tunes the reduction.
type Options struct {
	// Buffer is the padding in seconds applied to each side of a run.
	Buffer float64

	// MergeGap is the minimum silence, in seconds, worth cutting
	// between two intervals.
	MergeGap float64
}

// DefaultOptions returns the standard reduction tuning.
func DefaultOptions() Options {
	return Options{Buffer: DefaultBuffer, MergeGap: DefaultMergeGap}
}

// Reduce collapses the selected segment indices into retained intervals.
// Each run of consecutive indices becomes one interval
// [first.start - buffer, last.end + buffer], with the start clamped to
// 0. Intervals separated by less than MergeGap are merged. The result
// is strictly increasing. The upper bound is not clamped here; the
// surgeon clamps against the probed media duration.
func Reduce(segments []segment.Segment, selected []int, opts Options) ([]Interval, error) {
	if opts.Buffer < 0 {
		return nil, haperr.Validationf("buffer", "must be >= 0, got %g", opts.Buffer)
	}
	if opts.MergeGap < 0 {
		return nil, haperr.Validationf("merge_gap", "must be >= 0, got %g", opts.MergeGap)
	}
	if len(selected) == 0 {
		return nil, nil
	}

	indices := dedupeSorted(selected)
	for _, idx := range indices {
		if idx < 0 || idx >= len(segments) {
			return nil, haperr.Invariantf("selected segment index %d outside segment list of length %d",
				idx, len(segments))
		}
	}

	var intervals []Interval
	runStart := indices[0]
	prev := indices[0]
	flush := func(first, last int) {
		start := segments[first].Start - opts.Buffer
		if start < 0 {
			start = 0
		}
		intervals = append(intervals, Interval{
			Start: start,
			End:   segments[last].End + opts.Buffer,
		})
	}
	for _, idx := range indices[1:] {
		if idx != prev+1 {
			flush(runStart, prev)
			runStart = idx
		}
		prev = idx
	}
	flush(runStart, prev)

	return mergeClose(intervals, opts.MergeGap), nil
}

// mergeClose merges intervals separated by less than gap seconds.
// Input intervals are already ordered by start.
func mergeClose(intervals []Interval, gap float64) []Interval {
	if len(intervals) < 2 {
		return intervals
	}
	merged := intervals[:1]
	for _, iv := range intervals[1:] {
		last := &merged[len(merged)-1]
		if iv.Start-last.End < gap {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// TotalDuration sums the interval lengths.
func TotalDuration(intervals []Interval) float64 {
	var total float64
	for _, iv := range intervals {
		total += iv.Duration()
	}
	return total
}

func dedupeSorted(indices []int) []int {
	out := make([]int, len(indices))
	copy(out, indices)
	sort.Ints(out)

	n := 0
	for i, idx := range out {
		if i > 0 && idx == out[n-1] {
			continue
		}
		out[n] = idx
		n++
	}
	return out[:n]
}
