// Package segment builds the selectable timeline for a clip: every
// spoken word is one segment, and every silence of at least 0.3 s is
// sliced into equal ~0.3 s gap segments. Gaps are first-class so an
// editor can keep a dramatic pause or cut it.
package segment

import (
	"math"
	"sort"

	"github.com/dugoutlabs/hap/internal/transcript"
)

// MinGapSeconds is the smallest silence that earns its own segment.
// It is also the target width of a gap slice; silences shorter than
// this are not selectable and appear in no segment.
const MinGapSeconds = 0.3

// Kind discriminates the two segment variants.
type Kind string

const (
	// KindWord is a segment backed by one recognised word.
	KindWord Kind = "word"
	// KindGap is a slice of silence between words.
	KindGap Kind = "gap"
)

// Segment is one selectable span of a clip's timeline.
type Segment struct {
	Kind  Kind    `json:"kind"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Text is the spoken token; empty for gaps.
	Text string `json:"text,omitempty"`

	// WordIndex is the index into the clip's word list; -1 for gaps.
	WordIndex int `json:"word_index"`
}

// IsWord reports whether the segment is backed by a word.
func (s Segment) IsWord() bool {
	return s.Kind == KindWord
}

// IsGap reports whether the segment is a slice of silence.
func (s Segment) IsGap() bool {
	return s.Kind == KindGap
}

// Duration returns the segment's length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Build constructs the segment timeline for a word list over a clip of
// totalDuration seconds. The timeline starts at 0 when a leading
// silence of at least MinGapSeconds exists, otherwise at the first
// word's start. Each silence of duration d >= MinGapSeconds becomes
// round(d/MinGapSeconds) consecutive gap segments of equal width.
func Build(words []transcript.Word, totalDuration float64) []Segment {
	segments := make([]Segment, 0, len(words)*2)
	cursor := 0.0

	for i, w := range words {
		if gap := w.Start - cursor; gap >= MinGapSeconds {
			segments = appendGapSlices(segments, cursor, w.Start)
		}
		segments = append(segments, Segment{
			Kind:      KindWord,
			Start:     w.Start,
			End:       w.End,
			Text:      w.Text,
			WordIndex: i,
		})
		if w.End > cursor {
			cursor = w.End
		}
	}

	if trailing := totalDuration - cursor; trailing >= MinGapSeconds {
		segments = appendGapSlices(segments, cursor, totalDuration)
	}

	return segments
}

// appendGapSlices splits [start, end) into round(d/MinGapSeconds)
// equal slices and appends them. The last slice lands exactly on end
// so float accumulation cannot leak past the next word.
func appendGapSlices(segments []Segment, start, end float64) []Segment {
	d := end - start
	n := int(math.Round(d / MinGapSeconds))
	if n < 1 {
		n = 1
	}
	width := d / float64(n)

	for k := 0; k < n; k++ {
		sliceStart := start + float64(k)*width
		sliceEnd := start + float64(k+1)*width
		if k == n-1 {
			sliceEnd = end
		}
		segments = append(segments, Segment{
			Kind:      KindGap,
			Start:     sliceStart,
			End:       sliceEnd,
			WordIndex: -1,
		})
	}
	return segments
}

// WordIndicesToSegmentIndices maps indices into the word list to their
// segment positions. Indices with no word segment are dropped; the
// result is sorted ascending. On the word-backed subset this mapping
// and its inverse compose to the identity.
func WordIndicesToSegmentIndices(segments []Segment, wordIndices []int) []int {
	bySource := make(map[int]int, len(segments))
	for i, s := range segments {
		if s.IsWord() {
			bySource[s.WordIndex] = i
		}
	}

	out := make([]int, 0, len(wordIndices))
	for _, wi := range wordIndices {
		if si, ok := bySource[wi]; ok {
			out = append(out, si)
		}
	}
	sort.Ints(out)
	return out
}

// SegmentIndicesToWordIndices maps segment positions back to word-list
// indices. Gap segments and out-of-range positions are dropped; the
// result is sorted ascending.
func SegmentIndicesToWordIndices(segments []Segment, segmentIndices []int) []int {
	out := make([]int, 0, len(segmentIndices))
	for _, si := range segmentIndices {
		if si < 0 || si >= len(segments) {
			continue
		}
		if s := segments[si]; s.IsWord() {
			out = append(out, s.WordIndex)
		}
	}
	sort.Ints(out)
	return out
}
