// Package transcript defines the word-level transcript shape shared by
// the transcription, segmentation and selection layers, and provides the
// persistent transcript cache that outlives individual assembly runs.
package transcript

import (
	"encoding/json"
	"fmt"
)

// Word is one recognised token with its time alignment. Start and End
// are seconds from the beginning of the clip's audio. Within a clip's
// word list words never overlap, but gaps between them are permitted.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Duration returns the spoken length of the word in seconds.
func (w Word) Duration() float64 {
	return w.End - w.Start
}

// Transcript pairs a clip's aligned word list with the audio duration
// the alignment was computed against.
type Transcript struct {
	Words    []Word  `json:"words"`
	Duration float64 `json:"duration"`
}

// EncodeWords serialises a word list to its canonical JSON form.
func EncodeWords(words []Word) (string, error) {
	if words == nil {
		words = []Word{}
	}
	data, err := json.Marshal(words)
	if err != nil {
		return "", fmt.Errorf("encoding words: %w", err)
	}
	return string(data), nil
}

// DecodeWords parses a word list from its canonical JSON form.
func DecodeWords(data string) ([]Word, error) {
	var words []Word
	if err := json.Unmarshal([]byte(data), &words); err != nil {
		return nil, fmt.Errorf("decoding words: %w", err)
	}
	return words, nil
}

// ValidateWords checks the alignment invariants: non-negative times,
// end not before start, no overlap between consecutive words, and
// confidence within [0, 1].
func ValidateWords(words []Word) error {
	for i, w := range words {
		if w.Start < 0 {
			return fmt.Errorf("word %d (%q): negative start %.3f", i, w.Text, w.Start)
		}
		if w.End < w.Start {
			return fmt.Errorf("word %d (%q): end %.3f before start %.3f", i, w.Text, w.End, w.Start)
		}
		if w.Confidence < 0 || w.Confidence > 1 {
			return fmt.Errorf("word %d (%q): confidence %.3f outside [0,1]", i, w.Text, w.Confidence)
		}
		if i > 0 && words[i-1].End > w.Start {
			return fmt.Errorf("word %d (%q): starts at %.3f before previous word ends at %.3f",
				i, w.Text, w.Start, words[i-1].End)
		}
	}
	return nil
}
