// Package narrate carries the narration contracts for the synced mix:
// where the action sits inside each clip, which pre-rendered audio
// segments to lay over it, and the manifest file that binds them. The
// synthesis itself (script writing, voice rendering, action analysis)
// happens outside the pipeline; the manifest is its hand-off format.
package narrate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dugoutlabs/hap/internal/haperr"
)

// Timing places a narration segment relative to its clip's action peak.
type Timing string

const (
	TimingBeforeAction Timing = "before_action"
	TimingDuringAction Timing = "during_action"
	TimingAfterAction  Timing = "after_action"
	TimingBridge       Timing = "bridge"
)

// Valid reports whether the timing is one of the four placement modes.
func (t Timing) Valid() bool {
	switch t {
	case TimingBeforeAction, TimingDuringAction, TimingAfterAction, TimingBridge:
		return true
	}
	return false
}

// Analysis locates the action window inside one source clip. All
// values are seconds from the clip start.
type Analysis struct {
	ActionStart   float64 `json:"action_start"`
	ActionPeak    float64 `json:"action_peak"`
	ActionEnd     float64 `json:"action_end"`
	TotalDuration float64 `json:"total_duration,omitempty"`
}

// Validate checks the window ordering start <= peak <= end <= total.
// A zero TotalDuration means the analyzer did not report one.
func (a Analysis) Validate() error {
	if a.ActionStart < 0 {
		return haperr.Validationf("action_start", "negative action start %.3f", a.ActionStart)
	}
	if a.ActionPeak < a.ActionStart {
		return haperr.Validationf("action_peak", "action peak %.3f before start %.3f", a.ActionPeak, a.ActionStart)
	}
	if a.ActionEnd < a.ActionPeak {
		return haperr.Validationf("action_end", "action end %.3f before peak %.3f", a.ActionEnd, a.ActionPeak)
	}
	if a.TotalDuration > 0 && a.ActionEnd > a.TotalDuration {
		return haperr.Validationf("action_end", "action end %.3f past clip duration %.3f", a.ActionEnd, a.TotalDuration)
	}
	return nil
}

// Segment is one pre-rendered narration take and where it lands.
// Buffer is the spacing in seconds the script generator asked for
// between the narration and the action; zero means the placement
// defaults (0.5 s lead before the action, 1.0 s lag after it).
type Segment struct {
	ClipID    string  `json:"clip_id"`
	AudioPath string  `json:"audio_path"`
	Duration  float64 `json:"duration"`
	Timing    Timing  `json:"timing"`
	Buffer    float64 `json:"buffer,omitempty"`
}

// Validate checks the segment is well formed.
func (s Segment) Validate() error {
	if s.ClipID == "" {
		return haperr.Validationf("clip_id", "narration segment without clip id")
	}
	if s.AudioPath == "" {
		return haperr.Validationf("audio_path", "narration segment for clip %s without audio path", s.ClipID)
	}
	if s.Duration <= 0 {
		return haperr.Validationf("duration", "narration segment for clip %s has duration %.3f", s.ClipID, s.Duration)
	}
	if !s.Timing.Valid() {
		return haperr.Validationf("timing", "narration segment for clip %s has unknown timing %q", s.ClipID, s.Timing)
	}
	if s.Buffer < 0 {
		return haperr.Validationf("buffer", "narration segment for clip %s has negative buffer", s.ClipID)
	}
	return nil
}

// Manifest binds pre-rendered narration to the clips of one rundown.
type Manifest struct {
	Analyses map[string]Analysis `json:"analyses"`
	Segments []Segment           `json:"segments"`
}

// LoadManifest reads and validates a narration manifest from JSON.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening narration manifest: %w", err)
	}
	defer f.Close()

	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, haperr.Validationf("manifest", "invalid JSON: %v", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every analysis and segment. Segments may reference
// clips without an analysis; those clips are excluded at mix time, not
// here.
func (m *Manifest) Validate() error {
	for id, a := range m.Analyses {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("analysis for clip %s: %w", id, err)
		}
	}
	for i, s := range m.Segments {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}

// AnalysisFor returns the action analysis for a clip, if present.
func (m *Manifest) AnalysisFor(clipID string) (Analysis, bool) {
	a, ok := m.Analyses[clipID]
	return a, ok
}

// SegmentsFor returns the narration segments for a clip in manifest
// order.
func (m *Manifest) SegmentsFor(clipID string) []Segment {
	var out []Segment
	for _, s := range m.Segments {
		if s.ClipID == clipID {
			out = append(out, s)
		}
	}
	return out
}
