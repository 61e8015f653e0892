// Package transcribe turns a clip's audio into word-level timestamps
// by way of external speech-to-text providers, with a primary/fallback
// chain and a persistent cache in front.
package transcribe

import (
	"context"
	"math"

	"github.com/dugoutlabs/hap/internal/transcript"
)

// Provider is a speech-to-text backend producing word-level timing.
type Provider interface {
	// Name identifies the provider in logs and error messages.
	Name() string

	// Transcribe submits the audio file (16 kHz mono WAV) and returns
	// the recognised words in clip-relative seconds.
	Transcribe(ctx context.Context, audioPath string) (*transcript.Transcript, error)
}

// confidenceFromLogprob maps an average token log-probability to a
// confidence in [0, 1].
func confidenceFromLogprob(logprob float64) float64 {
	c := math.Exp(logprob)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
