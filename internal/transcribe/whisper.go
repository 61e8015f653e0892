package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dugoutlabs/hap/internal/transcript"
)

// WhisperProvider transcribes via the OpenAI Whisper API with
// word-level timestamp granularity.
type WhisperProvider struct {
	client   *openai.Client
	model    string
	language string
	logger   *slog.Logger
}

// NewWhisperProvider creates a Whisper provider. An empty baseURL uses
// the public API endpoint, an empty model defaults to whisper-1. The
// httpClient is optional; pass one to route through a resilient client.
func NewWhisperProvider(apiKey, baseURL, model, language string, httpClient *http.Client) *WhisperProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if model == "" {
		model = openai.Whisper1
	}

	return &WhisperProvider{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		language: language,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger used by the provider.
func (p *WhisperProvider) WithLogger(logger *slog.Logger) *WhisperProvider {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Name identifies the provider.
func (p *WhisperProvider) Name() string { return "whisper" }

// Transcribe submits the audio file with word granularity and maps the
// verbose-JSON response to the Word shape.
func (p *WhisperProvider) Transcribe(ctx context.Context, audioPath string) (*transcript.Transcript, error) {
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: p.language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
			openai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription: %w", err)
	}

	words := make([]whisperWord, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, whisperWord{Text: w.Word, Start: w.Start, End: w.End})
	}
	segments := make([]whisperSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, whisperSegment{Start: s.Start, End: s.End, AvgLogprob: s.AvgLogprob})
	}

	result := mapWhisperResponse(words, segments, resp.Duration)
	p.logger.Debug("whisper transcription complete",
		slog.Int("words", len(result.Words)),
		slog.Float64("duration", result.Duration))
	return result, nil
}

// whisperWord and whisperSegment decouple mapping from the SDK's
// anonymous response structs.
type whisperWord struct {
	Text  string
	Start float64
	End   float64
}

type whisperSegment struct {
	Start      float64
	End        float64
	AvgLogprob float64
}

// mapWhisperResponse converts word timings plus segment-level
// log-probabilities into Words. Whisper reports confidence only per
// segment, so each word inherits the confidence of the segment its
// midpoint falls in, or the nearest segment when none covers it. A
// response with no segments at all leaves every word at 1.0.
func mapWhisperResponse(words []whisperWord, segments []whisperSegment, duration float64) *transcript.Transcript {
	out := &transcript.Transcript{
		Words:    make([]transcript.Word, 0, len(words)),
		Duration: duration,
	}

	segIdx := 0
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}

		confidence := 1.0
		if len(segments) > 0 {
			mid := (w.Start + w.End) / 2
			for segIdx+1 < len(segments) && segments[segIdx].End <= mid {
				segIdx++
			}
			confidence = confidenceFromLogprob(segments[segIdx].AvgLogprob)
		}

		out.Words = append(out.Words, transcript.Word{
			Text:       text,
			Start:      w.Start,
			End:        w.End,
			Confidence: confidence,
		})
	}

	return out
}
