package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/dugoutlabs/hap/internal/haperr"
	"github.com/dugoutlabs/hap/internal/mediatool"
	"github.com/dugoutlabs/hap/internal/transcript"
)

// DefaultProviderTimeout bounds a single provider submission.
const DefaultProviderTimeout = 120 * time.Second

// providerAttempts is how many times one provider is tried before
// moving on (one initial attempt plus one retry).
const providerAttempts = 2

// AssetFetcher obtains the media file for a source URL.
type AssetFetcher interface {
	Fetch(ctx context.Context, sourceURL, destDir string) (string, error)
}

// AudioPreparer renders and measures the audio submitted to providers.
type AudioPreparer interface {
	ExtractAudio(ctx context.Context, input, output string) error
	Probe(ctx context.Context, path string) (*mediatool.ProbeInfo, error)
}

// Service is the transcription front door: cache first, then fetch,
// extract, and run the provider chain.
type Service struct {
	cache     *transcript.Cache
	fetcher   AssetFetcher
	audio     AudioPreparer
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates a transcription service. Providers are tried in
// order; nil entries are skipped so an unconfigured provider can be
// passed straight through.
func NewService(cache *transcript.Cache, fetcher AssetFetcher, audio AudioPreparer, providers ...Provider) *Service {
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Service{
		cache:     cache,
		fetcher:   fetcher,
		audio:     audio,
		providers: kept,
		timeout:   DefaultProviderTimeout,
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger used by the service.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithProviderTimeout sets the per-submission timeout.
func (s *Service) WithProviderTimeout(timeout time.Duration) *Service {
	if timeout > 0 {
		s.timeout = timeout
	}
	return s
}

// Transcribe returns the word-level transcript for a source URL,
// producing and caching it on a miss. Concurrent calls for the same
// URL are coalesced into one provider submission.
func (s *Service) Transcribe(ctx context.Context, sourceURL, workDir string) (*transcript.Transcript, error) {
	return s.cache.GetOrFill(ctx, sourceURL, func(ctx context.Context) (*transcript.Transcript, error) {
		return s.produce(ctx, sourceURL, workDir)
	})
}

func (s *Service) produce(ctx context.Context, sourceURL, workDir string) (*transcript.Transcript, error) {
	mediaPath, err := s.fetcher.Fetch(ctx, sourceURL, workDir)
	if err != nil {
		return nil, err
	}

	audioPath := audioRenderingPath(mediaPath)
	if err := s.audio.ExtractAudio(ctx, mediaPath, audioPath); err != nil {
		return nil, err
	}
	defer os.Remove(audioPath)

	info, err := s.audio.Probe(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	result, err := s.runProviders(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	result.Words = sanitizeWords(result.Words)
	if info.Duration > 0 {
		result.Duration = info.Duration
	}
	if err := transcript.ValidateWords(result.Words); err != nil {
		return nil, haperr.Invariantf("provider produced unusable words: %v", err)
	}

	return result, nil
}

// runProviders walks the provider chain, giving each provider one
// retry before falling through to the next.
func (s *Service) runProviders(ctx context.Context, audioPath string) (*transcript.Transcript, error) {
	if len(s.providers) == 0 {
		return nil, fmt.Errorf("no transcription providers configured: %w", haperr.ErrTranscriptionUnavailable)
	}

	var lastErr error
	for _, p := range s.providers {
		for attempt := 1; attempt <= providerAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("transcription aborted: %w", haperr.ErrCancelled)
			}

			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			result, err := p.Transcribe(callCtx, audioPath)
			cancel()

			if err == nil {
				s.logger.Info("transcription succeeded",
					slog.String("provider", p.Name()),
					slog.Int("attempt", attempt),
					slog.Int("words", len(result.Words)))
				return result, nil
			}

			lastErr = err
			s.logger.Warn("transcription attempt failed",
				slog.String("provider", p.Name()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
	}

	return nil, fmt.Errorf("%w: all providers failed: %v", haperr.ErrTranscriptionUnavailable, lastErr)
}

// audioRenderingPath names the temporary 16 kHz WAV next to the media file.
func audioRenderingPath(mediaPath string) string {
	base := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath))
	return base + ".16k.wav"
}

// sanitizeWords normalises provider output into the shape the segment
// model requires: NFC text, no empties, sorted, non-overlapping.
// Providers occasionally emit words whose timestamps overlap by a few
// milliseconds; the later word is clamped forward rather than dropped.
func sanitizeWords(words []transcript.Word) []transcript.Word {
	out := make([]transcript.Word, 0, len(words))
	for _, w := range words {
		w.Text = norm.NFC.String(strings.TrimSpace(w.Text))
		if w.Text == "" {
			continue
		}
		if w.Start < 0 {
			w.Start = 0
		}
		if w.End < w.Start {
			w.End = w.Start
		}
		if w.Confidence < 0 {
			w.Confidence = 0
		}
		if w.Confidence > 1 {
			w.Confidence = 1
		}
		out = append(out, w)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	for i := 1; i < len(out); i++ {
		if out[i].Start < out[i-1].End {
			out[i].Start = out[i-1].End
			if out[i].End < out[i].Start {
				out[i].End = out[i].Start
			}
		}
	}

	return out
}
