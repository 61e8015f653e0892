package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/dugoutlabs/hap/internal/transcript"
	"github.com/dugoutlabs/hap/pkg/httpclient"
)

// DefaultDeepgramBaseURL is the public pre-recorded transcription endpoint.
const DefaultDeepgramBaseURL = "https://api.deepgram.com/v1/listen"

// DefaultDeepgramModel is used when no model is configured.
const DefaultDeepgramModel = "nova-2"

// DeepgramProvider transcribes via the Deepgram pre-recorded API,
// which returns word-level confidence natively.
type DeepgramProvider struct {
	client   *httpclient.Client
	apiKey   string
	model    string
	language string
	baseURL  string
	logger   *slog.Logger
}

// NewDeepgramProvider creates a Deepgram provider. A nil client gets a
// default client that never retries: the audio body is a file stream
// that cannot be replayed, so retry policy belongs to the caller.
func NewDeepgramProvider(apiKey, baseURL, model, language string, client *httpclient.Client) *DeepgramProvider {
	if baseURL == "" {
		baseURL = DefaultDeepgramBaseURL
	}
	if model == "" {
		model = DefaultDeepgramModel
	}
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.RetryAttempts = 0
		client = httpclient.New(cfg)
	}

	return &DeepgramProvider{
		client:   client,
		apiKey:   apiKey,
		model:    model,
		language: language,
		baseURL:  baseURL,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger used by the provider.
func (p *DeepgramProvider) WithLogger(logger *slog.Logger) *DeepgramProvider {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Name identifies the provider.
func (p *DeepgramProvider) Name() string { return "deepgram" }

// deepgramResponse mirrors the pre-recorded API response.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word           string  `json:"word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Confidence     float64 `json:"confidence"`
					PunctuatedWord string  `json:"punctuated_word"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe streams the audio file to Deepgram and maps the first
// alternative of the first channel.
func (p *DeepgramProvider) Transcribe(ctx context.Context, audioPath string) (*transcript.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("opening audio for deepgram: %w", err)
	}
	defer f.Close()

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("punctuate", "true")
	q.Set("smart_format", "false")
	if p.language != "" {
		q.Set("language", p.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"?"+q.Encode(), f)
	if err != nil {
		return nil, fmt.Errorf("building deepgram request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram returned status %d: %s", resp.StatusCode, body)
	}

	var decoded deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding deepgram response: %w", err)
	}

	if len(decoded.Results.Channels) == 0 || len(decoded.Results.Channels[0].Alternatives) == 0 {
		return nil, fmt.Errorf("deepgram returned no alternatives")
	}

	alt := decoded.Results.Channels[0].Alternatives[0]
	result := &transcript.Transcript{
		Words:    make([]transcript.Word, 0, len(alt.Words)),
		Duration: decoded.Metadata.Duration,
	}
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		result.Words = append(result.Words, transcript.Word{
			Text:       text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}

	p.logger.Debug("deepgram transcription complete",
		slog.Int("words", len(result.Words)),
		slog.Float64("duration", result.Duration))
	return result, nil
}
