package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deepgramFixture = `{
	"metadata": {"duration": 6.2},
	"results": {
		"channels": [{
			"alternatives": [{
				"transcript": "home run by smith",
				"confidence": 0.98,
				"words": [
					{"word": "home", "start": 0.50, "end": 0.80, "confidence": 0.99, "punctuated_word": "Home"},
					{"word": "run", "start": 0.80, "end": 1.10, "confidence": 0.97},
					{"word": "smith", "start": 1.30, "end": 1.70, "confidence": 0.91, "punctuated_word": "Smith."}
				]
			}]
		}]
	}
}`

func writeFakeWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.16k.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF fake wav"), 0o644))
	return path
}

func TestDeepgramProvider_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Token test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
		assert.Equal(t, "nova-2", r.URL.Query().Get("model"))
		assert.Equal(t, "true", r.URL.Query().Get("punctuate"))
		assert.Equal(t, "en", r.URL.Query().Get("language"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "RIFF fake wav", string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(deepgramFixture))
	}))
	defer server.Close()

	provider := NewDeepgramProvider("test-key", server.URL, "", "en", nil)
	assert.Equal(t, "deepgram", provider.Name())

	result, err := provider.Transcribe(context.Background(), writeFakeWAV(t))
	require.NoError(t, err)

	require.Len(t, result.Words, 3)
	assert.Equal(t, 6.2, result.Duration)

	// Punctuated form wins when present.
	assert.Equal(t, "Home", result.Words[0].Text)
	assert.Equal(t, "run", result.Words[1].Text)
	assert.Equal(t, "Smith.", result.Words[2].Text)
	assert.InDelta(t, 0.99, result.Words[0].Confidence, 0.0001)
	assert.InDelta(t, 0.50, result.Words[0].Start, 0.0001)
	assert.InDelta(t, 1.70, result.Words[2].End, 0.0001)
}

func TestDeepgramProvider_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"err_msg": "unsupported audio"}`))
	}))
	defer server.Close()

	provider := NewDeepgramProvider("test-key", server.URL, "", "en", nil)
	_, err := provider.Transcribe(context.Background(), writeFakeWAV(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestDeepgramProvider_NoAlternatives(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metadata": {"duration": 1.0}, "results": {"channels": []}}`))
	}))
	defer server.Close()

	provider := NewDeepgramProvider("test-key", server.URL, "", "en", nil)
	_, err := provider.Transcribe(context.Background(), writeFakeWAV(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no alternatives")
}
