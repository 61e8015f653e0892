package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWords(t *testing.T) {
	words := []Word{
		{Text: "deep", Start: 0.5, End: 0.9, Confidence: 0.97},
		{Text: "drive", Start: 1.0, End: 1.4, Confidence: 0.92},
	}

	encoded, err := EncodeWords(words)
	require.NoError(t, err)

	decoded, err := DecodeWords(encoded)
	require.NoError(t, err)
	assert.Equal(t, words, decoded)
}

func TestEncodeWords_NilBecomesEmptyList(t *testing.T) {
	encoded, err := EncodeWords(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", encoded)

	decoded, err := DecodeWords(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeWords_Invalid(t *testing.T) {
	_, err := DecodeWords("{not json")
	assert.Error(t, err)
}

func TestValidateWords(t *testing.T) {
	tests := []struct {
		name    string
		words   []Word
		wantErr bool
	}{
		{
			name: "valid with gap",
			words: []Word{
				{Text: "a", Start: 0.0, End: 0.3, Confidence: 1},
				{Text: "b", Start: 0.9, End: 1.2, Confidence: 0.5},
			},
		},
		{
			name: "valid touching",
			words: []Word{
				{Text: "a", Start: 0.0, End: 0.3, Confidence: 1},
				{Text: "b", Start: 0.3, End: 0.6, Confidence: 1},
			},
		},
		{
			name:  "empty",
			words: nil,
		},
		{
			name:    "negative start",
			words:   []Word{{Text: "a", Start: -0.1, End: 0.2, Confidence: 1}},
			wantErr: true,
		},
		{
			name:    "end before start",
			words:   []Word{{Text: "a", Start: 0.5, End: 0.2, Confidence: 1}},
			wantErr: true,
		},
		{
			name:    "confidence above one",
			words:   []Word{{Text: "a", Start: 0, End: 0.2, Confidence: 1.2}},
			wantErr: true,
		},
		{
			name: "overlapping words",
			words: []Word{
				{Text: "a", Start: 0.0, End: 0.5, Confidence: 1},
				{Text: "b", Start: 0.4, End: 0.8, Confidence: 1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWords(tt.words)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
