package models

import (
	"time"
)

// TranscriptSchemaVersion is the current on-disk shape of a cached
// transcript row. Bump when the serialised word format changes; readers
// treat rows with an older version as a cache miss.
const TranscriptSchemaVersion = 1

// CachedTranscript stores one clip's word-level transcription keyed by
// its source URL. Entries are self-contained and portable: everything
// needed to reproduce the transcription result lives in the row.
type CachedTranscript struct {
	BaseModel

	// SchemaVersion records the serialisation version of Words.
	SchemaVersion int `gorm:"not null;default:1" json:"schema_version"`

	// SourceURL is the cache key. The fetcher's proxy unwrapping happens
	// before caching, so the key is always the direct media URL.
	SourceURL string `gorm:"not null;size:512;uniqueIndex" json:"source_url"`

	// Words holds the JSON-encoded word list.
	Words string `gorm:"not null;type:text" json:"words"`

	// Duration is the clip's audio duration in seconds.
	Duration float64 `gorm:"not null" json:"duration"`
}

// TableName returns the table name for CachedTranscript.
func (CachedTranscript) TableName() string {
	return "cached_transcripts"
}

// ExpiresAt returns the moment this entry stops being servable for the
// given TTL.
func (t *CachedTranscript) ExpiresAt(ttl time.Duration) time.Time {
	return t.CreatedAt.Add(ttl)
}

// Expired reports whether the entry has outlived the given TTL at now.
func (t *CachedTranscript) Expired(ttl time.Duration, now time.Time) bool {
	return now.After(t.ExpiresAt(ttl))
}
