// Package repository provides data access layers for hap models.
package repository

import (
	"context"
	"time"

	"github.com/dugoutlabs/hap/internal/models"
)

// TranscriptRepository manages cached transcript persistence.
type TranscriptRepository interface {
	// GetBySourceURL returns the entry for a source URL, or nil when absent.
	GetBySourceURL(ctx context.Context, sourceURL string) (*models.CachedTranscript, error)

	// Put stores an entry, replacing any previous entry for the same URL,
	// timestamps included. An entry with a zero CreatedAt is stamped with
	// the current time; a pre-set one is kept, so imported entries expire
	// on the exporter's clock.
	Put(ctx context.Context, entry *models.CachedTranscript) error

	// Delete removes the entry for a source URL if present.
	Delete(ctx context.Context, sourceURL string) error

	// DeleteExpired removes entries older than the TTL and reports how
	// many were removed.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// EvictOldest removes the oldest entries until at most keep remain,
	// reporting how many were removed.
	EvictOldest(ctx context.Context, keep int) (int64, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// All returns every stored entry ordered oldest first.
	All(ctx context.Context) ([]*models.CachedTranscript, error)

	// Clear removes every stored entry.
	Clear(ctx context.Context) error
}

// RunRepository manages assembly run records.
type RunRepository interface {
	// Create inserts a new run record.
	Create(ctx context.Context, run *models.Run) error

	// Update persists changes to an existing run record.
	Update(ctx context.Context, run *models.Run) error

	// GetByToken returns the run with the given working-directory token,
	// or nil when absent.
	GetByToken(ctx context.Context, token string) (*models.Run, error)

	// Recent returns the most recent runs, newest first.
	Recent(ctx context.Context, limit int) ([]*models.Run, error)
}
