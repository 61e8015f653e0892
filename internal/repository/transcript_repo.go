package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dugoutlabs/hap/internal/models"
)

// transcriptRepo implements TranscriptRepository using GORM.
type transcriptRepo struct {
	db *gorm.DB
}

// NewTranscriptRepository creates a new TranscriptRepository.
func NewTranscriptRepository(db *gorm.DB) *transcriptRepo {
	return &transcriptRepo{db: db}
}

// GetBySourceURL retrieves a cached transcript by source URL.
func (r *transcriptRepo) GetBySourceURL(ctx context.Context, sourceURL string) (*models.CachedTranscript, error) {
	var entry models.CachedTranscript
	if err := r.db.WithContext(ctx).Where("source_url = ?", sourceURL).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting cached transcript: %w", err)
	}
	return &entry, nil
}

// Put stores a cached transcript, replacing any entry for the same URL.
func (r *transcriptRepo) Put(ctx context.Context, entry *models.CachedTranscript) error {
	if entry.SchemaVersion == 0 {
		entry.SchemaVersion = models.TranscriptSchemaVersion
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"schema_version", "words", "duration", "created_at", "updated_at",
		}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("storing cached transcript: %w", err)
	}
	return nil
}

// Delete removes the entry for a source URL.
func (r *transcriptRepo) Delete(ctx context.Context, sourceURL string) error {
	if err := r.db.WithContext(ctx).Where("source_url = ?", sourceURL).Delete(&models.CachedTranscript{}).Error; err != nil {
		return fmt.Errorf("deleting cached transcript: %w", err)
	}
	return nil
}

// DeleteExpired removes entries whose TTL has elapsed.
func (r *transcriptRepo) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.CachedTranscript{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting expired transcripts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// EvictOldest removes the oldest entries until at most keep remain.
func (r *transcriptRepo) EvictOldest(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	var evicted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&models.CachedTranscript{}).Count(&total).Error; err != nil {
			return fmt.Errorf("counting transcripts: %w", err)
		}
		excess := total - int64(keep)
		if excess <= 0 {
			return nil
		}

		// Collect victim IDs first so the delete stays portable across
		// drivers without LIMIT-on-DELETE support.
		var ids []models.ULID
		if err := tx.Model(&models.CachedTranscript{}).
			Order("created_at ASC").
			Limit(int(excess)).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("selecting eviction victims: %w", err)
		}

		res := tx.Where("id IN ?", ids).Delete(&models.CachedTranscript{})
		if res.Error != nil {
			return fmt.Errorf("evicting transcripts: %w", res.Error)
		}
		evicted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return evicted, nil
}

// Count returns the number of stored entries.
func (r *transcriptRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.CachedTranscript{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting transcripts: %w", err)
	}
	return count, nil
}

// All returns every stored entry ordered oldest first.
func (r *transcriptRepo) All(ctx context.Context) ([]*models.CachedTranscript, error) {
	var entries []*models.CachedTranscript
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}
	return entries, nil
}

// Clear removes every stored entry.
func (r *transcriptRepo) Clear(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.CachedTranscript{}).Error; err != nil {
		return fmt.Errorf("clearing transcripts: %w", err)
	}
	return nil
}

// Ensure transcriptRepo implements TranscriptRepository at compile time.
var _ TranscriptRepository = (*transcriptRepo)(nil)
