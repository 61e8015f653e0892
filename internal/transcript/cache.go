package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dugoutlabs/hap/internal/models"
	"github.com/dugoutlabs/hap/internal/repository"
)

// CacheConfig holds the cache's retention policy.
type CacheConfig struct {
	// TTL is how long an entry stays servable after it was stored.
	TTL time.Duration

	// MaxEntries is the soft cap. When the count exceeds it, the oldest
	// half is evicted so steady-state churn does not thrash the store.
	MaxEntries int
}

// Cache is the persistent transcript cache keyed by source URL.
// Entries survive across runs; expiry and size bounding happen on the
// write path and in the janitor, never mid-read.
type Cache struct {
	repo       repository.TranscriptRepository
	ttl        time.Duration
	maxEntries int
	group      singleflight.Group
	logger     *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	stores    atomic.Int64
	evictions atomic.Int64
}

// Stats is a point-in-time snapshot of cache counters for this process.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Stores    int64 `json:"stores"`
	Evictions int64 `json:"evictions"`
}

// PruneResult reports what a maintenance pass removed.
type PruneResult struct {
	Expired int64 `json:"expired"`
	Evicted int64 `json:"evicted"`
}

// FillFunc produces a transcript for a URL on cache miss.
type FillFunc func(ctx context.Context) (*Transcript, error)

// NewCache creates a transcript cache over the given repository.
func NewCache(repo repository.TranscriptRepository, cfg CacheConfig) *Cache {
	return &Cache{
		repo:       repo,
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the cache.
func (c *Cache) WithLogger(logger *slog.Logger) *Cache {
	c.logger = logger
	return c
}

// Get returns the cached transcript for a source URL. The second return
// reports whether the lookup was a hit; expired or unreadable entries
// count as misses.
func (c *Cache) Get(ctx context.Context, sourceURL string) (*Transcript, bool, error) {
	tr, err := c.lookup(ctx, sourceURL)
	if err != nil {
		return nil, false, err
	}
	if tr == nil {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return tr, true, nil
}

// lookup fetches and decodes an entry without touching hit/miss counters.
func (c *Cache) lookup(ctx context.Context, sourceURL string) (*Transcript, error) {
	entry, err := c.repo.GetBySourceURL(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	if entry.SchemaVersion != models.TranscriptSchemaVersion {
		c.logger.Warn("discarding cached transcript with unknown schema version",
			slog.String("source_url", sourceURL),
			slog.Int("schema_version", entry.SchemaVersion))
		if err := c.repo.Delete(ctx, sourceURL); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if entry.Expired(c.ttl, time.Now()) {
		return nil, nil
	}
	words, err := DecodeWords(entry.Words)
	if err != nil {
		c.logger.Warn("discarding unreadable cached transcript",
			slog.String("source_url", sourceURL),
			slog.String("error", err.Error()))
		if derr := c.repo.Delete(ctx, sourceURL); derr != nil {
			return nil, derr
		}
		return nil, nil
	}
	return &Transcript{Words: words, Duration: entry.Duration}, nil
}

// Put stores a transcript under its source URL with the current
// timestamp, replacing any previous entry, then enforces the size cap.
func (c *Cache) Put(ctx context.Context, sourceURL string, tr *Transcript) error {
	words, err := EncodeWords(tr.Words)
	if err != nil {
		return err
	}
	entry := &models.CachedTranscript{
		SchemaVersion: models.TranscriptSchemaVersion,
		SourceURL:     sourceURL,
		Words:         words,
		Duration:      tr.Duration,
	}
	if err := c.repo.Put(ctx, entry); err != nil {
		return err
	}
	c.stores.Add(1)
	return c.enforceCap(ctx)
}

// enforceCap evicts the oldest half when the entry count exceeds the cap.
func (c *Cache) enforceCap(ctx context.Context) error {
	if c.maxEntries <= 0 {
		return nil
	}
	count, err := c.repo.Count(ctx)
	if err != nil {
		return err
	}
	if count <= int64(c.maxEntries) {
		return nil
	}
	evicted, err := c.repo.EvictOldest(ctx, c.maxEntries/2)
	if err != nil {
		return err
	}
	c.evictions.Add(evicted)
	c.logger.Info("evicted oldest cached transcripts",
		slog.Int64("evicted", evicted),
		slog.Int("cap", c.maxEntries))
	return nil
}

// GetOrFill returns the cached transcript or produces one via fill.
// Concurrent callers for the same URL share a single fill; the result
// is stored before the flight resolves. A cache write failure is logged
// and swallowed so a degraded cache never fails a run.
func (c *Cache) GetOrFill(ctx context.Context, sourceURL string, fill FillFunc) (*Transcript, error) {
	if tr, ok, err := c.Get(ctx, sourceURL); err != nil {
		return nil, err
	} else if ok {
		return tr, nil
	}

	v, err, _ := c.group.Do(sourceURL, func() (any, error) {
		// A coalesced caller may arrive after the previous flight
		// completed; re-check before paying for a fill.
		if tr, err := c.lookup(ctx, sourceURL); err != nil {
			return nil, err
		} else if tr != nil {
			return tr, nil
		}

		tr, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, sourceURL, tr); err != nil {
			c.logger.Warn("failed to store transcript in cache",
				slog.String("source_url", sourceURL),
				slog.String("error", err.Error()))
		}
		return tr, nil
	})
	if err != nil {
		return nil, err
	}
	tr, ok := v.(*Transcript)
	if !ok {
		return nil, fmt.Errorf("unexpected singleflight result type %T", v)
	}
	return tr, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Stores:    c.stores.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Count returns the number of stored entries, servable or not.
func (c *Cache) Count(ctx context.Context) (int64, error) {
	return c.repo.Count(ctx)
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Prune removes expired entries and enforces the size cap. The janitor
// calls this on a schedule; the cache CLI exposes it directly.
func (c *Cache) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	expired, err := c.repo.DeleteExpired(ctx, c.ttl)
	if err != nil {
		return res, err
	}
	res.Expired = expired

	if c.maxEntries > 0 {
		count, err := c.repo.Count(ctx)
		if err != nil {
			return res, err
		}
		if count > int64(c.maxEntries) {
			evicted, err := c.repo.EvictOldest(ctx, c.maxEntries/2)
			if err != nil {
				return res, err
			}
			res.Evicted = evicted
			c.evictions.Add(evicted)
		}
	}
	return res, nil
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	return c.repo.Clear(ctx)
}
