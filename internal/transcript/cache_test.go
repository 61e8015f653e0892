package transcript

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dugoutlabs/hap/internal/models"
	"github.com/dugoutlabs/hap/internal/repository"
)

func setupCache(t *testing.T, cfg CacheConfig) (*Cache, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A pooled second connection would see its own empty in-memory
	// database, so pin the pool to one connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.CachedTranscript{}))

	cache := NewCache(repository.NewTranscriptRepository(db), cfg)
	return cache, db
}

func backdateEntry(t *testing.T, db *gorm.DB, sourceURL string, createdAt time.Time) {
	t.Helper()
	err := db.Model(&models.CachedTranscript{}).
		Where("source_url = ?", sourceURL).
		Update("created_at", createdAt).Error
	require.NoError(t, err)
}

func testTranscript() *Transcript {
	return &Transcript{
		Words: []Word{
			{Text: "high", Start: 0.5, End: 0.8, Confidence: 0.95},
			{Text: "fly", Start: 0.85, End: 1.1, Confidence: 0.9},
			{Text: "ball", Start: 1.15, End: 1.5, Confidence: 0.97},
		},
		Duration: 6.2,
	}
}

func TestCache_MissThenHit(t *testing.T) {
	cache, _ := setupCache(t, CacheConfig{TTL: 7 * 24 * time.Hour, MaxEntries: 50})
	ctx := context.Background()
	url := "https://example.com/play-1.mp4"

	_, ok, err := cache.Get(ctx, url)
	require.NoError(t, err)
	assert.False(t, ok)

	want := testTranscript()
	require.NoError(t, cache.Put(ctx, url, want))

	got, ok, err := cache.Get(ctx, url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Words, got.Words)
	assert.Equal(t, want.Duration, got.Duration)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Stores)
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	ttl := 7 * 24 * time.Hour
	cache, db := setupCache(t, CacheConfig{TTL: ttl, MaxEntries: 50})
	ctx := context.Background()
	url := "https://example.com/play-2.mp4"

	require.NoError(t, cache.Put(ctx, url, testTranscript()))
	backdateEntry(t, db, url, time.Now().Add(-ttl-time.Hour))

	_, ok, err := cache.Get(ctx, url)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_UnknownSchemaVersionIsMiss(t *testing.T) {
	cache, db := setupCache(t, CacheConfig{TTL: 7 * 24 * time.Hour, MaxEntries: 50})
	ctx := context.Background()
	url := "https://example.com/play-3.mp4"

	require.NoError(t, cache.Put(ctx, url, testTranscript()))
	err := db.Model(&models.CachedTranscript{}).
		Where("source_url = ?", url).
		Update("schema_version", models.TranscriptSchemaVersion+1).Error
	require.NoError(t, err)

	_, ok, err := cache.Get(ctx, url)
	require.NoError(t, err)
	assert.False(t, ok)

	// The stale row is dropped, not served.
	count, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCache_PutEvictsOldestHalfOverCap(t *testing.T) {
	cache, db := setupCache(t, CacheConfig{TTL: 7 * 24 * time.Hour, MaxEntries: 4})
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://example.com/over-%d.mp4", i)
		require.NoError(t, cache.Put(ctx, url, testTranscript()))
		backdateEntry(t, db, url, base.Add(time.Duration(i)*time.Minute))
	}

	count, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The newest entries survive.
	_, ok, err := cache.Get(ctx, "https://example.com/over-4.mp4")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = cache.Get(ctx, "https://example.com/over-0.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int64(3), cache.Stats().Evictions)
}

func TestCache_GetOrFillCoalescesConcurrentMisses(t *testing.T) {
	cache, _ := setupCache(t, CacheConfig{TTL: 7 * 24 * time.Hour, MaxEntries: 50})
	ctx := context.Background()
	url := "https://example.com/coalesce.mp4"

	var fills atomic.Int32
	fill := func(ctx context.Context) (*Transcript, error) {
		fills.Add(1)
		time.Sleep(50 * time.Millisecond)
		return testTranscript(), nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.GetOrFill(ctx, url, fill)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), fills.Load())

	// The shared result was stored; a later call is a pure hit.
	got, ok, err := cache.Get(ctx, url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Words, 3)
}

func TestCache_GetOrFillPropagatesFillError(t *testing.T) {
	cache, _ := setupCache(t, CacheConfig{TTL: 7 * 24 * time.Hour, MaxEntries: 50})
	ctx := context.Background()

	wantErr := fmt.Errorf("provider down")
	_, err := cache.GetOrFill(ctx, "https://example.com/fail.mp4", func(ctx context.Context) (*Transcript, error) {
		return nil, wantErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)

	count, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCache_GetOrFillUsesExistingEntry(t *testing.T) {
	cache, _ := setupCache(t, CacheConfig{TTL: 7 * 24 * time.Hour, MaxEntries: 50})
	ctx := context.Background()
	url := "https://example.com/hit.mp4"

	require.NoError(t, cache.Put(ctx, url, testTranscript()))

	got, err := cache.GetOrFill(ctx, url, func(ctx context.Context) (*Transcript, error) {
		t.Fatal("fill must not run on a cache hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Len(t, got.Words, 3)
}

func TestCache_Prune(t *testing.T) {
	ttl := 7 * 24 * time.Hour
	cache, db := setupCache(t, CacheConfig{TTL: ttl, MaxEntries: 50})
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "https://example.com/stale.mp4", testTranscript()))
	require.NoError(t, cache.Put(ctx, "https://example.com/live.mp4", testTranscript()))
	backdateEntry(t, db, "https://example.com/stale.mp4", time.Now().Add(-ttl-time.Hour))

	res, err := cache.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Expired)
	assert.Equal(t, int64(0), res.Evicted)

	count, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
