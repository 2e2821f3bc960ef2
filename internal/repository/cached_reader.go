package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/normalize"
	"CoinPull/pkg/cache"
	applogger "CoinPull/pkg/logger"
)

const (
	pricesKeyPrefix   = "prices"
	metadataKeyPrefix = "metadata"
	generationKey     = "readgen"
	generationTTL     = 7 * 24 * time.Hour
)

type reader interface {
	domrepo.PriceReader
	domrepo.MetadataReader
}

// CachedReader is a read-through cache in front of a store. Cache failures
// are logged and fall through to the store; store errors are never cached.
//
// Keys carry the current read generation, which Invalidate replaces. A read
// that started before an Invalidate stores its result under the old
// generation, where no later read looks. A nil cache disables caching.
type CachedReader struct {
	next  reader
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
	seq   atomic.Uint64
}

func NewCachedReader(next reader, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachedReader {
	if l == nil {
		l = applogger.Nop()
	}
	return &CachedReader{next: next, cache: c, ttl: ttl, l: l}
}

var (
	_ domrepo.PriceReader      = (*CachedReader)(nil)
	_ domrepo.MetadataReader   = (*CachedReader)(nil)
	_ domrepo.CacheInvalidator = (*CachedReader)(nil)
)

func (c *CachedReader) Query(ctx context.Context, f models.QueryFilter) ([]models.PriceRecord, error) {
	if c.cache == nil {
		return c.next.Query(ctx, f)
	}
	gen := c.generation(ctx)
	key := cache.GenerateKey(pricesKeyPrefix, gen, cache.HashKey(filterKey(f)))

	var hit []models.PriceRecord
	if c.lookup(ctx, key, &hit) {
		return hit, nil
	}

	out, err := c.next.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	c.store(ctx, gen, key, out)
	return out, nil
}

func (c *CachedReader) GetMetadata(ctx context.Context, assetIDs []string) ([]models.AssetMetadata, error) {
	ids := normalize.AssetIDs(assetIDs)
	sort.Strings(ids)
	if c.cache == nil {
		return c.next.GetMetadata(ctx, ids)
	}
	gen := c.generation(ctx)
	key := cache.GenerateKey(metadataKeyPrefix, gen, cache.HashKey(strings.Join(ids, ",")))

	var hit []models.AssetMetadata
	if c.lookup(ctx, key, &hit) {
		return hit, nil
	}

	out, err := c.next.GetMetadata(ctx, ids)
	if err != nil {
		return nil, err
	}
	c.store(ctx, gen, key, out)
	return out, nil
}

// Invalidate starts a new read generation and drops every cached read.
func (c *CachedReader) Invalidate(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	gen := fmt.Sprintf("%x-%d", time.Now().UnixNano(), c.seq.Add(1))
	if err := c.cache.Set(ctx, generationKey, gen, generationTTL); err != nil {
		return fmt.Errorf("bump read generation: %w", err)
	}
	for _, prefix := range []string{pricesKeyPrefix, metadataKeyPrefix} {
		if err := c.cache.DeleteByPattern(ctx, cache.BuildPattern(prefix)); err != nil {
			return fmt.Errorf("invalidate %s: %w", prefix, err)
		}
	}
	return nil
}

// generation returns the current read generation, "0" before the first
// Invalidate.
func (c *CachedReader) generation(ctx context.Context) string {
	var gen string
	err := c.cache.Get(ctx, generationKey, &gen)
	switch {
	case err == nil && gen != "":
		return gen
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		c.l.Warn("cache get generation failed", applogger.Error(err))
	}
	return "0"
}

func (c *CachedReader) lookup(ctx context.Context, key string, dest interface{}) bool {
	err := c.cache.Get(ctx, key, dest)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		c.l.Warn("cache get failed", applogger.String("key", key), applogger.Error(err))
	}
	return err == nil
}

// store caches value unless the generation moved while the store was read.
func (c *CachedReader) store(ctx context.Context, gen, key string, value interface{}) {
	if c.generation(ctx) != gen {
		return
	}
	if err := c.cache.Set(ctx, key, value, c.ttl); err != nil {
		c.l.Warn("cache set failed", applogger.String("key", key), applogger.Error(err))
	}
}

// filterKey renders f canonically so equivalent filters share a cache entry.
func filterKey(f models.QueryFilter) string {
	ids := normalize.AssetIDs(f.AssetIDs)
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(strings.Join(ids, ","))
	b.WriteByte('|')
	if f.Start != nil {
		b.WriteString(f.Start.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte('|')
	if f.End != nil {
		b.WriteString(f.End.UTC().Format(time.RFC3339Nano))
	}
	fmt.Fprintf(&b, "|%d", f.Limit)
	return b.String()
}
