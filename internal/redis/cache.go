package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scout-progress/internal/domain"
)

// CatalogSource is the primary store the cache is filled from
type CatalogSource interface {
	ListAll(ctx context.Context) ([]domain.CurriculumItem, error)
}

// CatalogCache serves the curriculum from a Redis hash, falling back to the
// source on a miss. Redis errors degrade to reading the source directly.
type CatalogCache struct {
	client *redis.Client
	source CatalogSource
	ttl    time.Duration
	logger *slog.Logger
}

// NewCatalogCache creates a catalog cache in front of source
func NewCatalogCache(client *redis.Client, source CatalogSource, ttl time.Duration, logger *slog.Logger) *CatalogCache {
	return &CatalogCache{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
	}
}

// ListAll returns the cached catalog, loading it from the source on a miss
func (c *CatalogCache) ListAll(ctx context.Context) ([]domain.CurriculumItem, error) {
	items, err := c.cached(ctx)
	if err != nil {
		c.logger.Warn("failed to read catalog cache", "error", err)
	}
	if len(items) > 0 {
		return items, nil
	}

	items, err = c.source.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading catalog from source: %w", err)
	}
	if err := c.store(ctx, items); err != nil {
		c.logger.Warn("failed to fill catalog cache", "error", err)
	}
	return items, nil
}

// Refresh reloads the catalog from the source into Redis
func (c *CatalogCache) Refresh(ctx context.Context) (int, error) {
	items, err := c.source.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalog from source: %w", err)
	}
	if err := c.store(ctx, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (c *CatalogCache) cached(ctx context.Context) ([]domain.CurriculumItem, error) {
	raw, err := c.client.HGetAll(ctx, catalogKey).Result()
	if err != nil {
		return nil, fmt.Errorf("reading catalog hash: %w", err)
	}

	items := make([]domain.CurriculumItem, 0, len(raw))
	for id, data := range raw {
		var it domain.CurriculumItem
		if err := json.Unmarshal([]byte(data), &it); err != nil {
			return nil, fmt.Errorf("decoding catalog item %s: %w", id, err)
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (c *CatalogCache) store(ctx context.Context, items []domain.CurriculumItem) error {
	if len(items) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encoding catalog item: %w", err)
		}
		fields[it.ID] = data
	}

	// Replace the whole hash so deleted items disappear
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, catalogKey)
	pipe.HSet(ctx, catalogKey, fields)
	if c.ttl > 0 {
		pipe.Expire(ctx, catalogKey, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing catalog hash: %w", err)
	}
	return nil
}

// BadgeCache stores computed badge summaries per member
type BadgeCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBadgeCache creates a badge cache whose entries expire after ttl
func NewBadgeCache(client *redis.Client, ttl time.Duration) *BadgeCache {
	return &BadgeCache{client: client, ttl: ttl}
}

// Get returns the cached summary, or nil when absent
func (c *BadgeCache) Get(ctx context.Context, memberID string) (*domain.BadgeSummary, error) {
	data, err := c.client.Get(ctx, badgeKey(memberID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting badge summary: %w", err)
	}

	var summary domain.BadgeSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("decoding badge summary: %w", err)
	}
	return &summary, nil
}

// Generation returns the member's invalidation counter, zero when unset
func (c *BadgeCache) Generation(ctx context.Context, memberID string) (int64, error) {
	gen, err := c.client.Get(ctx, badgeGenerationKey(memberID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting badge generation: %w", err)
	}
	return gen, nil
}

// Set caches a summary computed at generation. It reports false without
// writing when an Invalidate has happened since.
func (c *BadgeCache) Set(ctx context.Context, summary domain.BadgeSummary, generation int64) (bool, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("encoding badge summary: %w", err)
	}

	genKey := badgeGenerationKey(summary.MemberID)
	stored := false
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, badgeKey(summary.MemberID), data, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}

	if err := c.client.Watch(ctx, txf, genKey); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return false, nil
		}
		return false, fmt.Errorf("setting badge summary: %w", err)
	}
	return stored, nil
}

// Invalidate drops the member's cached summary and bumps its generation
func (c *BadgeCache) Invalidate(ctx context.Context, memberID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, badgeGenerationKey(memberID))
		pipe.Del(ctx, badgeKey(memberID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidating badge summary: %w", err)
	}
	return nil
}
