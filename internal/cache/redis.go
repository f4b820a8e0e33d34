// Package cache provides the caching layers for the Gatekeeper system: the
// Redis copy of the published ruleset read by the API service, and an
// in-process TTL cache for plan-scoped member records.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash fields of the published ruleset key.
const (
	fieldDocument    = "document"
	fieldChecksum    = "checksum"
	fieldVersion     = "version"
	fieldPublishedAt = "published_at"
)

// ErrRulesetNotPublished is returned when the ruleset key does not exist yet.
var ErrRulesetNotPublished = errors.New("ruleset has not been published")

// RulesetDocument is a raw ruleset document as published by the syncer.
type RulesetDocument struct {
	Version     int64
	Checksum    string
	Data        []byte
	PublishedAt time.Time
}

// RulesetCache stores the current ruleset document as a Redis hash.
type RulesetCache struct {
	client redis.Cmdable
	key    string
}

// NewRulesetCache returns a RulesetCache bound to key.
func NewRulesetCache(client redis.Cmdable, key string) *RulesetCache {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &RulesetCache{client: client, key: key}
}

// Key returns the Redis key holding the document.
func (c *RulesetCache) Key() string { return c.key }

// Get reads the published document (HGETALL).
func (c *RulesetCache) Get(ctx context.Context) (*RulesetDocument, error) {
	fields, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ruleset %q from cache: %w", c.key, err)
	}
	if len(fields) == 0 {
		return nil, ErrRulesetNotPublished
	}

	doc := &RulesetDocument{
		Data:     []byte(fields[fieldDocument]),
		Checksum: fields[fieldChecksum],
	}
	if v := fields[fieldVersion]; v != "" {
		if doc.Version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("corrupt ruleset version %q: %w", v, err)
		}
	}
	if ts := fields[fieldPublishedAt]; ts != "" {
		if doc.PublishedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("corrupt ruleset timestamp %q: %w", ts, err)
		}
	}

	return doc, nil
}

// Checksum returns the checksum of the published document, or "" when nothing
// has been published.
func (c *RulesetCache) Checksum(ctx context.Context) (string, error) {
	sum, err := c.client.HGet(ctx, c.key, fieldChecksum).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read ruleset checksum: %w", err)
	}
	return sum, nil
}

// Publish replaces the document atomically. The hash is rewritten inside a
// MULTI/EXEC block so readers never observe a document with a stale checksum.
func (c *RulesetCache) Publish(ctx context.Context, doc *RulesetDocument) error {
	publishedAt := doc.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key)
		pipe.HSet(ctx, c.key, map[string]any{
			fieldDocument:    doc.Data,
			fieldChecksum:    doc.Checksum,
			fieldVersion:     doc.Version,
			fieldPublishedAt: publishedAt.Format(time.RFC3339Nano),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish ruleset v%d: %w", doc.Version, err)
	}
	return nil
}
