package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/davidguzman1991/clinical-core/internal/domain"
)

// ontologyMemoryCacheSize bounds the in-process Tier 1 cache added in
// front of Redis. Ontology mappings are small strings and the query
// vocabulary is finite, so a few thousand entries covers the working
// set without meaningful memory pressure.
const ontologyMemoryCacheSize = 4096

// CachedStore decorates a Store with a two-tier cache-aside layer in
// front of the two read paths that are expensive to recompute per
// request and change rarely: anatomical-system detection and
// selection-frequency stats. An in-process LRU (Tier 1) sits in front
// of Redis (Tier 2) for OntologyDetect, whose mapping never changes
// within a deployment and so never needs invalidating on an LRU hit;
// every other Store method passes straight through. Grounded on the
// teacher's pkg/external/cache.go CacheClient for the Redis layer and
// internal/service/transcript_resolver.go's memoryCache/redisCache
// two-tier split for the LRU front.
type CachedStore struct {
	Store
	redis      *redis.Client
	memory     *lru.Cache[string, string]
	defaultTTL time.Duration
	log        *logrus.Logger
}

// NewCachedStore wraps inner with a Redis cache reached at redisURL,
// fronted by an in-process LRU.
func NewCachedStore(inner Store, redisURL string, defaultTTL time.Duration, log *logrus.Logger) (*CachedStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	memory, err := lru.New[string, string](ontologyMemoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}

	return &CachedStore{Store: inner, redis: client, memory: memory, defaultTTL: defaultTTL, log: log}, nil
}

// Close releases the Redis connection.
func (c *CachedStore) Close() error {
	return c.redis.Close()
}

type cachedOntologyEntry struct {
	System    string    `json:"system"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OntologyDetect caches the anatomical system detected for a normalized
// query; the mapping from query text to system never changes within a
// deployment, so a cache hit is always correct, not just fresh-enough.
func (c *CachedStore) OntologyDetect(ctx context.Context, normalizedQuery string) (string, error) {
	if system, hit := c.memory.Get(normalizedQuery); hit {
		return system, nil
	}

	key := "ontology:" + normalizedQuery

	val, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var cached cachedOntologyEntry
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil && time.Now().Before(cached.ExpiresAt) {
			c.memory.Add(normalizedQuery, cached.System)
			return cached.System, nil
		}
		c.redis.Del(ctx, key)
	} else if err != redis.Nil {
		c.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("ontology cache read failed, falling through to store")
	}

	system, err := c.Store.OntologyDetect(ctx, normalizedQuery)
	if err != nil {
		return "", err
	}

	c.memory.Add(normalizedQuery, system)

	entry := cachedOntologyEntry{System: system, CachedAt: time.Now(), ExpiresAt: time.Now().Add(c.defaultTTL)}
	if encoded, jsonErr := json.Marshal(entry); jsonErr == nil {
		if setErr := c.redis.Set(ctx, key, encoded, c.defaultTTL).Err(); setErr != nil {
			c.log.WithFields(logrus.Fields{"key": key, "error": setErr}).Warn("ontology cache write failed")
		}
	}

	return system, nil
}

type cachedUsageStats struct {
	Stats     map[string]domain.UsageStats `json:"stats"`
	CachedAt  time.Time                    `json:"cached_at"`
	ExpiresAt time.Time                    `json:"expires_at"`
}

// usageStatsTTL is intentionally short: frequency counts shift with
// every selection, so a stale cache hit here is a ranking-quality
// regression, not just a correctness no-op like OntologyDetect's.
const usageStatsTTL = 30 * time.Second

// UsageStats caches the per-request usage-stats lookup keyed by the
// exact (codes, userID) pair requested, since the result set served to
// one request is always the same list of codes.
func (c *CachedStore) UsageStats(ctx context.Context, codes []string, userID string) (map[string]domain.UsageStats, error) {
	key := usageStatsKey(codes, userID)

	val, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var cached cachedUsageStats
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil && time.Now().Before(cached.ExpiresAt) {
			return cached.Stats, nil
		}
		c.redis.Del(ctx, key)
	} else if err != redis.Nil {
		c.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("usage-stats cache read failed, falling through to store")
	}

	stats, err := c.Store.UsageStats(ctx, codes, userID)
	if err != nil {
		return nil, err
	}

	entry := cachedUsageStats{Stats: stats, CachedAt: time.Now(), ExpiresAt: time.Now().Add(usageStatsTTL)}
	if encoded, jsonErr := json.Marshal(entry); jsonErr == nil {
		if setErr := c.redis.Set(ctx, key, encoded, usageStatsTTL).Err(); setErr != nil {
			c.log.WithFields(logrus.Fields{"key": key, "error": setErr}).Warn("usage-stats cache write failed")
		}
	}

	return stats, nil
}

func usageStatsKey(codes []string, userID string) string {
	key := "usage:" + userID + ":"
	for i, code := range codes {
		if i > 0 {
			key += ","
		}
		key += code
	}
	return key
}
