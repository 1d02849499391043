// Package roster provides access to live group rosters. The gateway is the
// source of truth; an optional Redis snapshot cache sits in front of it so
// message-driven admin checks do not hammer the sidecar.
package roster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"wa_group_ledger_bot/internal/domain"
	"wa_group_ledger_bot/internal/logging"
)

// Provider yields the current roster for a group. forceRefresh bypasses any
// caching layer; the result may still be eventually consistent with live
// membership.
type Provider interface {
	FetchParticipants(ctx context.Context, groupID string, forceRefresh bool) ([]domain.Participant, error)
}

// redisCmd is the subset of redis.Client the cache uses; fakes implement it
// with redis.NewStringResult / redis.NewStatusResult.
type redisCmd interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cache decorates a Provider with a Redis TTL snapshot per group. Reads fall
// through to the upstream provider on any cache miss or failure; cache write
// failures are logged and never surfaced.
type Cache struct {
	upstream Provider
	rdb      redisCmd
	ttl      time.Duration
	logger   *logrus.Entry
}

// NewCache wraps upstream with a Redis snapshot cache.
func NewCache(upstream Provider, rdb *redis.Client, ttl time.Duration, logger *logrus.Entry) *Cache {
	return newCache(upstream, rdb, ttl, logger)
}

func newCache(upstream Provider, rdb redisCmd, ttl time.Duration, logger *logrus.Entry) *Cache {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Cache{
		upstream: upstream,
		rdb:      rdb,
		ttl:      ttl,
		logger:   logger,
	}
}

func snapshotKey(groupID string) string {
	return "roster:" + groupID
}

// FetchParticipants returns the cached snapshot when present, otherwise
// fetches from upstream and stores the result. forceRefresh always goes
// upstream and overwrites the snapshot.
func (c *Cache) FetchParticipants(ctx context.Context, groupID string, forceRefresh bool) ([]domain.Participant, error) {
	if !forceRefresh {
		if roster, ok := c.lookup(ctx, groupID); ok {
			return roster, nil
		}
	}

	roster, err := c.upstream.FetchParticipants(ctx, groupID, forceRefresh)
	if err != nil {
		return nil, err
	}

	c.store(ctx, groupID, roster)
	return roster, nil
}

func (c *Cache) lookup(ctx context.Context, groupID string) ([]domain.Participant, bool) {
	raw, err := c.rdb.Get(ctx, snapshotKey(groupID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithFields(logging.Fields{
				"event":    "roster_cache_read_failed",
				"group_id": groupID,
			}).WithError(err).Warn("roster cache read failed, falling through")
		}
		return nil, false
	}

	var roster []domain.Participant
	if err := json.Unmarshal([]byte(raw), &roster); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":    "roster_cache_corrupt",
			"group_id": groupID,
		}).WithError(err).Warn("discarding corrupt roster snapshot")
		return nil, false
	}

	return roster, true
}

func (c *Cache) store(ctx context.Context, groupID string, roster []domain.Participant) {
	raw, err := json.Marshal(roster)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":    "roster_cache_encode_failed",
			"group_id": groupID,
		}).WithError(err).Warn("roster snapshot not cached")
		return
	}

	if err := c.rdb.Set(ctx, snapshotKey(groupID), raw, c.ttl).Err(); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":    "roster_cache_write_failed",
			"group_id": groupID,
		}).WithError(err).Warn("roster snapshot not cached")
	}
}

var _ Provider = (*Cache)(nil)
