package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultProfileTTL = 6 * time.Hour

// CachedProfiles fronts a ProfileSource with a Redis read-through cache. Cache errors
// fall back to the inner source; only ids missing from the cache reach it.
type CachedProfiles struct {
	rdb   *redis.Client
	inner ProfileSource
	ttl   time.Duration
}

func NewCachedProfiles(rdb *redis.Client, inner ProfileSource, ttl time.Duration) *CachedProfiles {
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	return &CachedProfiles{rdb: rdb, inner: inner, ttl: ttl}
}

func profileKey(id string) string { return "session:profile:" + id }

func (c *CachedProfiles) ProfilesByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	if len(ids) == 0 {
		return map[string]domain.Profile{}, nil
	}
	if c.rdb == nil {
		return c.inner.ProfilesByIDs(ctx, ids)
	}
	out := make(map[string]domain.Profile, len(ids))
	missing := ids

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = profileKey(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		obslog.L().Warn("profile_cache_read_error", zap.Int("ids", len(ids)), zap.Error(err))
	} else {
		missing = missing[:0:0]
		for i, raw := range vals {
			s, ok := raw.(string)
			var p domain.Profile
			if !ok || json.Unmarshal([]byte(s), &p) != nil {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = p
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, ferr := c.inner.ProfilesByIDs(ctx, missing)
	for id, p := range fetched {
		out[id] = p
	}
	if ferr != nil {
		return out, ferr
	}
	if len(fetched) > 0 {
		_, werr := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for id, p := range fetched {
				raw, err := json.Marshal(p)
				if err != nil {
					continue
				}
				pipe.Set(ctx, profileKey(id), raw, c.ttl)
			}
			return nil
		})
		if werr != nil {
			obslog.L().Warn("profile_cache_write_error", zap.Int("ids", len(fetched)), zap.Error(werr))
		}
	}
	return out, nil
}
