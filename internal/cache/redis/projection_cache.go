package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/equitydesk/vestd/internal/domain"
)

const projectionTTL = 5 * time.Minute

// ProjectionCache implements domain.ProjectionCache using JSON-serialized
// grant projections under a 5-minute TTL. Mutating services invalidate on
// commit, so the TTL only bounds staleness after missed invalidations.
//
// Key schema:
//
//	projection:{grantID} - string value containing JSON
type ProjectionCache struct {
	rdb *redis.Client
}

var _ domain.ProjectionCache = (*ProjectionCache)(nil)

// NewProjectionCache creates a ProjectionCache backed by the given Client.
func NewProjectionCache(c *Client) *ProjectionCache {
	return &ProjectionCache{rdb: c.Underlying()}
}

func projectionKey(grantID string) string {
	return "projection:" + grantID
}

// Set stores a grant projection.
func (pc *ProjectionCache) Set(ctx context.Context, p domain.GrantProjection) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal projection %s: %w", p.GrantID, err)
	}

	if err := pc.rdb.Set(ctx, projectionKey(p.GrantID), data, projectionTTL).Err(); err != nil {
		return fmt.Errorf("redis: set projection %s: %w", p.GrantID, err)
	}
	return nil
}

// Get retrieves a grant projection. It returns domain.ErrNotFound when the
// key does not exist.
func (pc *ProjectionCache) Get(ctx context.Context, grantID string) (domain.GrantProjection, error) {
	data, err := pc.rdb.Get(ctx, projectionKey(grantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.GrantProjection{}, domain.ErrNotFound
		}
		return domain.GrantProjection{}, fmt.Errorf("redis: get projection %s: %w", grantID, err)
	}

	var p domain.GrantProjection
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.GrantProjection{}, fmt.Errorf("redis: unmarshal projection %s: %w", grantID, err)
	}
	return p, nil
}

// Invalidate removes a grant projection from the cache.
func (pc *ProjectionCache) Invalidate(ctx context.Context, grantID string) error {
	if err := pc.rdb.Del(ctx, projectionKey(grantID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate projection %s: %w", grantID, err)
	}
	return nil
}
