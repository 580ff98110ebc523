package memory

import (
	"context"
	"sync"

	"github.com/equitydesk/vestd/internal/domain"
)

// ProjectionCache is a map-backed domain.ProjectionCache for dev mode.
type ProjectionCache struct {
	mu          sync.RWMutex
	projections map[string]domain.GrantProjection
}

var _ domain.ProjectionCache = (*ProjectionCache)(nil)

// NewProjectionCache creates an empty in-memory projection cache.
func NewProjectionCache() *ProjectionCache {
	return &ProjectionCache{projections: make(map[string]domain.GrantProjection)}
}

func (c *ProjectionCache) Set(ctx context.Context, p domain.GrantProjection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projections[p.GrantID] = p
	return nil
}

func (c *ProjectionCache) Get(ctx context.Context, grantID string) (domain.GrantProjection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.projections[grantID]
	if !ok {
		return domain.GrantProjection{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *ProjectionCache) Invalidate(ctx context.Context, grantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.projections, grantID)
	return nil
}
