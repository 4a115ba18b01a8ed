package narration

import (
	"context"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/gravewalk/server/internal/lib/navigation"
)

// CachedNarrator wraps a Narrator with content-based caching
type CachedNarrator struct {
	narrator Narrator
	store    Store
	hasher   *ContentHasher
	ttl      time.Duration
}

// NewCachedNarrator creates a narrator that reuses phrasing for equivalent guidance
func NewCachedNarrator(narrator Narrator, store Store, ttl time.Duration) *CachedNarrator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedNarrator{
		narrator: narrator,
		store:    store,
		hasher:   NewContentHasher(),
		ttl:      ttl,
	}
}

// Narrate checks the cache first, then asks the wrapped narrator and caches its answer
func (c *CachedNarrator) Narrate(ctx context.Context, g navigation.Guidance) (string, error) {
	contentHash := c.hasher.HashGuidance(g)

	if cached, found, err := c.store.GetNarration(contentHash); err == nil && found {
		logging.Debugw(ctx, "Narration cache hit", "hash", contentHash[:8])
		return cached, nil
	}

	text, err := c.narrator.Narrate(ctx, g)
	if err != nil {
		return "", err
	}

	if err := c.store.SetNarration(contentHash, text, c.ttl); err != nil {
		// Don't fail the request if caching fails
		logging.Warnw(ctx, "Failed to cache narration", "hash", contentHash[:8], "error", err)
	}

	return text, nil
}

// HealthCheck delegates to the underlying narrator
func (c *CachedNarrator) HealthCheck(ctx context.Context) error {
	return c.narrator.HealthCheck(ctx)
}
