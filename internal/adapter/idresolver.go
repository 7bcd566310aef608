package adapter

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/camasync/syncengine/internal/domain"
)

// LRUIDResolver caches SourceID->TargetID mappings in a bounded in-memory
// LRU, so a large incremental batch doesn't have to re-query the target
// adapter to resolve a parent reference it already upserted this run.
type LRUIDResolver struct {
	cache *lru.Cache[string, string]
}

// NewLRUIDResolver creates a resolver holding up to size entries.
func NewLRUIDResolver(size int) (*LRUIDResolver, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create id resolver cache: %w", err)
	}
	return &LRUIDResolver{cache: cache}, nil
}

func resolverKey(entityType domain.EntityType, sourceID string) string {
	return string(entityType) + "::" + sourceID
}

// Resolve implements IDResolver.
func (r *LRUIDResolver) Resolve(entityType domain.EntityType, sourceID string) (string, bool) {
	return r.cache.Get(resolverKey(entityType, sourceID))
}

// Record implements IDResolver.
func (r *LRUIDResolver) Record(entityType domain.EntityType, sourceID, targetID string) {
	r.cache.Add(resolverKey(entityType, sourceID), targetID)
}
