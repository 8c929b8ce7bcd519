package activitypub

import (
	"sync"

	"github.com/deemkeen/fedimerge/domain"
)

// ActorCache holds the best known copy of each actor by local id.
// Entries are only ever replaced by a copy that is not worse, never invalidated.
type ActorCache struct {
	mu     sync.RWMutex
	actors map[int64]domain.Actor
}

func NewActorCache() *ActorCache {
	return &ActorCache{actors: make(map[int64]domain.Actor)}
}

func (c *ActorCache) Get(id int64) (domain.Actor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	actor, ok := c.actors[id]
	return actor, ok
}

// Offer stores actor unless the cached copy is better to cache. A copy that ties replaces the
// entry, so the cache follows the last stored merge. Reports whether it was stored.
func (c *ActorCache) Offer(actor domain.Actor) bool {
	if actor.ActorId == 0 || actor.IsConstant() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.actors[actor.ActorId]; ok && existing.IsBetterToCacheThan(actor) {
		return false
	}
	c.actors[actor.ActorId] = actor
	return true
}

func (c *ActorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.actors)
}
