package registry

import (
	"sync"
	"time"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

type cacheEntry struct {
	exp     *domain.Experiment
	expires time.Time
}

// cache holds experiment definitions for the decision path, keyed by
// whatever identifier (id or key) the caller used.
type cache struct {
	ttl     time.Duration
	entries sync.Map // string -> cacheEntry
	now     func() time.Time
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, now: time.Now}
}

func (c *cache) get(idOrKey string) (*domain.Experiment, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	v, ok := c.entries.Load(idOrKey)
	if !ok {
		return nil, false
	}
	entry := v.(cacheEntry)
	if c.now().After(entry.expires) {
		c.entries.CompareAndDelete(idOrKey, v)
		return nil, false
	}
	return entry.exp, true
}

func (c *cache) put(idOrKey string, exp *domain.Experiment) {
	if c.ttl <= 0 {
		return
	}
	c.entries.Store(idOrKey, cacheEntry{exp: exp, expires: c.now().Add(c.ttl)})
}

// invalidate drops every entry naming exp, under either identifier.
func (c *cache) invalidate(exp *domain.Experiment) {
	c.entries.Delete(exp.ID)
	c.entries.Delete(exp.Key)
}
