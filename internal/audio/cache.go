package audio

import "sync"

// clipCache keeps decoded clips keyed by (imageID, pageID). Decoded PCM is
// large, so the cache is capped and evicts the least recently used entry.
// Entries can always be re-decoded from the blob store on demand.
type clipCache struct {
	mu  sync.Mutex
	cap int
	seq int64
	m   map[cacheKey]*cacheEntry
}

type cacheKey struct {
	imageID string
	pageID  string
}

type cacheEntry struct {
	clip *Clip
	used int64
}

func newClipCache(capacity int) *clipCache {
	if capacity <= 0 {
		capacity = 8
	}
	return &clipCache{cap: capacity, m: make(map[cacheKey]*cacheEntry)}
}

func (c *clipCache) get(imageID, pageID string) (*Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[cacheKey{imageID, pageID}]
	if !ok {
		return nil, false
	}
	c.seq++
	e.used = c.seq
	return e.clip, true
}

func (c *clipCache) put(imageID, pageID string, clip *Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.m[cacheKey{imageID, pageID}] = &cacheEntry{clip: clip, used: c.seq}
	if len(c.m) <= c.cap {
		return
	}
	var oldest cacheKey
	var oldestUsed int64 = 1<<63 - 1
	for k, e := range c.m {
		if e.used < oldestUsed {
			oldest, oldestUsed = k, e.used
		}
	}
	delete(c.m, oldest)
}

func (c *clipCache) drop(imageID, pageID string) {
	c.mu.Lock()
	delete(c.m, cacheKey{imageID, pageID})
	c.mu.Unlock()
}
