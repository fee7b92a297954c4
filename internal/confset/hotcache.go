package confset

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// HotCache memoizes recent id lookups against a segmented module's
// current snapshot. It exists for modules whose segment id space is
// large (spec.md's multi-thousand-tenant case): a plain map lookup is
// already O(1), but the Confset.Acquire/Release refcount bump on every
// lookup is measurable at high QPS, so HotCache lets a caller that polls
// the same small set of hot ids skip straight to the cached *Segment
// without re-acquiring the snapshot. Adapted from the teacher's two-tier
// CacheMiddleware (internal/cache/cache.go), collapsed to a single tier
// since there is no persistent-store analog here.
type HotCache struct {
	cache      *lru.Cache[uint32, *Segment]
	generation uint64
}

// NewHotCache builds a HotCache holding at most size recently-looked-up
// segments.
func NewHotCache(size int) (*HotCache, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[uint32, *Segment](size)
	if err != nil {
		return nil, err
	}
	return &HotCache{cache: c}, nil
}

// Get returns the cached Segment for id, if present and still valid for
// generation. A stale entry (cached under an older generation) is
// treated as a miss rather than served, since a published generation
// may have replaced, failed, or removed that segment.
func (h *HotCache) Get(generation uint64, id uint32) (*Segment, bool) {
	if generation != h.generation {
		h.cache.Purge()
		h.generation = generation
		return nil, false
	}
	return h.cache.Get(id)
}

// Add caches seg under id for generation, invalidating the whole cache
// first if generation has moved on since the last Add/Get.
func (h *HotCache) Add(generation uint64, id uint32, seg *Segment) {
	if generation != h.generation {
		h.cache.Purge()
		h.generation = generation
	}
	h.cache.Add(id, seg)
}

// Len returns the number of entries currently cached.
func (h *HotCache) Len() int {
	return h.cache.Len()
}
