package confset

import (
	"sort"
	"sync/atomic"
)

// Snapshot is one immutable generation of a module's published state.
// Unsegmented modules use Conf and leave Segments nil; segmented modules
// use Segments and leave Conf nil.
type Snapshot struct {
	Generation uint64
	Conf       any
	Segments   map[uint32]*Segment

	refcount int64
}

// Clone returns a new Snapshot with the same generation and a shallow
// copy of the segment map, ready to be mutated by one dispatch cycle
// before being published as the next generation. The source snapshot is
// left untouched, matching spec.md §4.5 step 1 ("clone the previous
// generation's segment array").
func (s *Snapshot) Clone() *Snapshot {
	cp := &Snapshot{Generation: s.Generation, Conf: s.Conf}
	if s.Segments != nil {
		cp.Segments = make(map[uint32]*Segment, len(s.Segments))
		for id, seg := range s.Segments {
			cp.Segments[id] = seg
		}
	}
	return cp
}

// SortedIDs returns the segment ids in a Snapshot in ascending order,
// useful for deterministic iteration in tests and the admin API.
func (s *Snapshot) SortedIDs() []uint32 {
	ids := make([]uint32, 0, len(s.Segments))
	for id := range s.Segments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Confset is the atomically-published pointer to a module's current
// Snapshot, with acquire/release refcounting so a reader that acquired
// an older generation keeps observing it consistently even after a
// newer generation is published out from under it (spec.md §5: "publish
// without blocking readers").
type Confset struct {
	current atomic.Pointer[Snapshot]
	hot     *HotCache
}

// New creates a Confset seeded with an empty generation-0 snapshot.
func New() *Confset {
	cs := &Confset{}
	cs.current.Store(&Snapshot{Segments: make(map[uint32]*Segment)})
	return cs
}

// Acquire returns the currently published Snapshot and increments its
// refcount; callers must call Release when done with it.
func (cs *Confset) Acquire() *Snapshot {
	snap := cs.current.Load()
	atomic.AddInt64(&snap.refcount, 1)
	return snap
}

// Release decrements snap's refcount. Reclamation of the backing Conf
// values, if any is needed, is the caller's/type's responsibility on the
// 0-crossing transition; in this module Go's garbage collector retires
// unreferenced snapshots, so Release exists for API symmetry with the
// original library's manual refcounting and for instrumentation
// (tracking how long a generation stays pinned by slow readers).
func (cs *Confset) Release(snap *Snapshot) {
	atomic.AddInt64(&snap.refcount, -1)
}

// Publish atomically replaces the current snapshot with next, which must
// have Generation one greater than the snapshot it was cloned from
// (spec.md §4.6 enforces the monotonic counter at the dispatch level;
// Confset itself just performs the atomic swap).
func (cs *Confset) Publish(next *Snapshot) {
	cs.current.Store(next)
}

// Generation returns the currently published generation number without
// acquiring a reference to the snapshot.
func (cs *Confset) Generation() uint64 {
	return cs.current.Load().Generation
}

// EnableHotCache turns on per-id lookup memoization for Lookup, sized to
// hold at most size entries. It is opt-in: most modules are looked up a
// whole snapshot at a time (the admin API listing, the dispatch cycle's
// Clone) and never benefit from it.
func (cs *Confset) EnableHotCache(size int) error {
	hot, err := NewHotCache(size)
	if err != nil {
		return err
	}
	cs.hot = hot
	return nil
}

// Lookup returns the live Segment for id without the caller having to
// Acquire/Release a whole Snapshot. If a HotCache was enabled via
// EnableHotCache, a hit against the currently published generation skips
// the refcount bump entirely; a miss (or no cache configured) falls back
// to a normal Acquire/map-lookup/Release, populating the cache on the way
// out so the next Lookup for the same id at the same generation is a hit.
func (cs *Confset) Lookup(id uint32) (*Segment, bool) {
	snap := cs.current.Load()
	if cs.hot != nil {
		if seg, ok := cs.hot.Get(snap.Generation, id); ok {
			return seg, true
		}
	}

	snap = cs.Acquire()
	defer cs.Release(snap)
	seg, ok := snap.Segments[id]
	if ok && cs.hot != nil {
		cs.hot.Add(snap.Generation, id, seg)
	}
	return seg, ok
}
