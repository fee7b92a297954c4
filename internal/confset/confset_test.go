package confset

import "testing"

func TestPublishDoesNotMutatePriorSnapshot(t *testing.T) {
	cs := New()
	first := cs.Acquire()
	defer cs.Release(first)

	next := first.Clone()
	next.Generation = first.Generation + 1
	next.Segments[1] = &Segment{ID: 1, Conf: "hello"}
	cs.Publish(next)

	if _, ok := first.Segments[1]; ok {
		t.Fatal("cloning must not mutate the snapshot it was cloned from")
	}

	second := cs.Acquire()
	defer cs.Release(second)
	if second.Generation != first.Generation+1 {
		t.Fatalf("generation = %d, want %d", second.Generation, first.Generation+1)
	}
	if second.Segments[1].Conf != "hello" {
		t.Fatal("published segment missing from new snapshot")
	}
}

func TestAcquireReleaseRefcount(t *testing.T) {
	cs := New()
	snap := cs.Acquire()
	if snap.refcount != 1 {
		t.Fatalf("refcount = %d, want 1", snap.refcount)
	}
	cs.Release(snap)
	if snap.refcount != 0 {
		t.Fatalf("refcount = %d, want 0", snap.refcount)
	}
}

func TestConfsetLookupHitsMissesAndInvalidatesOnPublish(t *testing.T) {
	cs := New()
	if err := cs.EnableHotCache(4); err != nil {
		t.Fatal(err)
	}

	first := cs.Acquire()
	next := first.Clone()
	next.Generation = first.Generation + 1
	next.Segments[1] = &Segment{ID: 1, Conf: "hello"}
	cs.Release(first)
	cs.Publish(next)

	seg, ok := cs.Lookup(1)
	if !ok || seg.Conf != "hello" {
		t.Fatalf("Lookup(1) = %v, %v; want hello segment", seg, ok)
	}
	// A second Lookup for the same id/generation should be served from
	// the HotCache rather than re-scanning Segments, though the result
	// observed here is the same either way.
	seg2, ok := cs.Lookup(1)
	if !ok || seg2 != seg {
		t.Fatal("expected the cached Lookup to return the same *Segment")
	}

	if _, ok := cs.Lookup(2); ok {
		t.Fatal("expected a miss for an id never published")
	}

	third := cs.Acquire()
	republished := third.Clone()
	republished.Generation = third.Generation + 1
	delete(republished.Segments, 1)
	cs.Release(third)
	cs.Publish(republished)

	if _, ok := cs.Lookup(1); ok {
		t.Fatal("expected a miss after a new generation dropped segment 1")
	}
}

func TestConfsetLookupWithoutHotCacheStillWorks(t *testing.T) {
	cs := New()
	first := cs.Acquire()
	next := first.Clone()
	next.Generation = first.Generation + 1
	next.Segments[9] = &Segment{ID: 9, Conf: "acme"}
	cs.Release(first)
	cs.Publish(next)

	seg, ok := cs.Lookup(9)
	if !ok || seg.Conf != "acme" {
		t.Fatalf("Lookup(9) = %v, %v; want acme segment", seg, ok)
	}
}

func TestHotCacheInvalidatesOnGenerationChange(t *testing.T) {
	hc, err := NewHotCache(4)
	if err != nil {
		t.Fatal(err)
	}
	seg := &Segment{ID: 1}
	hc.Add(1, 1, seg)
	if got, ok := hc.Get(1, 1); !ok || got != seg {
		t.Fatal("expected a hit for the same generation")
	}
	if _, ok := hc.Get(2, 1); ok {
		t.Fatal("expected a miss after the generation advanced")
	}
}
