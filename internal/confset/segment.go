// Package confset holds the published, refcounted snapshots consumed by
// the host process: one Confset per registered module, each snapshot an
// immutable generation containing either a single Conf (unsegmented
// modules) or a map of per-id Segments (segmented modules), published
// under a monotonic generation counter so readers never observe a
// partially-updated module (spec.md §3, §4.5, §4.6).
package confset

import "github.com/allaspects/confplane/internal/confcore"

// Segment is one entry of a segmented module's snapshot.
type Segment struct {
	ID         uint32
	Conf       any
	FailedLoad bool
	Digest     confcore.Digest
	Version    float64
}

// Clone returns a shallow copy of s. Per-segment Conf values are treated
// as immutable once allocated, so a shallow copy is sufficient for the
// clone-modify-publish cycle of spec.md §4.5: dispatch replaces whole
// Segment entries, it never mutates one in place.
func (s *Segment) Clone() *Segment {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
