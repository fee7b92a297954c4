// Package confdispatch wires confreg, confio, confset, and segwatch
// together into the clone-modify-publish reload cycle of spec.md §4.5
// (segmented modules) and the simpler single-file reload of §4.6
// (unsegmented modules).
package confdispatch

import (
	"github.com/allaspects/confplane/internal/confio"
	"github.com/allaspects/confplane/internal/confreg"
)

// SimpleType is the allocate contract for an unsegmented module: one
// file, one Conf value per generation.
type SimpleType interface {
	Name() string
	Allocate(info *confreg.Info, l *confio.Loader) (any, error)
}

// SegmentedType is the allocate contract for a segmented module: each
// matching file produces one Segment keyed by the id captured from its
// %u path component.
type SegmentedType interface {
	Name() string
	Allocate(id uint32, info *confreg.Info, l *confio.Loader) (any, error)
}
