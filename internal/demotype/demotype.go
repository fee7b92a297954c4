// Package demotype provides two deliberately minimal config types used
// to exercise internal/confdispatch end to end in tests: Counter (an
// unsegmented module, a single integer) and Tenant (a segmented module,
// one small record per %u-captured id). Neither is meant as a real
// config format — concrete per-domain parsers are out of scope (see
// SPEC_FULL.md §1) — they exist purely to drive the dispatcher's
// allocate/clone/publish cycle under test.
package demotype

import (
	"strconv"
	"strings"

	"github.com/allaspects/confplane/internal/confcore"
	"github.com/allaspects/confplane/internal/confio"
	"github.com/allaspects/confplane/internal/confreg"
)

// Counter is the unsegmented demo type: its file holds a single integer
// on the first non-empty line.
type Counter struct{ Value int }

type CounterType struct{}

func (CounterType) Name() string { return "counter" }

func (CounterType) Allocate(info *confreg.Info, l *confio.Loader) (any, error) {
	line, err := l.ReadLine()
	if err != nil {
		return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), err)
	}
	return &Counter{Value: n}, nil
}

// Tenant is the segmented demo type: its file holds a single "name"
// line for the tenant with the matching id.
type Tenant struct {
	ID   uint32
	Name string
}

type TenantType struct{}

func (TenantType) Name() string { return "tenant" }

func (TenantType) Allocate(id uint32, info *confreg.Info, l *confio.Loader) (any, error) {
	line, err := l.ReadLine()
	if err != nil {
		return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), err)
	}
	name := strings.TrimSpace(line)
	if name == "" {
		return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), errString("empty tenant name"))
	}
	return &Tenant{ID: id, Name: name}, nil
}

type errString string

func (e errString) Error() string { return string(e) }
