// Package confreg is the per-module registration table of spec.md §4.4:
// every config type a host process wants managed registers exactly one
// Info here, which records its path, load flags, userdata, and the stat,
// digest, update count and failure state of its most recent load. The
// conf objects published for a module are not held here.
package confreg

import (
	"fmt"
	"sync"
	"time"

	"github.com/allaspects/confplane/internal/confcore"
)

// LoadFlag mirrors the conf_loader_state flags of spec.md §4.1: they
// control how confio.Loader reads a registered file's lines.
type LoadFlag uint8

const (
	SkipComments LoadFlag = 1 << iota
	SkipEmpty
	Chomp
	AllowNUL
)

// Info is one registered module's bookkeeping record. Exactly one Info
// exists per registered name for the lifetime of the process; Register
// returns an error on a duplicate name rather than silently replacing
// the existing entry (spec.md §7: double registration is a policy
// error, not a soft overwrite).
type Info struct {
	Name      string
	Path      string // may contain a %u placeholder for segmented types
	LoadFlags LoadFlag
	Userdata  any

	mu           sync.Mutex
	stat         confcore.FileStat
	digest       confcore.Digest
	updates      uint64
	failedLoad   bool
	registeredAt time.Time
}

// Stat returns the last-known stat tuple recorded for this module's
// primary (unsegmented) file, along with whether it has ever been set.
func (i *Info) Stat() (confcore.FileStat, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stat, !i.stat.Zero()
}

// IsChanged reports whether st differs from the last stat tuple
// recorded via MarkLoaded, without touching any state (spec.md §4.4:
// "decide whether a file changed without reading it").
func (i *Info) IsChanged(st confcore.FileStat) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return !i.stat.Equal(st)
}

// MarkLoaded records a successful load's stat tuple and digest and
// increments the update counter.
func (i *Info) MarkLoaded(st confcore.FileStat, digest confcore.Digest) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stat = st
	i.digest = digest
	i.updates++
	i.failedLoad = false
}

// MarkFailed records that the most recent load attempt failed; the
// previously recorded stat/digest (if any) are left untouched so the
// last-good payload they describe remains authoritative.
func (i *Info) MarkFailed() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failedLoad = true
}

// FailedLoad reports whether the most recent load attempt failed.
func (i *Info) FailedLoad() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failedLoad
}

// Digest returns the content digest recorded by the last successful load.
func (i *Info) Digest() confcore.Digest {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.digest
}

// Updates returns the number of successful loads recorded so far.
func (i *Info) Updates() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.updates
}

// Registry is the process-wide table of registered modules.
type Registry struct {
	mu    sync.RWMutex
	infos map[string]*Info
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{infos: make(map[string]*Info)}
}

// Register creates and stores a new Info for name. Registering the same
// name twice is a hard error (spec.md §7 policy error), matching the
// original library's refusal to silently replace a conf_info.
func (r *Registry) Register(name, path string, flags LoadFlag, userdata any) (*Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.infos[name]; exists {
		return nil, confcore.NewError(confcore.ErrPolicy, path, fmt.Errorf("module %q already registered", name))
	}
	info := &Info{
		Name:         name,
		Path:         path,
		LoadFlags:    flags,
		Userdata:     userdata,
		registeredAt: time.Now(),
	}
	r.infos[name] = info
	return info, nil
}

// Unregister removes name from the table. It is not an error to
// unregister a name that was never registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.infos, name)
}

// Get returns the Info registered under name, if any.
func (r *Registry) Get(name string) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.infos[name]
	return i, ok
}

// Names returns every registered module name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.infos))
	for n := range r.infos {
		out = append(out, n)
	}
	return out
}

// All returns every registered Info, keyed by name. The returned map is
// a fresh copy safe to range over without holding the registry lock.
func (r *Registry) All() map[string]*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Info, len(r.infos))
	for n, i := range r.infos {
		out[n] = i
	}
	return out
}
