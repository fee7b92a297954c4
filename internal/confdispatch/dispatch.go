package confdispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspects/confplane/internal/confcore"
	"github.com/allaspects/confplane/internal/confreg"
	"github.com/allaspects/confplane/internal/confset"
	"github.com/allaspects/confplane/internal/metrics"
	"github.com/allaspects/confplane/internal/reloadhistory"
	"github.com/allaspects/confplane/internal/segwatch"
)

// DefaultParallel is the default segment.parallel value, recovered from
// original_source's DEFAULT_PARALLEL_SEGMENTS constant. Each segmented
// module records it, but segment allocates run one at a time and
// segments are kept in a map rather than a slot array, so the value
// bounds no concurrency and sizes no allocation.
const DefaultParallel = 10

// DefaultRetryDelay is how long a failed segment waits before its next
// retry attempt, absent an explicit segment.retry-sec override.
const DefaultRetryDelay = 1 * time.Second

// DefaultHotCacheSize bounds the per-module id lookup cache every
// segmented module is given, sized for a few thousand hot tenants
// without growing unbounded alongside the segment id space itself.
const DefaultHotCacheSize = 4096

type moduleEntry struct {
	name    string
	info    *confreg.Info
	confset *confset.Confset
	d       *Dispatcher

	simple    SimpleType
	segmented SegmentedType
	watcher   *segwatch.Watcher

	retryDelay time.Duration
	parallel   int

	stop chan struct{}
}

// Dispatcher owns every registered module's registry entry, published
// Confset, and (for segmented modules) watcher and reload goroutine.
//
// Metrics and History are optional observability sinks, following the
// teacher's pattern of passing a *metrics.Collector directly into
// whatever needs to report to it (internal/proxy.NewProxyHandler takes
// one the same way) rather than routing through an events bus. Both are
// nil-safe: a Dispatcher with neither set still runs the reload cycle,
// it just reports nothing beyond the zerolog lines every cycle already
// emits.
type Dispatcher struct {
	mu       sync.Mutex
	registry *confreg.Registry
	modules  map[string]*moduleEntry

	Parallel   int
	RetryDelay time.Duration

	Metrics *metrics.Collector
	History *reloadhistory.Store
}

// New builds a Dispatcher with spec.md §5's defaults.
func New() *Dispatcher {
	return &Dispatcher{
		registry:   confreg.New(),
		modules:    make(map[string]*moduleEntry),
		Parallel:   DefaultParallel,
		RetryDelay: DefaultRetryDelay,
	}
}

// Registry exposes the underlying confreg.Registry, e.g. for the admin
// API to report per-module stat/digest/failure state.
func (d *Dispatcher) Registry() *confreg.Registry { return d.registry }

// Confset returns the published Confset for a registered module.
func (d *Dispatcher) Confset(name string) (*confset.Confset, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.modules[name]
	if !ok {
		return nil, false
	}
	return m.confset, true
}

// RegisterSimple registers an unsegmented module backed by a single
// file at path.
func (d *Dispatcher) RegisterSimple(name, path string, flags confreg.LoadFlag, t SimpleType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.modules[name]; exists {
		return confcore.NewError(confcore.ErrPolicy, path, fmt.Errorf("module %q already registered", name))
	}
	info, err := d.registry.Register(name, path, flags, nil)
	if err != nil {
		return err
	}
	d.modules[name] = &moduleEntry{name: name, info: info, confset: confset.New(), simple: t, d: d}
	return nil
}

// RegisterSegmented registers a segmented module backed by every file
// matching template (a wildcard path as in spec.md §4.3), and starts its
// watcher immediately so initial-population events are not missed.
func (d *Dispatcher) RegisterSegmented(name, template string, flags confreg.LoadFlag, t SegmentedType) error {
	d.mu.Lock()
	if _, exists := d.modules[name]; exists {
		d.mu.Unlock()
		return confcore.NewError(confcore.ErrPolicy, template, fmt.Errorf("module %q already registered", name))
	}
	d.mu.Unlock()

	info, err := d.registry.Register(name, template, flags, nil)
	if err != nil {
		return err
	}
	w, err := segwatch.New(template)
	if err != nil {
		d.registry.Unregister(name)
		return err
	}

	m := &moduleEntry{
		name:       name,
		info:       info,
		confset:    confset.New(),
		d:          d,
		segmented:  t,
		watcher:    w,
		retryDelay: d.RetryDelay,
		parallel:   d.Parallel,
		stop:       make(chan struct{}),
	}
	if err := m.confset.EnableHotCache(DefaultHotCacheSize); err != nil {
		d.registry.Unregister(name)
		return err
	}

	d.mu.Lock()
	d.modules[name] = m
	d.mu.Unlock()

	// Seed the initial generation from whatever the watcher's startup
	// walk already found on disk, since those files predate the watch
	// and so never generate their own Added events.
	return resyncSegmented(m)
}

// LoadSimple runs one load cycle for an unsegmented module (spec.md
// §4.5 step 2 / §4.6): open, allocate, publish generation+1 on success.
// On a primary failure it falls back to re-allocating against the
// ".last-good" sidecar and still publishes (flagged FailedLoad) if that
// succeeds; only when the last-good fallback fails too (no sidecar, or
// the type rejects it) does the previous generation's Conf survive
// untouched.
func (d *Dispatcher) LoadSimple(name string) error {
	d.mu.Lock()
	m, ok := d.modules[name]
	d.mu.Unlock()
	if !ok || m.simple == nil {
		return fmt.Errorf("confdispatch: %q is not a registered simple module", name)
	}
	return loadSimpleOnce(m)
}

// DrainOnce processes every currently-queued change for a segmented
// module without blocking for more, publishing one new generation if
// anything changed. Intended for tests and for an initial full drain at
// startup. Start does not call this: its background loop applies and
// publishes each change on its own as the watcher reports it.
func (d *Dispatcher) DrainOnce(name string) error {
	d.mu.Lock()
	m, ok := d.modules[name]
	d.mu.Unlock()
	if !ok || m.segmented == nil {
		return fmt.Errorf("confdispatch: %q is not a registered segmented module", name)
	}
	return drainSegmentedOnce(m)
}

// Start launches the background reload loop for every registered
// segmented module. It returns immediately; call Close to stop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.modules {
		if m.segmented == nil {
			continue
		}
		go runSegmentedLoop(m)
	}
}

// Close stops every segmented module's watcher and background loop.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, m := range d.modules {
		if m.stop != nil {
			select {
			case <-m.stop:
			default:
				close(m.stop)
			}
		}
		if m.watcher != nil {
			if err := m.watcher.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func runSegmentedLoop(m *moduleEntry) {
	for {
		pf, err := m.watcher.NextChanged()
		if err == segwatch.ErrClosed {
			return
		}
		if err == segwatch.ErrOverflow {
			if m.d.Metrics != nil {
				m.d.Metrics.RecordOverflow(m.name)
			}
			log.Warn().Str("module", m.name).Msg("segwatch overflow, resynchronizing from disk")
			if err := resyncSegmented(m); err != nil {
				log.Error().Err(err).Str("module", m.name).Msg("resync after overflow failed")
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("module", m.name).Msg("segwatch NextChanged error")
			continue
		}
		if err := applyOne(m, pf); err != nil {
			log.Error().Err(err).Str("module", m.name).Uint32("segment_id", pf.ID).Msg("segment allocate failed")
		}
	}
}
