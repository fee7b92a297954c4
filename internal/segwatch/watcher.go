// Package segwatch implements the wildcard-aware directory watcher of
// spec.md §4.3: given a path template with exactly one %u placeholder in
// its final component, it walks the matching directory tree, registers
// fsnotify watches on every directory along the way, and produces a
// deduplicated, coalesced stream of Preffile change events.
package segwatch

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/allaspects/confplane/internal/confcore"
)

// ErrClosed is returned by NextChanged once the watcher has been closed.
var ErrClosed = errors.New("segwatch: watcher closed")

// ErrOverflow is returned by NextChanged when the kernel event queue
// dropped events (spec.md §8 scenario S5). The caller should treat every
// known preffile under this watcher as Modified and rescan.
var ErrOverflow = confcore.NewError(confcore.ErrOverflow, "", errors.New("event queue overflow"))

// Watcher monitors one path template's directory tree for segment file
// changes. It is safe for concurrent use by one producer goroutine
// (internally) and one or more consumer goroutines calling NextChanged.
type Watcher struct {
	fsw  *fsnotify.Watcher
	root *prefdir

	mu       sync.Mutex
	dirIndex map[string]*prefdir // watched directory path -> node that owns it
	dirty    []*Preffile
	closed   bool
	overflow bool

	notify chan struct{} // signalled whenever dirty/overflow transitions empty->non-empty
	done   chan struct{} // closed exactly once, by Close
}

// New builds a Watcher over the given wildcard path template (see
// spec.md §4.3 / §6 for the grammar) and performs an initial filesystem
// walk to discover files that already exist.
func New(template string) (*Watcher, error) {
	node, err := parseTemplate(template)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, confcore.NewError(confcore.ErrIO, template, err)
	}

	w := &Watcher{
		fsw:      fsw,
		dirIndex: make(map[string]*prefdir),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	w.root = newPrefdir(node)
	if err := w.mountTree(w.root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.pump()
	return w, nil
}

// mountTree registers a watch on d.dir, indexes d, and recurses into
// whatever already exists on disk that matches d's selector.
func (w *Watcher) mountTree(d *prefdir) error {
	if err := w.fsw.Add(d.dir); err != nil {
		if os.IsNotExist(err) {
			// Parent doesn't exist yet; it will be picked up once the
			// enclosing directory's watch observes its creation.
			w.dirIndex[d.dir] = d
			return nil
		}
		return confcore.NewError(confcore.ErrIO, d.dir, err)
	}
	w.dirIndex[d.dir] = d

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return confcore.NewError(confcore.ErrIO, d.dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, ent := range entries {
		name := ent.Name()
		if d.isLeaf() {
			if ent.IsDir() {
				continue
			}
			if id, ok := d.leaf.match(name); ok {
				pf := newPreffile(id, filepath.Join(d.dir, name))
				pf.dir = d
				d.files[name] = pf
			}
			continue
		}
		if !ent.IsDir() || !d.matchesGlob(name) {
			continue
		}
		child := newPrefdir(d.childTemplate(name))
		d.children[name] = child
		if err := w.mountTree(child); err != nil {
			return err
		}
	}
	return nil
}

// pump is the sole goroutine reading w.fsw's channels; it classifies
// every raw fsnotify event and folds it into the dirty queue.
func (w *Watcher) pump() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.handleError(err)
		}
	}
}

func (w *Watcher) handleError(err error) {
	log.Warn().Err(err).Msg("segwatch: fsnotify error")
	if strings.Contains(strings.ToLower(err.Error()), "overflow") || strings.Contains(strings.ToLower(err.Error()), "too many") {
		w.TriggerOverflow()
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)
	name := filepath.Base(ev.Name)

	w.mu.Lock()
	node, ok := w.dirIndex[dir]
	w.mu.Unlock()
	if !ok {
		return
	}

	if node.isLeaf() {
		w.handleLeafEvent(node, name, ev)
		return
	}
	w.handleInnerEvent(node, name, ev)
}

func (w *Watcher) handleLeafEvent(node *prefdir, name string, ev fsnotify.Event) {
	id, ok := node.leaf.match(name)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	pf, exists := node.files[name]
	switch {
	case ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0:
		if !exists {
			return
		}
		w.markLocked(pf, Removed)
	case ev.Op&fsnotify.Create != 0:
		if !exists {
			pf = newPreffile(id, filepath.Join(node.dir, name))
			pf.dir = node
			node.files[name] = pf
			w.markLocked(pf, Added)
			return
		}
		w.markLocked(pf, Modified)
	case ev.Op&fsnotify.Write != 0:
		if !exists {
			pf = newPreffile(id, filepath.Join(node.dir, name))
			pf.dir = node
			node.files[name] = pf
			w.markLocked(pf, Added)
			return
		}
		w.markLocked(pf, Modified)
	}
}

func (w *Watcher) handleInnerEvent(node *prefdir, name string, ev fsnotify.Event) {
	if !node.matchesGlob(name) {
		return
	}
	childDir := filepath.Join(node.dir, name)

	w.mu.Lock()
	child, exists := node.children[name]
	w.mu.Unlock()

	switch {
	case ev.Op&fsnotify.Create != 0:
		if exists {
			return
		}
		child = newPrefdir(node.childTemplate(name))
		w.mu.Lock()
		node.children[name] = child
		w.mu.Unlock()
		if err := w.mountTree(child); err != nil {
			log.Warn().Err(err).Str("dir", childDir).Msg("segwatch: mounting new subdirectory")
		}
	case ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0:
		if !exists {
			return
		}
		w.unmountTree(child)
		w.mu.Lock()
		delete(node.children, name)
		w.mu.Unlock()
	}
}

// unmountTree marks every file under d (recursively) Removed and drops
// the fsnotify watches that are no longer reachable.
func (w *Watcher) unmountTree(d *prefdir) {
	w.mu.Lock()
	delete(w.dirIndex, d.dir)
	w.mu.Unlock()
	w.fsw.Remove(d.dir)

	if d.isLeaf() {
		w.mu.Lock()
		for _, pf := range d.files {
			w.markLocked(pf, Removed)
		}
		w.mu.Unlock()
		return
	}
	for _, child := range d.children {
		w.unmountTree(child)
	}
}

// markLocked ORs bit into pf's private flags and enqueues it onto the
// dirty queue exactly once (spec.md §4.3's coalescing rule: repeated
// events before a drain accumulate bits, they don't requeue).
func (w *Watcher) markLocked(pf *Preffile, bit Flags) {
	pf.privateFlags |= bit
	if !pf.inDirty {
		pf.inDirty = true
		w.dirty = append(w.dirty, pf)
	}
	w.signal()
}

func (w *Watcher) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// TriggerOverflow marks the watcher as having lost events. The next
// NextChanged call returns ErrOverflow instead of a Preffile; callers
// are expected to walk every known Preffile as Modified and rescan the
// tree from disk. Exported for tests that need to exercise the overflow
// path without actually flooding inotify.
func (w *Watcher) TriggerOverflow() {
	w.mu.Lock()
	w.overflow = true
	w.mu.Unlock()
	w.signal()
}

// IsChanged reports whether at least one Preffile is queued with an
// elapsed epoch (or an overflow is pending), without blocking or
// consuming it (spec.md §4.3: "at least one preffile is in the dirty
// queue with epoch <= now").
func (w *Watcher) IsChanged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.overflow {
		return true
	}
	now := time.Now()
	for _, pf := range w.dirty {
		if pf.epoch.IsZero() || !pf.epoch.After(now) {
			return true
		}
	}
	return false
}

// eligibleLocked scans the dirty queue for the first entry whose epoch
// has elapsed, returning its index and the soonest future epoch among
// the rest (zero if none are pending a future epoch). Caller holds w.mu.
func (w *Watcher) eligibleLocked(now time.Time) (idx int, nextEpoch time.Time) {
	idx = -1
	for i, pf := range w.dirty {
		if pf.epoch.IsZero() || !pf.epoch.After(now) {
			idx = i
			return idx, time.Time{}
		}
		if nextEpoch.IsZero() || pf.epoch.Before(nextEpoch) {
			nextEpoch = pf.epoch
		}
	}
	return idx, nextEpoch
}

// NextChanged blocks until a changed Preffile whose epoch has elapsed is
// available, an overflow is signalled, or the watcher is closed. The
// returned Preffile's Flags field reflects everything accumulated since
// its last dequeue; its internal coalescing state is reset before
// return.
func (w *Watcher) NextChanged() (*Preffile, error) {
	for {
		w.mu.Lock()
		if w.overflow {
			w.overflow = false
			w.mu.Unlock()
			return nil, ErrOverflow
		}
		idx, nextEpoch := w.eligibleLocked(time.Now())
		if idx >= 0 {
			pf := w.dirty[idx]
			w.dirty = append(w.dirty[:idx], w.dirty[idx+1:]...)
			pf.inDirty = false
			pf.Flags = pf.privateFlags
			pf.privateFlags = Clean
			w.mu.Unlock()
			return pf, nil
		}
		if w.closed {
			w.mu.Unlock()
			return nil, ErrClosed
		}
		w.mu.Unlock()

		if nextEpoch.IsZero() {
			select {
			case <-w.notify:
			case <-w.done:
				return nil, ErrClosed
			}
			continue
		}
		timer := time.NewTimer(time.Until(nextEpoch))
		select {
		case <-w.notify:
		case <-w.done:
			timer.Stop()
			return nil, ErrClosed
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Retry re-enqueues pf with its epoch set to now+delay and the Retry bit
// ORed into its still-pending flags (spec.md §4.3's retry(pf, seconds),
// §8 scenario S4: a failed allocate should be retried after the
// configured delay rather than treated as a permanent failure, without
// losing any Modified/Added bit that arrived in the meantime). pf must
// have just been returned by NextChanged and not retried again since.
func (w *Watcher) Retry(pf *Preffile, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	original := pf.Flags
	pf.Flags = Clean
	if delay > 0 {
		pf.epoch = time.Now().Add(delay)
	} else {
		pf.epoch = time.Time{}
	}
	pf.privateFlags |= Retry | original
	if !pf.inDirty {
		pf.inDirty = true
		w.dirty = append(w.dirty, pf)
	}
	w.signal()
}

// SetPath updates the path recorded against a Preffile, used when a
// segment's owning directory is renamed without the file itself moving.
func (w *Watcher) SetPath(pf *Preffile, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pf.Path = path
}

// Files returns every Preffile currently known to the watcher, in
// lexical path order. Used for full rescans after ErrOverflow.
func (w *Watcher) Files() []*Preffile {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*Preffile
	w.collectLocked(w.root, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (w *Watcher) collectLocked(d *prefdir, out *[]*Preffile) {
	if d.isLeaf() {
		for _, pf := range d.files {
			*out = append(*out, pf)
		}
		return
	}
	for _, child := range d.children {
		w.collectLocked(child, out)
	}
}

// Close stops the watcher and releases its fsnotify resources. Any
// blocked NextChanged call returns ErrClosed.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	close(w.done)
	return w.fsw.Close()
}
