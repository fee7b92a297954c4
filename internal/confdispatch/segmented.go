package confdispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspects/confplane/internal/confcore"
	"github.com/allaspects/confplane/internal/confio"
	"github.com/allaspects/confplane/internal/confset"
	"github.com/allaspects/confplane/internal/segwatch"
)

// applyOne runs the clone-modify-publish cycle of spec.md §4.5 for a
// single changed Preffile: clone the current snapshot, allocate or drop
// the one segment that changed, and publish generation+1.
func applyOne(m *moduleEntry, pf *segwatch.Preffile) error {
	started := time.Now()
	cycleID := newCycleID()
	ctx, endSpan := startReloadSpan(m.name, cycleID)

	prev := m.confset.Acquire()
	defer m.confset.Release(prev)
	next := prev.Clone()
	next.Generation = prev.Generation + 1

	err := applySegmentChange(ctx, m, next, pf, cycleID)
	if err == nil {
		m.confset.Publish(next)
		log.Info().Str("module", m.name).Uint64("generation", next.Generation).Uint32("segment_id", pf.ID).Str("event", pf.Flags.String()).Msg("segment loaded")
	}

	loaded, failed := countSegments(next)
	endSpan(next.Generation, loaded, failed)
	recordReload(m, cycleID, started, next.Generation, loaded, failed, "watch", err)
	return err
}

// countSegments tallies a snapshot's live vs failed-load segments for
// reporting to metrics and reload history.
func countSegments(snap *confset.Snapshot) (loaded, failed int) {
	for _, seg := range snap.Segments {
		if seg.FailedLoad {
			failed++
		} else {
			loaded++
		}
	}
	return loaded, failed
}

func applySegmentChange(ctx context.Context, m *moduleEntry, next *confset.Snapshot, pf *segwatch.Preffile, cycleID string) error {
	if pf.Flags.Has(segwatch.Removed) {
		delete(next.Segments, pf.ID)
		return nil
	}

	var conf any
	var loader *confio.Loader
	allocErr := traceSegmentAllocate(ctx, m.name, pf.ID, pf.Path, func() error {
		l, err := confio.Open(pf.Path, nil, m.info.LoadFlags)
		if err != nil {
			return err
		}
		c, err := m.segmented.Allocate(pf.ID, m.info, l)
		if err != nil {
			l.Done(false)
			return err
		}
		if err := l.Done(true); err != nil {
			return err
		}
		conf = c
		loader = l
		return nil
	})
	if allocErr != nil {
		return handleSegmentFailure(m, next, pf, cycleID, allocErr)
	}

	next.Segments[pf.ID] = &confset.Segment{
		ID:         pf.ID,
		Conf:       conf,
		Digest:     loader.Digest(),
		FailedLoad: false,
	}
	return nil
}

// handleSegmentFailure implements spec.md §4.5 step 2 / §4.6 / §6: first
// try to recover the segment by re-running Allocate against its
// ".last-good" sidecar, publishing that payload flagged FailedLoad — this
// is what lets a segment that is *new* (never previously present in
// next) survive a parse failure on its first load, as long as a sidecar
// exists from some earlier process's successful load of the same path.
// Only when no last-good recovery is possible does it fall back to
// SPEC_FULL.md §6.2's decision: keep the prior in-memory payload if the
// segment previously existed, or omit it entirely if it never did,
// rather than publishing a present-but-empty entry. Either way it
// schedules a retry.
func handleSegmentFailure(m *moduleEntry, next *confset.Snapshot, pf *segwatch.Preffile, cycleID string, cause error) error {
	if conf, digest, ok := recoverSegmentFromLastGood(m, pf); ok {
		next.Segments[pf.ID] = &confset.Segment{
			ID:         pf.ID,
			Conf:       conf,
			Digest:     digest,
			FailedLoad: true,
		}
		log.Warn().Err(cause).Str("module", m.name).Uint32("segment_id", pf.ID).Msg("primary parse failed, recovered segment from last-good sidecar")
		recordSegmentFailure(m, cycleID, pf.ID, pf.Path, cause)
		scheduleRetry(m, pf)
		return nil
	}

	if prior, existed := next.Segments[pf.ID]; existed {
		next.Segments[pf.ID] = &confset.Segment{
			ID:         pf.ID,
			Conf:       prior.Conf,
			Digest:     prior.Digest,
			FailedLoad: true,
		}
	} else {
		delete(next.Segments, pf.ID)
	}

	log.Warn().Err(cause).Str("module", m.name).Uint32("segment_id", pf.ID).Msg("segment allocate failed, scheduling retry")
	recordSegmentFailure(m, cycleID, pf.ID, pf.Path, cause)
	scheduleRetry(m, pf)
	return nil
}

// recoverSegmentFromLastGood re-runs Allocate against pf.Path's
// ".last-good" sidecar. It reports ok=false on any failure (no sidecar,
// unreadable, or the type still rejects it), leaving the caller to fall
// back to its own prior-payload policy.
func recoverSegmentFromLastGood(m *moduleEntry, pf *segwatch.Preffile) (any, confcore.Digest, bool) {
	l, err := confio.OpenLastGood(pf.Path, nil, m.info.LoadFlags)
	if err != nil {
		return nil, confcore.Digest{}, false
	}
	conf, allocErr := m.segmented.Allocate(pf.ID, m.info, l)
	if allocErr != nil {
		l.Done(false)
		return nil, confcore.Digest{}, false
	}
	if err := l.Done(true); err != nil {
		return nil, confcore.Digest{}, false
	}
	return conf, l.Digest(), true
}

// scheduleRetry asks the watcher to re-enqueue pf once its retry delay
// has elapsed. The delay is enforced by the watcher itself (pf.epoch,
// spec.md §4.3's retry(pf, seconds)), not a timer here, so NextChanged
// is the single place that decides when a retried segment becomes
// eligible again.
func scheduleRetry(m *moduleEntry, pf *segwatch.Preffile) {
	if m.d.Metrics != nil {
		m.d.Metrics.RecordRetry(m.name)
	}
	delay := m.retryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	m.watcher.Retry(pf, delay)
}

// drainSegmentedOnce processes every currently-queued Preffile without
// blocking for more, publishing at most one new generation.
func drainSegmentedOnce(m *moduleEntry) error {
	started := time.Now()
	cycleID := newCycleID()
	ctx, endSpan := startReloadSpan(m.name, cycleID)

	changed := false
	prev := m.confset.Acquire()
	next := prev.Clone()
	next.Generation = prev.Generation + 1

	var cycleErr error
	for m.watcher.IsChanged() {
		pf, err := m.watcher.NextChanged()
		if err == segwatch.ErrOverflow {
			m.confset.Release(prev)
			return resyncSegmented(m)
		}
		if err != nil {
			break
		}
		if err := applySegmentChange(ctx, m, next, pf, cycleID); err != nil {
			cycleErr = err
			m.confset.Release(prev)
			break
		}
		changed = true
	}

	if cycleErr != nil {
		endSpan(next.Generation, 0, 0)
		recordReload(m, cycleID, started, next.Generation, 0, 0, "watch", cycleErr)
		return cycleErr
	}
	m.confset.Release(prev)

	if changed {
		m.confset.Publish(next)
	}

	loaded, failed := countSegments(next)
	endSpan(next.Generation, loaded, failed)
	if changed {
		recordReload(m, cycleID, started, next.Generation, loaded, failed, "watch", nil)
	}
	return nil
}

// resyncSegmented rebuilds a segmented module's snapshot from a full
// filesystem walk after an event-queue overflow (spec.md §8 scenario
// S5): every known Preffile is treated as Modified.
func resyncSegmented(m *moduleEntry) error {
	started := time.Now()
	cycleID := newCycleID()
	ctx, endSpan := startReloadSpan(m.name, cycleID)

	prev := m.confset.Acquire()
	next := prev.Clone()
	next.Generation = prev.Generation + 1

	seen := make(map[uint32]bool)
	for _, pf := range m.watcher.Files() {
		seen[pf.ID] = true
		synthetic := &segwatch.Preffile{ID: pf.ID, Path: pf.Path, Flags: segwatch.Modified}
		if err := applySegmentChange(ctx, m, next, synthetic, cycleID); err != nil {
			m.confset.Release(prev)
			endSpan(next.Generation, 0, 0)
			recordReload(m, cycleID, started, next.Generation, 0, 0, "resync", err)
			return err
		}
	}
	for id := range next.Segments {
		if !seen[id] {
			delete(next.Segments, id)
		}
	}
	m.confset.Release(prev)
	m.confset.Publish(next)
	log.Info().Str("module", m.name).Uint64("generation", next.Generation).Msg("resynchronized after overflow")

	loaded, failed := countSegments(next)
	endSpan(next.Generation, loaded, failed)
	recordReload(m, cycleID, started, next.Generation, loaded, failed, "resync", nil)
	return nil
}
