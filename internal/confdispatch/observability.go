package confdispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/allaspects/confplane/internal/reloadhistory"
	"github.com/allaspects/confplane/internal/tracing"
)

// newCycleID mints the correlation id threaded through one Load() cycle's
// log lines, trace span, and reload-history row, adapted from the
// teacher's per-request id pattern.
func newCycleID() string { return uuid.NewString() }

// recordReload reports one completed reload cycle to whichever
// observability sinks are configured. It never returns an error: a
// metrics or history-store failure must not fail the reload itself.
func recordReload(m *moduleEntry, cycleID string, started time.Time, generation uint64, loaded, failed int, trigger string, cycleErr error) {
	dur := time.Since(started)

	if m.d.Metrics != nil {
		m.d.Metrics.SetGeneration(m.name, generation)
		m.d.Metrics.SetSegmentCounts(m.name, loaded, failed)
		m.d.Metrics.RecordReload(m.name, cycleErr == nil, dur)
	}

	if m.d.History != nil {
		err := m.d.History.RecordReload(&reloadhistory.ReloadEvent{
			CycleID:        cycleID,
			Module:         m.name,
			Generation:     generation,
			StartedAt:      started.UTC().Format(time.RFC3339Nano),
			DurationMs:     dur.Milliseconds(),
			SegmentsLoaded: loaded,
			SegmentsFailed: failed,
			Trigger:        trigger,
		})
		if err != nil {
			log.Error().Err(err).Str("module", m.name).Msg("recording reload event failed")
		}
	}
}

// recordSegmentFailure reports one segment's allocate failure to the
// reload-history store, if configured.
func recordSegmentFailure(m *moduleEntry, cycleID string, segmentID uint32, path string, cause error) {
	if m.d.History == nil {
		return
	}
	err := m.d.History.RecordSegmentFailure(&reloadhistory.SegmentFailure{
		CycleID:   cycleID,
		Module:    m.name,
		SegmentID: segmentID,
		Path:      path,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Reason:    cause.Error(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", m.name).Msg("recording segment failure failed")
	}
}

// startReloadSpan starts a tracing span for one reload cycle. Tracing is
// opt-in globally (tracing.Init is only called when config enables it),
// so this is safe to call unconditionally: with no tracer configured,
// the OpenTelemetry SDK's no-op tracer is used and span creation is
// nearly free.
func startReloadSpan(module, cycleID string) (context.Context, func(generation uint64, loaded, failed int)) {
	ctx, span := tracing.StartReloadSpan(context.Background(), module, cycleID)
	return ctx, func(generation uint64, loaded, failed int) {
		tracing.SetReloadAttributes(ctx, generation, loaded, failed)
		span.End()
	}
}

// traceSegmentAllocate wraps one segment's Allocate call in a child span
// of the enclosing reload span, recording the error (if any) before the
// span ends.
func traceSegmentAllocate(ctx context.Context, module string, segmentID uint32, path string, fn func() error) error {
	_, span := tracing.StartSegmentAllocateSpan(ctx, module, segmentID, path)
	defer span.End()
	err := fn()
	if err != nil {
		span.RecordError(err)
	}
	return err
}
