package confdispatch

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspects/confplane/internal/confio"
)

func loadSimpleOnce(m *moduleEntry) error {
	started := time.Now()
	cycleID := newCycleID()
	_, endSpan := startReloadSpan(m.name, cycleID)

	conf, fromLastGood, err := allocateSimple(m)
	if err != nil {
		log.Warn().Err(err).Str("module", m.name).Msg("allocate failed, keeping previous generation")
		endSpan(m.confset.Generation(), 0, 1)
		recordReload(m, cycleID, started, m.confset.Generation(), 0, 1, "watch", err)
		return err
	}

	prev := m.confset.Acquire()
	next := prev.Clone()
	next.Generation = prev.Generation + 1
	next.Conf = conf
	m.confset.Release(prev)
	m.confset.Publish(next)

	if fromLastGood {
		log.Warn().Str("module", m.name).Uint64("generation", next.Generation).Msg("primary load failed, recovered module from last-good sidecar")
	} else {
		log.Info().Str("module", m.name).Uint64("generation", next.Generation).Msg("segment loaded")
	}
	endSpan(next.Generation, 1, 0)
	recordReload(m, cycleID, started, next.Generation, 1, 0, "watch", nil)
	return nil
}

// allocateSimple runs the type's Allocate against the module's primary
// file, falling back to re-running it against the ".last-good" sidecar
// (spec.md §4.5 step 2 / §4.6) when the primary open or parse fails. It
// reports whether the returned conf came from the fallback so the caller
// can log and flag accordingly; either way info.FailedLoad() reflects
// whether the primary attempt succeeded.
func allocateSimple(m *moduleEntry) (any, bool, error) {
	l, err := confio.Open(m.info.Path, m.info, m.info.LoadFlags)
	if err != nil {
		return recoverSimpleFromLastGood(m, err)
	}

	conf, allocErr := m.simple.Allocate(m.info, l)
	if allocErr != nil {
		l.Done(false)
		return recoverSimpleFromLastGood(m, allocErr)
	}
	if err := l.Done(true); err != nil {
		return recoverSimpleFromLastGood(m, err)
	}
	return conf, false, nil
}

// recoverSimpleFromLastGood re-parses the sidecar shadow copy left by the
// last successful load. On success the module survives on the recovered
// conf but is flagged FailedLoad so the admin API and metrics still
// surface the primary failure; on any fallback error the original
// primaryErr is returned unchanged so the caller's generation stays put.
func recoverSimpleFromLastGood(m *moduleEntry, primaryErr error) (any, bool, error) {
	l, err := confio.OpenLastGood(m.info.Path, m.info, m.info.LoadFlags)
	if err != nil {
		m.info.MarkFailed()
		return nil, false, primaryErr
	}
	conf, allocErr := m.simple.Allocate(m.info, l)
	if allocErr != nil {
		l.Done(false)
		m.info.MarkFailed()
		return nil, false, primaryErr
	}
	if err := l.Done(true); err != nil {
		m.info.MarkFailed()
		return nil, false, primaryErr
	}
	m.info.MarkFailed()
	return conf, true, nil
}
