package digeststore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartTicker runs Flush and GC on interval until ctx is cancelled,
// mirroring the teacher's CacheMiddleware.StartPurger: a recovered
// background goroutine whose done channel lets callers synchronize
// shutdown before anything that outlives it (e.g. the process log) is
// torn down.
func (s *Store) StartTicker(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.flushSafely()
				return
			case <-ticker.C:
				s.flushSafely()
			}
		}
	}()
	return done
}

func (s *Store) flushSafely() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("digeststore: recovered from panic")
		}
	}()
	if n := s.GC(); n > 0 {
		log.Debug().Int("evicted", n).Msg("digeststore: gc evicted stale entries")
	}
	if err := s.Flush(); err != nil {
		log.Error().Err(err).Msg("digeststore: flush failed")
	}
}
