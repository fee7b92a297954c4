// Package digeststore is a flat JSON file mapping keys to content
// digests, kept across daemon restarts (spec.md §4.7), with a periodic
// flush and GC ticker. The daemon opens it and runs its ticker, but the
// reload path does not call Update or Lookup: digests recorded by
// confreg and confset are not written to it, and a restarted process
// re-reads every segment file whatever the store holds.
package digeststore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/allaspects/confplane/internal/confcore"
)

// Record is one tracked key's last-known digest and when it was last
// updated, used by GC to decide whether an entry is stale.
type Record struct {
	Digest    confcore.Digest `json:"digest"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the in-memory table backing one digest-store file on disk.
type Store struct {
	path  string
	gcAge time.Duration

	mu      sync.Mutex
	records map[string]Record
}

// Open loads path if it exists (a missing file is not an error — the
// store starts empty, as on a first-ever run).
func Open(path string, gcAge time.Duration) (*Store, error) {
	s := &Store{path: path, gcAge: gcAge, records: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, confcore.NewError(confcore.ErrIO, path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, confcore.NewError(confcore.ErrParse, path, fmt.Errorf("decoding digest store: %w", err))
	}
	return s, nil
}

// Update records digest for key, stamped with the current time.
func (s *Store) Update(key string, digest confcore.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = Record{Digest: digest, UpdatedAt: time.Now()}
}

// Lookup returns the last recorded digest for key, if any.
func (s *Store) Lookup(key string) (confcore.Digest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return r.Digest, ok
}

// GC removes every entry whose UpdatedAt is older than gcAge, returning
// the number of entries removed. A key that is no longer being touched
// by Update (because its segment was removed) ages out this way without
// needing an explicit delete call from the reload path.
func (s *Store) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gcAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-s.gcAge)
	removed := 0
	for k, r := range s.records {
		if r.UpdatedAt.Before(cutoff) {
			delete(s.records, k)
			removed++
		}
	}
	return removed
}

// Flush atomically writes the store to path via a temp file + rename,
// matching the last-good sidecar publication discipline used by
// internal/confio for segment data files.
func (s *Store) Flush() error {
	s.mu.Lock()
	data, err := json.Marshal(s.records)
	s.mu.Unlock()
	if err != nil {
		return confcore.NewError(confcore.ErrIO, s.path, fmt.Errorf("encoding digest store: %w", err))
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return confcore.NewError(confcore.ErrIO, s.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return confcore.NewError(confcore.ErrIO, s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return confcore.NewError(confcore.ErrIO, s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return confcore.NewError(confcore.ErrIO, s.path, err)
	}
	return nil
}

// Len reports the number of tracked entries, mostly for tests and
// metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
