package digeststore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/allaspects/confplane/internal/confcore"
)

func TestFlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "digests.json")

	s, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Update("urlprefs:7", confcore.Digest{0x01, 0x02})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	d, ok := reopened.Lookup("urlprefs:7")
	if !ok {
		t.Fatal("expected the flushed entry to survive a reopen")
	}
	if d.String() == (confcore.Digest{}).String() {
		t.Fatal("digest round-tripped as zero")
	}
}

func TestGCRemovesStaleEntries(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "digests.json"), time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	s.Update("a", confcore.Digest{0xFF})
	time.Sleep(5 * time.Millisecond)
	if n := s.GC(); n != 1 {
		t.Fatalf("GC removed %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "does-not-exist.json"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}
