package confdispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/allaspects/confplane/internal/confreg"
	"github.com/allaspects/confplane/internal/demotype"
)

func TestLoadSimpleModule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter")
	if err := os.WriteFile(path, []byte("42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := New()
	if err := d.RegisterSimple("counter", path, 0, demotype.CounterType{}); err != nil {
		t.Fatalf("RegisterSimple: %v", err)
	}
	if err := d.LoadSimple("counter"); err != nil {
		t.Fatalf("LoadSimple: %v", err)
	}

	cs, ok := d.Confset("counter")
	if !ok {
		t.Fatal("missing confset for registered module")
	}
	snap := cs.Acquire()
	defer cs.Release(snap)
	if snap.Generation != 1 {
		t.Fatalf("generation = %d, want 1", snap.Generation)
	}
	counter := snap.Conf.(*demotype.Counter)
	if counter.Value != 42 {
		t.Fatalf("value = %d, want 42", counter.Value)
	}
}

func TestLoadSimpleModuleFailureWithNoLastGoodFailsOutright(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter")
	os.WriteFile(path, []byte("not-a-number\n"), 0o644)

	d := New()
	if err := d.RegisterSimple("counter", path, 0, demotype.CounterType{}); err != nil {
		t.Fatal(err)
	}
	if err := d.LoadSimple("counter"); err == nil {
		t.Fatal("expected the malformed first load to fail outright: no last-good sidecar exists yet")
	}

	cs, _ := d.Confset("counter")
	snap := cs.Acquire()
	defer cs.Release(snap)
	if snap.Generation != 0 {
		t.Fatalf("generation = %d, want 0 (failed reload must not publish)", snap.Generation)
	}
}

func TestLoadSimpleModuleRecoversFromLastGoodOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter")
	os.WriteFile(path, []byte("7\n"), 0o644)

	d := New()
	d.RegisterSimple("counter", path, 0, demotype.CounterType{})
	if err := d.LoadSimple("counter"); err != nil {
		t.Fatal(err)
	}

	// This write corrupts the primary but the ".last-good" sidecar from
	// the successful load above still holds "7\n".
	os.WriteFile(path, []byte("not-a-number\n"), 0o644)
	if err := d.LoadSimple("counter"); err != nil {
		t.Fatalf("expected the reload to recover from last-good, got error: %v", err)
	}

	cs, _ := d.Confset("counter")
	snap := cs.Acquire()
	defer cs.Release(snap)
	if snap.Generation != 2 {
		t.Fatalf("generation = %d, want 2 (recovered load still publishes a new generation)", snap.Generation)
	}
	if snap.Conf.(*demotype.Counter).Value != 7 {
		t.Fatal("expected the last-good value to survive a corrupted primary reload")
	}

	info, ok := d.Registry().Get("counter")
	if !ok {
		t.Fatal("missing registered info for counter")
	}
	if !info.FailedLoad() {
		t.Fatal("expected FailedLoad true after a last-good recovery")
	}
}

func TestSegmentedModuleDrainAndPublish(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "tenant-1"), []byte("acme\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "tenant-2"), []byte("globex\n"), 0o644)

	d := New()
	if err := d.RegisterSegmented("tenant", filepath.Join(dir, "tenant-%u"), confreg.SkipEmpty, demotype.TenantType{}); err != nil {
		t.Fatalf("RegisterSegmented: %v", err)
	}
	defer d.Close()

	cs, ok := d.Confset("tenant")
	if !ok {
		t.Fatal("missing confset for registered module")
	}
	snap := cs.Acquire()
	if len(snap.Segments) != 2 {
		cs.Release(snap)
		t.Fatalf("segments = %d, want 2 from the initial resync", len(snap.Segments))
	}
	if snap.Segments[1].Conf.(*demotype.Tenant).Name != "acme" {
		t.Fatalf("tenant 1 = %+v, want acme", snap.Segments[1].Conf)
	}
	cs.Release(snap)

	os.WriteFile(filepath.Join(dir, "tenant-3"), []byte("initech\n"), 0o644)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := cs.Acquire()
		n := len(snap.Segments)
		cs.Release(snap)
		if n == 3 {
			break
		}
		d.DrainOnce("tenant")
		time.Sleep(20 * time.Millisecond)
	}

	snap2 := cs.Acquire()
	defer cs.Release(snap2)
	if len(snap2.Segments) != 3 {
		t.Fatalf("segments = %d, want 3 after adding tenant-3", len(snap2.Segments))
	}
}

func TestSegmentedModuleRecoversExistingSegmentFromLastGood(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "tenant-1"), []byte("acme\n"), 0o644)

	d := New()
	if err := d.RegisterSegmented("tenant", filepath.Join(dir, "tenant-%u"), confreg.SkipEmpty, demotype.TenantType{}); err != nil {
		t.Fatalf("RegisterSegmented: %v", err)
	}
	defer d.Close()

	cs, _ := d.Confset("tenant")
	// The initial resync's successful load of tenant-1 left a last-good
	// sidecar on disk holding "acme\n".
	if _, err := os.Stat(filepath.Join(dir, "tenant-1.last-good")); err != nil {
		t.Fatalf("expected a last-good sidecar after the initial load: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "tenant-1"), []byte(""), 0o644)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := cs.Acquire()
		seg, ok := snap.Segments[1]
		failed := ok && seg.FailedLoad
		cs.Release(snap)
		if failed {
			break
		}
		d.DrainOnce("tenant")
		time.Sleep(20 * time.Millisecond)
	}

	snap := cs.Acquire()
	defer cs.Release(snap)
	seg, ok := snap.Segments[1]
	if !ok {
		t.Fatal("expected tenant 1 to survive a corrupted primary via last-good recovery")
	}
	if !seg.FailedLoad {
		t.Fatal("expected FailedLoad true after a last-good recovery")
	}
	if seg.Conf.(*demotype.Tenant).Name != "acme" {
		t.Fatalf("tenant 1 = %+v, want the last-good value acme", seg.Conf)
	}
}

func TestSegmentedModuleRecoversNewSegmentFromPreexistingLastGood(t *testing.T) {
	dir := t.TempDir()
	// Simulate a sidecar left behind by an earlier process run, with no
	// in-memory entry for id 9 yet in this process.
	os.WriteFile(filepath.Join(dir, "tenant-9.last-good"), []byte("initech\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "tenant-9"), []byte(""), 0o644)

	d := New()
	if err := d.RegisterSegmented("tenant", filepath.Join(dir, "tenant-%u"), confreg.SkipEmpty, demotype.TenantType{}); err != nil {
		t.Fatalf("RegisterSegmented: %v", err)
	}
	defer d.Close()

	cs, _ := d.Confset("tenant")
	snap := cs.Acquire()
	defer cs.Release(snap)
	seg, ok := snap.Segments[9]
	if !ok {
		t.Fatal("expected the new segment to be recovered from its preexisting last-good sidecar, not dropped")
	}
	if !seg.FailedLoad {
		t.Fatal("expected FailedLoad true for a segment recovered via last-good")
	}
	if seg.Conf.(*demotype.Tenant).Name != "initech" {
		t.Fatalf("tenant 9 = %+v, want the last-good value initech", seg.Conf)
	}
}
