package segwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitChanged(t *testing.T, w *Watcher) *Preffile {
	t.Helper()
	done := make(chan struct{ pf *Preffile; err error }, 1)
	go func() {
		pf, err := w.NextChanged()
		done <- struct{ pf *Preffile; err error }{pf, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("NextChanged: %v", r.err)
		}
		return r.pf
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return nil
	}
}

func TestWatcherDetectsAddAndModify(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "segment-%u")

	w, err := New(tmpl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	path := filepath.Join(dir, "segment-7")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	pf := waitChanged(t, w)
	if pf.ID != 7 {
		t.Fatalf("id = %d, want 7", pf.ID)
	}
	if !pf.Flags.Has(Added) {
		t.Fatalf("flags = %v, want Added set", pf.Flags)
	}

	if err := os.WriteFile(path, []byte("hello again"), 0o644); err != nil {
		t.Fatal(err)
	}
	pf2 := waitChanged(t, w)
	if pf2.ID != 7 {
		t.Fatalf("id = %d, want 7", pf2.ID)
	}
	if !pf2.Flags.Has(Modified) {
		t.Fatalf("flags = %v, want Modified set", pf2.Flags)
	}
}

func TestWatcherDetectsRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New(filepath.Join(dir, "segment-%u"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	pf := waitChanged(t, w)
	if !pf.Flags.Has(Removed) {
		t.Fatalf("flags = %v, want Removed set", pf.Flags)
	}
}

func TestWatcherCoalescesEventsBeforeDrain(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "segment-%u"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	path := filepath.Join(dir, "segment-1")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("ab"), 0o644); err != nil {
		t.Fatal(err)
	}

	pf := waitChanged(t, w)
	if !pf.Flags.Has(Added) {
		t.Fatalf("flags = %v, want Added set (coalesced)", pf.Flags)
	}
	if w.IsChanged() {
		t.Fatal("expected dirty queue to be drained after single NextChanged")
	}
}

func TestWatcherRetryReenqueues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-9")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := New(filepath.Join(dir, "segment-%u"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	// Files present at New are not queued; rewrite it so it is, and let
	// the write's events coalesce before draining.
	if err := os.WriteFile(path, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	pf := waitChanged(t, w)
	if w.IsChanged() {
		t.Fatal("queue should be empty before Retry")
	}
	w.Retry(pf, 0)
	if !w.IsChanged() {
		t.Fatal("Retry should re-enqueue the preffile")
	}
	pf2 := waitChanged(t, w)
	if pf2 != pf || !pf2.Flags.Has(Retry) {
		t.Fatalf("expected the same preffile back with Retry set, got %+v", pf2)
	}
}

func TestWatcherRetryHonorsEpochDelay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-9")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := New(filepath.Join(dir, "segment-%u"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	// Files present at New are not queued; rewrite it so it is, and let
	// the write's events coalesce before draining.
	if err := os.WriteFile(path, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	pf := waitChanged(t, w)
	w.Retry(pf, 80*time.Millisecond)

	if w.IsChanged() {
		t.Fatal("a retried preffile should not be eligible before its epoch elapses")
	}

	start := time.Now()
	pf2 := waitChanged(t, w)
	if time.Since(start) < 60*time.Millisecond {
		t.Fatalf("NextChanged returned the retried preffile after only %v, wanted to wait for its epoch", time.Since(start))
	}
	if pf2 != pf || !pf2.Flags.Has(Retry) {
		t.Fatalf("expected the same preffile back with Retry set, got %+v", pf2)
	}
}

func TestWatcherOverflowSignalsRescan(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "segment-1"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "segment-2"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := New(filepath.Join(dir, "segment-%u"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	w.TriggerOverflow()
	_, err = w.NextChanged()
	if err != ErrOverflow {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}

	files := w.Files()
	if len(files) != 2 {
		t.Fatalf("Files() = %d entries, want 2", len(files))
	}
}

func TestWatcherNonNumericSuffixYieldsZeroID(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "segment-%u"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "segment-abc"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	pf := waitChanged(t, w)
	if pf.ID != 0 {
		t.Fatalf("id = %d, want 0 for non-numeric suffix", pf.ID)
	}
}

func TestWatcherNestedWildcardDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "tenant-a"), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := New(filepath.Join(dir, "tenant-*", "segment-%u"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	path := filepath.Join(dir, "tenant-a", "segment-4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	pf := waitChanged(t, w)
	if pf.ID != 4 {
		t.Fatalf("id = %d, want 4", pf.ID)
	}

	if err := os.MkdirAll(filepath.Join(dir, "tenant-b"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond) // let the watcher mount the new tenant dir before we write into it
	path2 := filepath.Join(dir, "tenant-b", "segment-5")
	if err := os.WriteFile(path2, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	pf2 := waitChanged(t, w)
	if pf2.ID != 5 {
		t.Fatalf("id = %d, want 5 (new tenant dir discovered dynamically)", pf2.ID)
	}
}
