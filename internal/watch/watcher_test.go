package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestWatcherDetectsNewFile(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher(dir, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Give the watcher time to start.
	time.Sleep(100 * time.Millisecond)

	// Write atomically: tmp file then rename, the way producers should.
	path := filepath.Join(dir, "d-001.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(`{"kind":"approval"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	// Wait for debounce + processing.
	time.Sleep(500 * time.Millisecond)
	cancel()

	got := rec.got()
	if len(got) != 1 || got[0] != path {
		t.Fatalf("expected [%s], got %v", path, got)
	}
}

func TestWatcherIgnoresTmpFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher(dir, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	tmp := filepath.Join(dir, "d-002.json.tmp")
	if err := os.WriteFile(tmp, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	cancel()

	if got := rec.got(); len(got) != 0 {
		t.Errorf("partial writes must be ignored, got %v", got)
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	w := NewWatcher(t.TempDir(), func(string) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancellation")
	}
}

func TestPollWatcherDetectsWithoutDuplicates(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewPollWatcher(dir, rec.handle, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	path := filepath.Join(dir, "d-003.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	// Several poll intervals pass; the file must be seen exactly once.
	time.Sleep(200 * time.Millisecond)
	cancel()

	if got := rec.got(); len(got) != 1 || got[0] != path {
		t.Fatalf("expected [%s] once, got %v", path, got)
	}
}

func TestScanExisting(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "d-004.json")
	skip := filepath.Join(dir, "d-005.json.tmp")
	_ = os.WriteFile(keep, []byte(`{}`), 0o600)
	_ = os.WriteFile(skip, []byte(`{}`), 0o600)
	_ = os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	rec := &recorder{}
	if err := ScanExisting(dir, rec.handle); err != nil {
		t.Fatal(err)
	}
	if got := rec.got(); len(got) != 1 || got[0] != keep {
		t.Fatalf("expected [%s], got %v", keep, got)
	}

	// A missing directory is not an error: decisions are optional.
	if err := ScanExisting(filepath.Join(dir, "absent"), rec.handle); err != nil {
		t.Fatal(err)
	}
}

func TestIsDecisionFile(t *testing.T) {
	cases := map[string]bool{
		"/tmp/decisions/a.json":     true,
		"/tmp/decisions/a.json.tmp": false,
		"/tmp/decisions/a.yaml":     false,
		"a.json":                    true,
	}
	for path, want := range cases {
		if got := isDecisionFile(path); got != want {
			t.Errorf("isDecisionFile(%q) = %v, want %v", path, got, want)
		}
	}
}
