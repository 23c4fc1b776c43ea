package play

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestWatcher(t *testing.T, path string, run Runner) *Watcher {
	t.Helper()
	w, err := New(path, run, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond
	t.Cleanup(func() { w.Close() })
	return w
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("prompt = %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for prompt %q", want)
	}
}

func TestWatchRunsInitialPass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	runs := make(chan string, 4)
	w := newTestWatcher(t, path, func(_ context.Context, prompt string) error {
		runs <- prompt
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)

	waitFor(t, runs, "hello")
}

func TestWatchRerunsOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}

	runs := make(chan string, 4)
	w := newTestWatcher(t, path, func(_ context.Context, prompt string) error {
		runs <- prompt
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)
	waitFor(t, runs, "first")

	if err := os.WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, runs, "second")
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.md")
	if err := os.WriteFile(path, []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	runs := make(chan string, 4)
	w := newTestWatcher(t, path, func(_ context.Context, prompt string) error {
		runs <- prompt
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)
	waitFor(t, runs, "mine")

	if err := os.WriteFile(filepath.Join(dir, "other.md"), []byte("noise"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-runs:
		t.Fatalf("unexpected pass for sibling file: %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchSkipsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("  \n\t\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	runs := make(chan string, 4)
	w := newTestWatcher(t, path, func(_ context.Context, prompt string) error {
		runs <- prompt
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)

	select {
	case got := <-runs:
		t.Fatalf("unexpected pass for empty file: %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(t, path, func(context.Context, string) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Watch(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
