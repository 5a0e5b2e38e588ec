package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zoobzio/pulse"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for contents")
	}
	return nil
}

func TestNew_CleansPath(t *testing.T) {
	w := New("/etc/pulse/../pulse/config.yaml")
	if w.path != "/etc/pulse/config.yaml" {
		t.Errorf("expected cleaned path, got %q", w.path)
	}
}

func TestWatcher_EmitsInitialContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	content := []byte("threshold: 3\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := New(path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if data := receive(t, ch); !bytes.Equal(data, content) {
		t.Errorf("expected %q, got %q", content, data)
	}
}

func TestWatcher_NonexistentFile(t *testing.T) {
	if _, err := New("/nonexistent/path/pulse.yaml").Watch(context.Background()); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestWatcher_EmitsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	if err := os.WriteFile(path, []byte("threshold: 3\n"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := New(path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	receive(t, ch)

	updated := []byte("threshold: 5\n")
	if err := os.WriteFile(path, updated, 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if data := receive(t, ch); !bytes.Equal(data, updated) {
		t.Errorf("expected %q, got %q", updated, data)
	}
}

func TestWatcher_EmitsOnAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.yaml")
	if err := os.WriteFile(path, []byte("threshold: 3\n"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := New(path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	receive(t, ch)

	tmp := filepath.Join(dir, ".pulse.yaml.tmp")
	replaced := []byte("threshold: 7\n")
	if err := os.WriteFile(tmp, replaced, 0o600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("failed to rename: %v", err)
	}
	if data := receive(t, ch); !bytes.Equal(data, replaced) {
		t.Errorf("expected %q, got %q", replaced, data)
	}
}

func TestWatcher_DrivesReloader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	if err := os.WriteFile(path, []byte("threshold: 4\nwindow: 5s\n"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tracker, err := pulse.New(pulse.DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tracker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pulse.NewReloader(New(path), tracker).Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := tracker.Config(); got.Threshold != 4 || got.Window != 5*time.Second {
		t.Errorf("expected threshold 4 and window 5s, got %+v", got)
	}
}
