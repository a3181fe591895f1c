package ingest_test

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/pkg/ingest"
)

func TestWatcherNotification(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "uploads", "nested"), 0755))

	write := func(rel string) string {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.WriteFile(p, []byte("hello"), 0644))
		return p
	}

	w := ingest.NewWatcher(root, "docs", 0, nil, log.New(io.Discard, "", 0))

	tests := []struct {
		name    string
		path    string
		op      fsnotify.Op
		wantKey string
	}{
		{name: "create", path: write("uploads/a.pdf"), op: fsnotify.Create, wantKey: "uploads/a.pdf"},
		{name: "write nested", path: write("uploads/nested/b.pdf"), op: fsnotify.Write, wantKey: "uploads/nested/b.pdf"},
		{name: "remove", path: filepath.Join(dir, "uploads/gone.pdf"), op: fsnotify.Remove},
		{name: "chmod", path: write("uploads/c.pdf"), op: fsnotify.Chmod},
		{name: "partial upload", path: write("uploads/d.pdf.part"), op: fsnotify.Create},
		{name: "hidden", path: write("uploads/.e.pdf"), op: fsnotify.Create},
		{name: "directory", path: filepath.Join(dir, "uploads", "nested"), op: fsnotify.Create},
		{name: "outside bucket", path: filepath.Join(root, "other.pdf"), op: fsnotify.Create},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := w.Notification(fsnotify.Event{Name: tt.path, Op: tt.op})
			if tt.wantKey == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, "docs", n.Bucket)
			assert.Equal(t, tt.wantKey, n.Key)
			assert.Equal(t, int64(5), n.Size)
		})
	}
}

func TestWatcherRunDebounces(t *testing.T) {
	root := t.TempDir()
	got := make(chan models.Notification, 10)

	w := ingest.NewWatcher(root, "docs", 100*time.Millisecond, func(_ context.Context, n models.Notification) error {
		got <- n
		return nil
	}, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	uploads := filepath.Join(root, "docs", "uploads")
	// Wait for the bucket directory, then give the watcher time to register it.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(root, "docs"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.MkdirAll(uploads, 0755))
	time.Sleep(100 * time.Millisecond)

	p := filepath.Join(uploads, "report.pdf")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(p, []byte("version"), 0644))
	}

	select {
	case n := <-got:
		assert.Equal(t, "uploads/report.pdf", n.Key)
	case <-time.After(3 * time.Second):
		t.Fatal("no notification")
	}

	select {
	case n := <-got:
		t.Fatalf("unexpected second notification for %s", n.Key)
	case <-time.After(300 * time.Millisecond):
	}
}
