package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/xhad/docrag/internal/models"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher turns file events under <root>/<bucket> into notifications.
// Repeated events for the same key are coalesced until the file has been
// quiet for the debounce interval.
type Watcher struct {
	dir      string
	bucket   string
	debounce time.Duration
	handle   func(context.Context, models.Notification) error
	logger   *log.Logger
}

func NewWatcher(root, bucket string, debounce time.Duration, handle func(context.Context, models.Notification) error, logger *log.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		dir:      filepath.Join(root, bucket),
		bucket:   bucket,
		debounce: debounce,
		handle:   handle,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled. Handler errors are logged and do not
// stop the watch.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create bucket directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.dir); err != nil {
		return err
	}
	w.logger.Printf("watching %s", w.dir)

	d := newDebouncer(w.debounce)
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch error: %v", err)

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, event.Name); err != nil {
						w.logger.Printf("watch %s: %v", event.Name, err)
					}
					continue
				}
			}
			n, ok := w.Notification(event)
			if !ok {
				continue
			}
			d.add(n)

		case n := <-d.fire:
			d.fired(n)
			if err := w.handle(ctx, n); err != nil {
				w.logger.Printf("watch %s/%s: %v", n.Bucket, n.Key, err)
			}
		}
	}
}

// Notification maps a file event to the object it touched. Removals,
// permission changes, directories, hidden files and partial uploads are
// not notifications.
func (w *Watcher) Notification(event fsnotify.Event) (models.Notification, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return models.Notification{}, false
	}
	if strings.HasSuffix(event.Name, ".part") || strings.HasPrefix(filepath.Base(event.Name), ".") {
		return models.Notification{}, false
	}

	rel, err := filepath.Rel(w.dir, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return models.Notification{}, false
	}

	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return models.Notification{}, false
	}

	return models.Notification{
		Bucket: w.bucket,
		Key:    filepath.ToSlash(rel),
		Size:   info.Size(),
	}, true
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// debouncer delays each notification until its key has been quiet for
// delay, then delivers it on fire. Only the goroutine reading fire may
// call add, fired and stop.
type debouncer struct {
	delay   time.Duration
	fire    chan models.Notification
	done    chan struct{}
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:   delay,
		fire:    make(chan models.Notification),
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}
}

func (d *debouncer) add(n models.Notification) {
	if t, ok := d.pending[n.Key]; ok && t.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	d.pending[n.Key] = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		select {
		case d.fire <- n:
		case <-d.done:
		}
	})
}

func (d *debouncer) fired(n models.Notification) {
	delete(d.pending, n.Key)
}

// stop cancels pending timers and waits for callbacks already running.
func (d *debouncer) stop() {
	for key, t := range d.pending {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.pending, key)
	}
	close(d.done)
	d.wg.Wait()
}
