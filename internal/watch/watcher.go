// Package watch turns CSV files dropped into a folder into uploads.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"riskdash/internal/logger"
)

// DefaultSettle is how long a file must stay unchanged before it is uploaded.
const DefaultSettle = 500 * time.Millisecond

// Uploader receives the files to upload.
type Uploader interface {
	SelectFile(path string) error
	TriggerUpload() error
}

// Watcher watches one directory for new .csv files.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	settle  time.Duration
}

// New starts watching dir. A settle of zero uses DefaultSettle.
func New(dir string, settle time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{watcher: w, dir: dir, settle: settle}, nil
}

// Run uploads every CSV file that is created or written in the directory,
// once it has settled, until ctx is done.
func (w *Watcher) Run(ctx context.Context, target Uploader) error {
	logger.Infof("Watching %s for CSV drops", w.dir)
	d := newDebouncer(w.settle, ctx.Done())
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isCSV(event.Name) || (!event.Has(fsnotify.Create) && !event.Has(fsnotify.Write)) {
				continue
			}
			d.touch(event.Name)

		case s := <-d.ready:
			if !d.take(s) {
				continue
			}
			logger.Infof("New drop %s, uploading", s.path)
			if err := target.SelectFile(s.path); err != nil {
				logger.Warnf("Failed to select %s: %v", s.path, err)
				continue
			}
			if err := target.TriggerUpload(); err != nil {
				logger.Warnf("Failed to upload %s: %v", s.path, err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("File monitoring error: %v", err)
		}
	}
}

// settled reports that a path has been quiet for the settle delay since its
// seq-th change.
type settled struct {
	path string
	seq  uint64
}

type pendingFile struct {
	timer *time.Timer
	seq   uint64
}

// debouncer delays each path until it stops changing. Only the timer of the
// latest change of a path counts; a fire that was already queued when a newer
// change arrived is discarded by take.
type debouncer struct {
	settle  time.Duration
	ready   chan settled
	done    <-chan struct{}
	pending map[string]*pendingFile
}

func newDebouncer(settle time.Duration, done <-chan struct{}) *debouncer {
	return &debouncer{
		settle:  settle,
		ready:   make(chan settled, 16),
		done:    done,
		pending: make(map[string]*pendingFile),
	}
}

func (d *debouncer) touch(path string) {
	p, ok := d.pending[path]
	if ok {
		p.timer.Stop()
	} else {
		p = &pendingFile{}
		d.pending[path] = p
	}
	p.seq++
	s := settled{path: path, seq: p.seq}
	p.timer = time.AfterFunc(d.settle, func() {
		select {
		case d.ready <- s:
		case <-d.done:
		}
	})
}

// take reports whether s is the latest change of its path and forgets the
// path if so.
func (d *debouncer) take(s settled) bool {
	p, ok := d.pending[s.path]
	if !ok || p.seq != s.seq {
		return false
	}
	delete(d.pending, s.path)
	return true
}

func (d *debouncer) stop() {
	for _, p := range d.pending {
		p.timer.Stop()
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func isCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}
