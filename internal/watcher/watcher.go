// Package watcher turns filesystem activity under the configured document
// directories into ingestion and removal requests.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler receives the requests the watcher produces. *indexer.Scheduler satisfies it.
type Handler interface {
	Submit(path string) error
	Remove(path string) error
}

// Watcher watches document roots with fsnotify, debounces bursts of writes
// and periodically rescans to catch events the OS dropped.
type Watcher struct {
	roots        []*root
	initial      []string
	extensions   []string
	recursive    bool
	handler      Handler
	debounce     time.Duration
	scanInterval time.Duration
	knownFiles   func() []string
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	pending      map[string]*time.Timer
	done         chan struct{}
	started      bool
	stopOnce     sync.Once
	logger       *zap.Logger
}

// root is one configured directory plus every directory fsnotify watches for it.
type root struct {
	path    string
	watched []string
}

// covers reports whether path is the root itself or lies beneath it.
func (r *root) covers(path string) bool {
	rel, err := filepath.Rel(r.path, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must be quiet before it is submitted.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithScanInterval enables a full rescan of every root at the given interval.
func WithScanInterval(d time.Duration) Option {
	return func(w *Watcher) { w.scanInterval = d }
}

// WithKnownFiles supplies the paths already indexed so a rescan can remove
// files whose delete event was missed.
func WithKnownFiles(fn func() []string) Option {
	return func(w *Watcher) { w.knownFiles = fn }
}

// New creates a watcher over roots. extensions filters file names; empty means every file.
func New(roots []string, extensions []string, recursive bool, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		initial:    append([]string(nil), roots...),
		extensions: extensions,
		recursive:  recursive,
		handler:    handler,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. Missing roots are created. The watcher runs until
// ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.started = true
	w.roots = w.roots[:0]
	for _, dir := range w.initial {
		if err := w.attachLocked(dir); err != nil {
			_ = fw.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.logger.Info("watching document directories",
		zap.Strings("roots", w.pathsLocked()),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	events, errs := fw.Events, fw.Errors
	w.mu.Unlock()
	go w.run(ctx, events, errs)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	var tick <-chan time.Time
	if w.scanInterval > 0 {
		ticker := time.NewTicker(w.scanInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		case <-tick:
			w.Rescan()
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matchExtension(path) {
			w.debounceSubmit(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		if w.matchExtension(path) {
			w.remove(path)
		}
	}
}

// handleNewDirectory starts watching a directory created or moved under a
// root and submits the files already inside it.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.mu.Lock()
	recursive := w.recursive
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}

	add := func(p string) {
		if err := fw.Add(p); err != nil {
			w.logger.Warn("failed to watch directory", zap.String("path", p), zap.Error(err))
		}
	}
	if recursive {
		_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				add(p)
			}
			return nil
		})
	} else {
		add(dirPath)
	}
	w.syncDirectory(dirPath)
}

func (w *Watcher) underRoot(path string) bool {
	clean := filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if r.covers(clean) {
			return true
		}
	}
	return false
}

// find returns the index of the root at the cleaned absolute path, or -1.
func (w *Watcher) find(abs string) int {
	for i, r := range w.roots {
		if r.path == abs {
			return i
		}
	}
	return -1
}

func (w *Watcher) pathsLocked() []string {
	out := make([]string, len(w.roots))
	for i, r := range w.roots {
		out[i] = r.path
	}
	return out
}

func (w *Watcher) matchExtension(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) debounceSubmit(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.submit(path)
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) submit(path string) {
	if w.handler == nil {
		return
	}
	if err := w.handler.Submit(path); err != nil {
		w.logger.Warn("failed to submit file", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) remove(path string) {
	if w.handler == nil {
		return
	}
	if err := w.handler.Remove(path); err != nil {
		w.logger.Warn("failed to remove file", zap.String("path", path), zap.Error(err))
	}
}

// AddDirectory adds a root while running and optionally submits its existing files.
func (w *Watcher) AddDirectory(dir string, syncExisting bool) error {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return nil
	}
	before := len(w.roots)
	if err := w.attachLocked(dir); err != nil {
		w.mu.Unlock()
		return err
	}
	if len(w.roots) == before {
		w.mu.Unlock()
		return nil
	}
	added := w.roots[len(w.roots)-1].path
	w.mu.Unlock()

	w.logger.Info("directory added", zap.String("path", added))
	if syncExisting {
		go w.syncDirectory(added)
	}
	return nil
}

// attachLocked creates dir if needed, watches it (and its subdirectories
// when recursive) and records it as a root. Already watched roots are a no-op.
func (w *Watcher) attachLocked(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	if w.find(abs) >= 0 {
		return nil
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return err
	}

	r := &root{path: abs}
	watch := func(p string) error {
		if err := w.watcher.Add(p); err != nil {
			return err
		}
		r.watched = append(r.watched, p)
		return nil
	}
	if !w.recursive {
		err = watch(abs)
	} else {
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			return watch(p)
		})
	}
	if err != nil {
		for _, p := range r.watched {
			_ = w.watcher.Remove(p)
		}
		return err
	}
	w.roots = append(w.roots, r)
	return nil
}

// syncDirectory submits every matching file under dir.
func (w *Watcher) syncDirectory(dir string) int {
	w.mu.Lock()
	exts := append([]string(nil), w.extensions...)
	recursive := w.recursive
	w.mu.Unlock()

	n := 0
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !recursive && p != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && matchExtension(p, exts) {
			w.submit(p)
			n++
		}
		return nil
	})
	return n
}

// RemoveDirectory stops watching dir. Documents already indexed from it stay indexed.
func (w *Watcher) RemoveDirectory(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	idx := w.find(abs)
	if idx < 0 {
		return nil
	}
	for _, p := range w.roots[idx].watched {
		_ = w.watcher.Remove(p)
	}
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("directory removed", zap.String("path", abs))
	return nil
}

// Directories returns the watched roots. Before Start it returns the
// directories the watcher was created with.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return append([]string(nil), w.initial...)
	}
	return w.pathsLocked()
}

// SyncExistingFiles submits every matching file already present under the
// roots and returns how many were submitted.
func (w *Watcher) SyncExistingFiles() int {
	n := 0
	for _, root := range w.Directories() {
		n += w.syncDirectory(root)
	}
	return n
}

// Rescan resubmits every matching file and removes known files that no longer
// exist. Unchanged files are skipped cheaply by the indexer.
func (w *Watcher) Rescan() {
	submitted := w.SyncExistingFiles()
	removed := 0
	if w.knownFiles != nil {
		for _, p := range w.knownFiles() {
			if !w.underRoot(p) {
				continue
			}
			if _, err := os.Stat(p); os.IsNotExist(err) {
				w.remove(p)
				removed++
			}
		}
	}
	w.logger.Debug("rescan finished", zap.Int("submitted", submitted), zap.Int("removed", removed))
}

// Stop stops watching and cancels pending debounced submissions.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
