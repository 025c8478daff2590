package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/utils/clock"

	"operatorkit/internal/event"
	"operatorkit/internal/resource"
	"operatorkit/pkg/logging"
)

const defaultDebounce = 200 * time.Millisecond

// Directory watches files that belong to primaries and emits a Generic event
// for a primary whenever its file is created, written, renamed or removed.
//
// Files are laid out as <root>/<namespace>/<name><ext>; files directly under
// root belong to cluster scoped primaries. Bursts of changes to one file are
// debounced into a single event.
type Directory struct {
	name       string
	root       string
	extensions []string
	debounce   time.Duration
	clock      clock.WithDelayedExecution

	mu      sync.Mutex
	pending map[resource.ID]*debounced
	started bool
}

type debounced struct {
	timer clock.Timer
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithExtensions restricts the watched files to the given extensions, tried
// in order by Get. The default is ".yaml" and ".yml".
func WithExtensions(exts ...string) DirectoryOption {
	return func(d *Directory) { d.extensions = exts }
}

// WithDebounce sets how long a file must be quiet before its event is
// emitted.
func WithDebounce(interval time.Duration) DirectoryOption {
	return func(d *Directory) { d.debounce = interval }
}

// WithDirectoryClock replaces the clock used for debouncing.
func WithDirectoryClock(c clock.WithDelayedExecution) DirectoryOption {
	return func(d *Directory) { d.clock = c }
}

// NewDirectory returns a source watching root.
func NewDirectory(name, root string, opts ...DirectoryOption) *Directory {
	d := &Directory{
		name:       name,
		root:       filepath.Clean(root),
		extensions: []string{".yaml", ".yml"},
		debounce:   defaultDebounce,
		clock:      clock.RealClock{},
		pending:    make(map[resource.ID]*debounced),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the name of the source.
func (d *Directory) Name() string { return d.name }

// Root returns the watched directory.
func (d *Directory) Root() string { return d.root }

// Start creates root if needed and watches it and its namespace directories
// until ctx is done.
func (d *Directory) Start(ctx context.Context, handler event.Handler) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("source %s already started", d.name)
	}
	d.started = true
	d.mu.Unlock()

	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("source %s: %w", d.name, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("source %s: failed to create watcher: %w", d.name, err)
	}
	if err := d.watchTree(watcher, d.root); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("source %s: %w", d.name, err)
	}

	go d.run(ctx, watcher, handler)

	logging.Info("Source", "Started directory source %s watching %s", d.name, d.root)
	return nil
}

// Get reads the file of a primary, trying each extension in order.
func (d *Directory) Get(id resource.ID) ([]byte, bool) {
	for _, ext := range d.extensions {
		data, err := os.ReadFile(d.path(id, ext))
		if err == nil {
			return data, true
		}
	}
	return nil, false
}

func (d *Directory) path(id resource.ID, ext string) string {
	if id.IsClusterScoped() {
		return filepath.Join(d.root, id.Name+ext)
	}
	return filepath.Join(d.root, id.Namespace, id.Name+ext)
}

// watchTree adds dir and its direct subdirectories. Namespace directories
// are only one level deep.
func (d *Directory) watchTree(watcher *fsnotify.Watcher, dir string) error {
	if err := watcher.Add(dir); err != nil {
		return err
	}
	if dir != d.root {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			if err := watcher.Add(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Directory) run(ctx context.Context, watcher *fsnotify.Watcher, handler event.Handler) {
	defer func() {
		if err := watcher.Close(); err != nil {
			logging.Warn("Source", "Directory source %s: error closing watcher: %v", d.name, err)
		}
		d.cancelPending()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handle(watcher, ev, handler)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Source", err, "Directory source %s watcher error", d.name)
		}
	}
}

func (d *Directory) handle(watcher *fsnotify.Watcher, ev fsnotify.Event, handler event.Handler) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == d.root {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			d.namespaceCreated(watcher, ev.Name, handler)
			return
		}
	}

	id, ok := d.idFor(ev.Name)
	if !ok {
		return
	}
	d.schedule(id, handler)
}

// namespaceCreated watches a new namespace directory. Files written before
// the watch was added are picked up by a scan.
func (d *Directory) namespaceCreated(watcher *fsnotify.Watcher, dir string, handler event.Handler) {
	if hidden(filepath.Base(dir)) {
		return
	}
	if err := watcher.Add(dir); err != nil {
		logging.Warn("Source", "Directory source %s: failed to watch %s: %v", d.name, dir, err)
		return
	}
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if id, ok := d.idFor(path); ok {
			d.schedule(id, handler)
		}
		return nil
	})
}

// idFor maps a file path to the primary it belongs to.
func (d *Directory) idFor(path string) (resource.ID, bool) {
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		return resource.ID{}, false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) > 2 || parts[0] == ".." {
		return resource.ID{}, false
	}
	for _, p := range parts {
		if hidden(p) {
			return resource.ID{}, false
		}
	}

	file := parts[len(parts)-1]
	name, ok := d.trimExtension(file)
	if !ok || name == "" {
		return resource.ID{}, false
	}
	if len(parts) == 1 {
		return resource.ClusterScoped(name), true
	}
	return resource.New(name, parts[0]), true
}

func (d *Directory) trimExtension(file string) (string, bool) {
	ext := filepath.Ext(file)
	for _, want := range d.extensions {
		if strings.EqualFold(ext, want) {
			return strings.TrimSuffix(file, ext), true
		}
	}
	return "", false
}

// schedule (re)starts the debounce timer of id.
func (d *Directory) schedule(id resource.ID, handler event.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[id]; ok {
		prev.timer.Stop()
	}
	db := &debounced{}
	db.timer = d.clock.AfterFunc(d.debounce, func() {
		go d.emit(id, db, handler)
	})
	d.pending[id] = db
}

func (d *Directory) emit(id resource.ID, db *debounced, handler event.Handler) {
	d.mu.Lock()
	current, ok := d.pending[id]
	if !ok || current != db {
		d.mu.Unlock()
		return
	}
	delete(d.pending, id)
	d.mu.Unlock()

	logging.Debug("Source", "Directory source %s: file of %s changed", d.name, id)
	handler.HandleEvent(event.Event{ID: id, Action: event.Generic})
}

func (d *Directory) cancelPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, db := range d.pending {
		db.timer.Stop()
		delete(d.pending, id)
	}
}

// hidden matches editor swap files and dot directories.
func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}

var _ EventSource = (*Directory)(nil)
