package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize workflow watcher")

// Watcher reloads the status document whenever it changes on disk, so hand
// edits to status.yaml are picked up by long-running commands.
//
// fsnotify watches the real filesystem; the store passed in must be backed
// by afero.OsFs for events to fire.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	states  chan *State
	errs    chan error
	stop    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

// NewWatcher creates a watcher for the store's status document.
func NewWatcher(store *Store, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		store:   store,
		watcher: w,
		states:  make(chan *State, 4),
		errs:    make(chan error, 4),
		stop:    make(chan struct{}),
		logger:  logger.Named("workflow-watcher"),
	}, nil
}

// Start watches the status directory until ctx is done or Stop is called.
// The directory must already exist.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	go w.loop(ctx)
	return nil
}

// States delivers each successfully reloaded document.
func (w *Watcher) States() <-chan *State { return w.states }

// Errors delivers reload and watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Stop releases the underlying watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.states)
	defer close(w.errs)

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			w.Stop()
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			st, err := w.store.Load()
			if err != nil {
				w.logger.Debug("reload failed", zap.Error(err))
				w.send(ctx, nil, err)
				continue
			}
			w.send(ctx, st, nil)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.send(ctx, nil, err)
		}
	}
}

func (w *Watcher) send(ctx context.Context, st *State, err error) {
	if err != nil {
		select {
		case w.errs <- err:
		case <-ctx.Done():
		case <-w.stop:
		}
		return
	}
	select {
	case w.states <- st:
	case <-ctx.Done():
	case <-w.stop:
	}
}
