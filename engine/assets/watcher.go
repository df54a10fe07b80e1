package assets

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/residency"
)

// ReloadFunc is invoked on the watcher goroutine when an asset file changes
// on disk. The renderer's callback retires the texture and requests a fresh
// upload; both are idempotent, so duplicate events are harmless.
type ReloadFunc func(id residency.AssetID)

// Watcher maps filesystem events in the asset directory back to asset ids.
type Watcher struct {
	provider *DirProvider
	reload   ReloadFunc
	fw       *fsnotify.Watcher
	done     chan struct{}
}

// Watch starts watching the provider's directory. Close stops it.
func Watch(provider *DirProvider, reload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(provider.root); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		provider: provider,
		reload:   reload,
		fw:       fw,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.handle(event.Name)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			core.LogWarn("assets: watcher error: %v", err)
		}
	}
}

// handle resolves a changed path to an asset id and fires the reload
// callback. Paths that never mapped to an asset (editor temp files, unknown
// extensions) are ignored.
func (w *Watcher) handle(path string) {
	id, ok := w.provider.Lookup(filepath.Base(path))
	if !ok {
		return
	}
	core.LogInfo("assets: %s changed on disk, reloading asset %d", filepath.Base(path), id)
	w.reload(id)
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}
