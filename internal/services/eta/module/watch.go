package module

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/louisbranch/eta/internal/services/eta/script"
	"github.com/louisbranch/eta/internal/services/eta/view"
)

func (l *Loader) watch() error {
	cfg := l.Config()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range append(append([]string(nil), cfg.Dirs.Controllers...), cfg.Dirs.Views...) {
		if err := addTree(watcher, dir); err != nil {
			log.Printf("warn: watch %s: %v", dir, err)
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				l.handleEvent(watcher, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("module %s watcher: %v", l.name, err)
			}
		}
	}()
	return nil
}

// addTree watches dir and every directory below it.
func addTree(watcher *fsnotify.Watcher, dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *Loader) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	path := filepath.ToSlash(event.Name)
	if event.Has(fsnotify.Create) && watcher != nil {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := addTree(watcher, path); err != nil {
				log.Printf("warn: watch %s: %v", path, err)
			}
			return
		}
	}

	cfg := l.Config()
	if containingDir(cfg.Dirs.Controllers, path) != "" && filepath.Ext(path) == script.Ext {
		l.reloadController(path)
		return
	}
	viewDir := containingDir(cfg.Dirs.Views, path)
	if viewDir == "" {
		return
	}
	switch filepath.Ext(path) {
	case ".json":
		l.loadViewMetadataFile(path, viewDir, true)
		log.Printf("reloaded view metadata: %s", webPath(viewDir, path))
	case view.Ext:
		mvcPath := strings.TrimSuffix(webPath(viewDir, path), view.Ext)
		l.mu.Lock()
		if _, ok := l.viewFiles[mvcPath]; !ok {
			l.viewFiles[mvcPath] = path
		}
		l.mu.Unlock()
		l.emitView(path)
	}
}

func containingDir(dirs []string, path string) string {
	for _, dir := range dirs {
		rel, err := filepath.Rel(dir, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			return dir
		}
	}
	return ""
}

// Close stops the watchers.
func (l *Loader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.RLock()
		watcher := l.watcher
		l.mu.RUnlock()
		if watcher != nil {
			err = watcher.Close()
		}
		l.wg.Wait()
	})
	return err
}
