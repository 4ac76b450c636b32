package resource

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/scenesync/scenesync/internal/core/log"
)

// SetAutoReloadResources toggles the directory watcher. While enabled, a
// write under any resource directory reloads the cached resource of the
// same name in every type that holds it. Reloads run on the watcher
// goroutine and replace content in place; see ReloadResource for the
// coordination contract.
func (c *Cache) SetAutoReloadResources(enable bool) error {
	c.mu.Lock()
	if enable == c.autoReload {
		c.mu.Unlock()
		return nil
	}

	if !enable {
		w := c.watcher
		done := c.watchDone
		c.watcher = nil
		c.watchDone = nil
		c.autoReload = false
		c.mu.Unlock()
		if w != nil {
			_ = w.Close()
			<-done
		}
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	dirs := make([]dirEntry, len(c.dirs))
	copy(dirs, c.dirs)
	done := make(chan struct{})
	c.watcher = w
	c.watchDone = done
	c.autoReload = true
	c.mu.Unlock()

	for _, d := range dirs {
		c.watchTree(w, d.path)
	}
	go c.watchLoop(w, done)
	c.logger.Info("resource auto reload enabled", log.Int("dirs", len(dirs)))
	return nil
}

// AutoReloadResources reports whether the watcher is running.
func (c *Cache) AutoReloadResources() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoReload
}

// watchTree registers dir and all its subdirectories with the watcher.
// fsnotify does not watch recursively on its own.
func (c *Cache) watchTree(w *fsnotify.Watcher, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				c.logger.Warn("resource watch failed", log.String("dir", path), log.Error(addErr))
			}
		}
		return nil
	})
}

func (c *Cache) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			c.handleFileEvent(w, event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.logger.Warn("resource watcher error", log.Error(err))
		}
	}
}

func (c *Cache) handleFileEvent(w *fsnotify.Watcher, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			c.watchTree(w, event.Name)
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	name, ok := c.resourceName(event.Name)
	if !ok {
		return
	}
	c.reloadLoaded(name)
}

// resourceName maps an absolute file path back to a resource name relative
// to the first registered directory containing it.
func (c *Cache) resourceName(path string) (string, bool) {
	c.mu.Lock()
	dirs := make([]dirEntry, len(c.dirs))
	copy(dirs, c.dirs)
	c.mu.Unlock()

	for _, d := range dirs {
		rel, err := filepath.Rel(d.path, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return filepath.ToSlash(rel), true
	}
	return "", false
}

// reloadLoaded reloads name in every type that currently caches it.
func (c *Cache) reloadLoaded(name string) {
	c.mu.Lock()
	var typs []Type
	for typ, ts := range c.types {
		if _, ok := ts.entries[name]; ok {
			typs = append(typs, typ)
		}
	}
	c.mu.Unlock()

	for _, typ := range typs {
		if err := c.ReloadResource(typ, name); err != nil {
			c.logger.Warn("resource reload failed",
				log.String("type", string(typ)),
				log.String("resource", name),
				log.Error(err))
			continue
		}
		c.logger.Info("resource reloaded",
			log.String("type", string(typ)),
			log.String("resource", name))
	}
}
