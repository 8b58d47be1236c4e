package handlers

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher watches every directory under roots and drops cached
// thumbnails and rendered notes for files that change. The returned stop
// function closes the watcher.
func StartWatcher(roots map[string]string) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, fsRoot := range roots {
		if err := watchTree(w, fsRoot); err != nil {
			log.Printf("watcher: could not watch %s: %v", fsRoot, err)
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				onFileEvent(w, ev)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("watcher: %v", err)
			}
		}
	}()

	return func() { _ = w.Close() }, nil
}

// watchTree adds dir and every directory below it. Hitting the inotify limit
// stops the walk; entries under unwatched directories expire after safetyTTL.
func watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			log.Printf("watcher: skipping %s: %v", p, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != dir {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				log.Printf("watcher: inotify watch limit reached at %s; raise fs.inotify.max_user_watches for full coverage (cached entries still expire after %s)", p, safetyTTL)
				return filepath.SkipAll
			}
			log.Printf("watcher: could not add watch for %s: %v", p, err)
		}
		return nil
	})
}

func onFileEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := watchTree(w, ev.Name); err != nil {
				log.Printf("watcher: could not watch new dir %s: %v", ev.Name, err)
			}
			return
		}
	}
	invalidateFile(ev.Name, ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename))
}

// invalidateFile drops cache entries derived from fsPath. gone marks a
// removal or rename, which may have taken a whole directory with it.
func invalidateFile(fsPath string, gone bool) {
	thumbCache.invalidate(fsPath)
	// Notes are keyed by the media file's name without extension, which is
	// also what a changed sidecar reduces to.
	notesCache.invalidate(sidecarBase(fsPath))
	if gone {
		n := thumbCache.invalidateTree(fsPath) + notesCache.invalidateTree(fsPath)
		if n > 0 {
			log.Printf("watcher: dropped %d cached entries under %s", n, fsPath)
		}
	}
}

func sidecarBase(fsPath string) string {
	return strings.TrimSuffix(fsPath, filepath.Ext(fsPath))
}
