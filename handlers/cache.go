package handlers

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// safetyTTL bounds every cache entry. The watcher normally invalidates long
// before it fires; object-store entries, which nothing watches, rely on it.
const safetyTTL = 20 * time.Minute

// failTTL is how long a failed build is remembered so a file without a usable
// frame does not start ffmpeg on every request.
const failTTL = 2 * time.Minute

type cacheEntry struct {
	data     []byte
	err      error
	expires  time.Time
	building bool
}

// fileCache memoises derived bytes per source file. Each file holds several
// variants (thumbnail sizes, rendered note formats) so invalidating a file
// drops all of them at once. Concurrent misses wait for the single build in
// flight.
type fileCache struct {
	name    string
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]map[string]*cacheEntry
}

func newFileCache(name string) *fileCache {
	c := &fileCache{name: name, entries: make(map[string]map[string]*cacheEntry)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

var (
	thumbCache = newFileCache("thumbnail")
	notesCache = newFileCache("notes")
)

func init() {
	go func() {
		for range time.Tick(10 * time.Minute) {
			thumbCache.gc()
			notesCache.gc()
		}
	}()
}

// get returns the cached variant of key, building it with build on a miss.
func (c *fileCache) get(key, variant string, build func() ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	e := c.lookupLocked(key, variant)
	for e != nil && e.building {
		c.cond.Wait()
		// The entry may have been invalidated while we waited.
		e = c.lookupLocked(key, variant)
	}
	if e != nil && time.Now().Before(e.expires) {
		data, err := e.data, e.err
		c.mu.Unlock()
		return data, err
	}

	e = &cacheEntry{building: true}
	c.storeLocked(key, variant, e)
	c.mu.Unlock()

	data, err := safeBuild(c.name, key, build)

	c.mu.Lock()
	e.data, e.err, e.building = data, err, false
	ttl := safetyTTL
	if err != nil {
		ttl = failTTL
	}
	e.expires = time.Now().Add(ttl)
	c.cond.Broadcast()
	c.mu.Unlock()
	return data, err
}

func (c *fileCache) lookupLocked(key, variant string) *cacheEntry {
	if vs := c.entries[key]; vs != nil {
		return vs[variant]
	}
	return nil
}

func (c *fileCache) storeLocked(key, variant string, e *cacheEntry) {
	vs := c.entries[key]
	if vs == nil {
		vs = make(map[string]*cacheEntry)
		c.entries[key] = vs
	}
	vs[variant] = e
}

// invalidate drops every variant cached for key. Builds in flight finish
// into the detached entry and are not seen by later callers.
func (c *fileCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// invalidateTree drops every key at or below dir.
func (c *fileCache) invalidateTree(dir string) int {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if k == dir || strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *fileCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// gc drops expired entries and entries for local files that no longer exist.
func (c *fileCache) gc() {
	now := time.Now()
	c.mu.Lock()
	var local []string
	for k, vs := range c.entries {
		for v, e := range vs {
			if !e.building && now.After(e.expires) {
				delete(vs, v)
			}
		}
		if len(vs) == 0 {
			delete(c.entries, k)
			continue
		}
		if filepath.IsAbs(k) {
			local = append(local, k)
		}
	}
	c.mu.Unlock()

	var dead []string
	for _, k := range local {
		if _, err := os.Lstat(k); os.IsNotExist(err) {
			dead = append(dead, k)
		}
	}
	for _, k := range dead {
		c.invalidate(k)
	}
	if len(dead) > 0 {
		log.Printf("cache: %s GC removed %d stale entries", c.name, len(dead))
	}
}

var errBuildPanic = errors.New("build panicked")

func safeBuild(name, key string, build func() ([]byte, error)) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("cache: %s build panic  key=%s  err=%v", name, key, r)
			data, err = nil, errBuildPanic
		}
	}()
	return build()
}
