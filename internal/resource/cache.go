package resource

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/pkg/sequence"
)

// Type names a resource category registered with the cache.
type Type string

const (
	// TypeRaw caches files as unparsed bytes.
	TypeRaw Type = "raw"
	// TypeScene caches serialized scenes and prefabs.
	TypeScene Type = "scene"
)

// Config holds cache tuning knobs.
type Config struct {
	// Workers bounds concurrent background loads.
	Workers int
	// DefaultBudget is the per-type memory budget in bytes applied to the
	// built-in types. Zero disables eviction.
	DefaultBudget uint64
}

func DefaultConfig() Config {
	return Config{
		Workers: 4,
	}
}

type dirEntry struct {
	path     string
	priority int
}

// entry tracks one cached resource. The ready channel closes once the
// initial load finishes; err is only valid after that. loaded and refs are
// guarded by the cache mutex.
type entry struct {
	res      Resource
	refs     int
	lastUsed uint64
	loaded   bool
	ready    chan struct{}
	err      error
}

type typeState struct {
	factory   func() Resource
	budget    uint64
	entries   map[string]*entry
	memoryUse uint64
}

// Cache loads resources from prioritized directories and keeps them in
// memory keyed by (type, name). Lookups are reference counted; entries with
// no references are evicted oldest-first when a type exceeds its memory
// budget. All methods are safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	dirs     []dirEntry
	types    map[Type]*typeState
	useClock uint64
	workers  int
	logger   log.Log

	autoReload bool
	watcher    *fsnotify.Watcher
	watchDone  chan struct{}
}

// NewCache creates a cache with the raw and scene types pre-registered.
func NewCache(cfg Config, logger log.Log) *Cache {
	if logger == nil {
		logger = log.Provide()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultConfig().Workers
	}
	c := &Cache{
		types:   make(map[Type]*typeState),
		workers: workers,
		logger:  logger.With(log.String("component", "resource_cache")),
	}
	c.RegisterType(TypeRaw, cfg.DefaultBudget, func() Resource { return NewRawFile() })
	c.RegisterType(TypeScene, cfg.DefaultBudget, func() Resource { return NewSceneFile() })
	return c
}

// RegisterType makes a resource type loadable. Registering an existing type
// replaces its factory and budget but keeps cached entries.
func (c *Cache) RegisterType(typ Type, budget uint64, factory func() Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.types[typ]; ok {
		ts.factory = factory
		ts.budget = budget
		c.enforceBudgetLocked(typ, ts)
		return
	}
	c.types[typ] = &typeState{
		factory: factory,
		budget:  budget,
		entries: make(map[string]*entry),
	}
}

// SetMemoryBudget changes a type's memory budget and evicts immediately if
// the type is over it. Zero disables eviction.
func (c *Cache) SetMemoryBudget(typ Type, budget uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.types[typ]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	ts.budget = budget
	c.enforceBudgetLocked(typ, ts)
	return nil
}

// MemoryUse returns the accounted memory of a type's cached resources.
func (c *Cache) MemoryUse(typ Type) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.types[typ]; ok {
		return ts.memoryUse
	}
	return 0
}

// TotalMemoryUse returns the accounted memory across all types.
func (c *Cache) TotalMemoryUse() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, ts := range c.types {
		total += ts.memoryUse
	}
	return total
}

// ResourceCount returns the number of cached entries of a type.
func (c *Cache) ResourceCount(typ Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.types[typ]; ok {
		return len(ts.entries)
	}
	return 0
}

// ResourceNames returns the sorted names of a type's cached entries.
func (c *Cache) ResourceNames(typ Type) []string {
	c.mu.Lock()
	var names []string
	if ts, ok := c.types[typ]; ok {
		names = make([]string, 0, len(ts.entries))
		for name := range ts.entries {
			names = append(names, name)
		}
	}
	c.mu.Unlock()
	return sequence.From(names).Sort(func(a, b string) bool { return a < b }).Collect()
}

// AddResourceDir registers a directory to search for resource files.
// Directories with higher priority are searched first; equal priorities
// keep registration order. The watcher picks up new directories when auto
// reload is active.
func (c *Cache) AddResourceDir(dir string, priority int) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %q", ErrDirNotFound, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	c.mu.Lock()
	idx := len(c.dirs)
	for i, d := range c.dirs {
		if d.priority < priority {
			idx = i
			break
		}
	}
	c.dirs = append(c.dirs, dirEntry{})
	copy(c.dirs[idx+1:], c.dirs[idx:])
	c.dirs[idx] = dirEntry{path: abs, priority: priority}
	w := c.watcher
	c.mu.Unlock()

	if w != nil {
		c.watchTree(w, abs)
	}
	c.logger.Debug("resource directory added", log.String("dir", abs), log.Int("priority", priority))
	return nil
}

// ResourceDirs returns the registered directories in search order.
func (c *Cache) ResourceDirs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirs := make([]string, len(c.dirs))
	for i, d := range c.dirs {
		dirs[i] = d.path
	}
	return dirs
}

// Get returns the cached resource, loading it from disk on a miss. Each
// successful Get holds one reference; pair it with ReleaseResource. A miss
// loads synchronously while concurrent Gets for the same name wait on the
// same load.
func (c *Cache) Get(typ Type, name string) (Resource, error) {
	return c.load(typ, name, true)
}

func (c *Cache) load(typ Type, name string, addRef bool) (Resource, error) {
	c.mu.Lock()
	ts, ok := c.types[typ]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if e, ok := ts.entries[name]; ok {
		if addRef {
			e.refs++
		}
		c.useClock++
		e.lastUsed = c.useClock
		c.mu.Unlock()
		<-e.ready
		if e.err != nil {
			return nil, e.err
		}
		return e.res, nil
	}

	e := &entry{res: ts.factory(), ready: make(chan struct{})}
	if addRef {
		e.refs = 1
	}
	c.useClock++
	e.lastUsed = c.useClock
	ts.entries[name] = e
	c.mu.Unlock()

	err := c.loadFromDisk(e.res, name)

	c.mu.Lock()
	if err != nil {
		e.err = err
		if ts.entries[name] == e {
			delete(ts.entries, name)
		}
	} else {
		e.loaded = true
		// A forced ReleaseAll may have dropped the entry mid-load; skip
		// accounting for entries no longer in the table.
		if ts.entries[name] == e {
			ts.memoryUse += e.res.MemoryUse()
			c.enforceBudgetLocked(typ, ts)
		}
	}
	c.mu.Unlock()
	close(e.ready)

	if err != nil {
		return nil, err
	}
	return e.res, nil
}

func (c *Cache) loadFromDisk(res Resource, name string) error {
	path, err := c.resolvePath(name)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	res.SetName(name)
	if err = res.Load(f); err != nil {
		return fmt.Errorf("resource: load %q: %w", name, err)
	}
	return nil
}

// resolvePath finds the file for a resource name, searching directories in
// priority order. Names use forward slashes.
func (c *Cache) resolvePath(name string) (string, error) {
	c.mu.Lock()
	dirs := make([]dirEntry, len(c.dirs))
	copy(dirs, c.dirs)
	c.mu.Unlock()

	for _, d := range dirs {
		full := filepath.Join(d.path, filepath.FromSlash(name))
		if info, err := os.Stat(full); err == nil && info.Mode().IsRegular() {
			return full, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// ReleaseResource drops one reference. Unreferenced entries stay cached
// until memory pressure evicts them. Releasing an unknown resource is a
// no-op.
func (c *Cache) ReleaseResource(typ Type, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.types[typ]
	if !ok {
		return
	}
	e, ok := ts.entries[name]
	if !ok {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
}

// ReleaseAll drops every reference of a type, leaving entries evictable.
// With force set, loaded entries are removed outright; in-flight loads
// finish but are not accounted.
func (c *Cache) ReleaseAll(typ Type, force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.types[typ]
	if !ok {
		return
	}
	for name, e := range ts.entries {
		e.refs = 0
		if force && e.loaded {
			ts.memoryUse -= e.res.MemoryUse()
			delete(ts.entries, name)
		}
	}
}

// ReloadResource reloads a cached resource from disk in place, so existing
// holders observe the new content. The previous content is kept when the
// reload fails. Callers coordinate reloads with their own use of the
// resource; the server reloads between frames.
func (c *Cache) ReloadResource(typ Type, name string) error {
	c.mu.Lock()
	ts, ok := c.types[typ]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	e, ok := ts.entries[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotLoaded, name)
	}
	c.mu.Unlock()

	<-e.ready
	if e.err != nil {
		return e.err
	}

	before := e.res.MemoryUse()
	if err := c.loadFromDisk(e.res, name); err != nil {
		return err
	}

	c.mu.Lock()
	if ts.entries[name] == e {
		ts.memoryUse = ts.memoryUse - before + e.res.MemoryUse()
		c.enforceBudgetLocked(typ, ts)
	}
	c.mu.Unlock()
	return nil
}

// enforceBudgetLocked evicts least-recently-used unreferenced entries until
// the type fits its budget. Called with the cache mutex held.
func (c *Cache) enforceBudgetLocked(typ Type, ts *typeState) {
	if ts.budget == 0 {
		return
	}
	for ts.memoryUse > ts.budget {
		victim := ""
		oldest := uint64(math.MaxUint64)
		for name, e := range ts.entries {
			if !e.loaded || e.refs > 0 {
				continue
			}
			if e.lastUsed < oldest {
				oldest = e.lastUsed
				victim = name
			}
		}
		if victim == "" {
			c.logger.Warn("resource memory budget exceeded with all entries referenced",
				log.String("type", string(typ)),
				log.Uint64("memory_use", ts.memoryUse),
				log.Uint64("budget", ts.budget))
			return
		}
		e := ts.entries[victim]
		ts.memoryUse -= e.res.MemoryUse()
		delete(ts.entries, victim)
		c.logger.Debug("resource evicted",
			log.String("type", string(typ)),
			log.String("name", victim))
	}
}

// Close stops the directory watcher if one is running.
func (c *Cache) Close() error {
	return c.SetAutoReloadResources(false)
}
