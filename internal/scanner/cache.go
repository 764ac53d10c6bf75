package scanner

import (
	"codeintel/internal/logging"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// CacheEntry is the cached metadata for one previously scanned file.
type CacheEntry struct {
	Hash    string `json:"hash"`
	ModTime int64  `json:"mod_time"`
	Size    int64  `json:"size"`
}

// FileCache avoids re-hashing files whose mtime and size have not
// changed since the last scan. This sits in front of, and is distinct
// from, the engine's multi-tier embedding cache: it memoizes the cheap
// SHA-256 of file bytes, not expensive downstream computation.
type FileCache struct {
	mu      sync.RWMutex
	path    string
	Entries map[string]CacheEntry `json:"entries"`
	dirty   bool
}

// NewFileCache loads or creates the manifest for workspaceRoot.
func NewFileCache(workspaceRoot string) *FileCache {
	cachePath := filepath.Join(workspaceRoot, ".codeintel", "cache", "manifest.json")
	c := &FileCache{path: cachePath, Entries: make(map[string]CacheEntry)}
	c.load()
	return c
}

func (c *FileCache) load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &c.Entries); err != nil {
		logging.Get(logging.CategoryScanner).Warn("corrupt file cache, starting fresh: %v", err)
		c.Entries = make(map[string]CacheEntry)
	}
}

// Save persists the cache if it has pending changes.
func (c *FileCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c.Entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Get returns the cached hash if path's size and mtime haven't changed.
func (c *FileCache) Get(path string, info os.FileInfo) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.Entries[path]
	if !ok {
		return "", false
	}
	if entry.ModTime == info.ModTime().Unix() && entry.Size == info.Size() {
		return entry.Hash, true
	}
	return "", false
}

// Update records a freshly computed hash for path.
func (c *FileCache) Update(path string, info os.FileInfo, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Entries[path] = CacheEntry{Hash: hash, ModTime: info.ModTime().Unix(), Size: info.Size()}
	c.dirty = true
}
