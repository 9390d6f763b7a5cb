package thumbnail

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/tphakala/soundbird/internal/errors"
)

// DescriptionCache is a JSON file mapping species common names to
// descriptions. The whole file is rewritten on every Put.
type DescriptionCache struct {
	path    string
	mu      sync.Mutex
	entries map[string]string
}

// NewDescriptionCache returns a cache stored at path. The file is read on
// first use; a missing file is an empty cache.
func NewDescriptionCache(path string) *DescriptionCache {
	return &DescriptionCache{path: path}
}

// Get returns the cached description for species.
func (c *DescriptionCache) Get(species string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(); err != nil {
		return "", false, err
	}
	desc, ok := c.entries[species]
	return desc, ok, nil
}

// Put stores desc for species and writes the file.
func (c *DescriptionCache) Put(species, desc string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(); err != nil {
		return err
	}
	c.entries[species] = desc

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return cacheError(err, "encode", c.path)
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return cacheError(err, "create-directory", c.path)
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return cacheError(err, "write", c.path)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return cacheError(err, "rename", c.path)
	}
	return nil
}

func (c *DescriptionCache) loadLocked() error {
	if c.entries != nil {
		return nil
	}
	data, err := os.ReadFile(c.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.entries = map[string]string{}
		return nil
	case err != nil:
		return cacheError(err, "read", c.path)
	}

	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return cacheError(err, "decode", c.path)
	}
	c.entries = entries
	return nil
}

func cacheError(err error, operation, path string) error {
	return errors.New(err).
		Component("thumbnail").
		Category(errors.CategoryImageCache).
		Context("operation", operation).
		Context("path", path).
		Build()
}
