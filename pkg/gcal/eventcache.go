package gcal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// EventCache remembers which event holds each task so mutations can skip
// the property search. A stale entry only costs one failed lookup.
type EventCache struct {
	Mappings map[string]string `json:"mappings"`
	Path     string            `json:"-"`
	mu       sync.RWMutex
	dirty    bool
}

// OpenEventCache loads the cache at path. A missing file yields an empty
// cache; an empty path yields one that is never written.
func OpenEventCache(path string) (*EventCache, error) {
	c := &EventCache{
		Mappings: make(map[string]string),
		Path:     path,
	}
	if path == "" {
		return c, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&c.Mappings); err != nil {
		return nil, err
	}
	if c.Mappings == nil {
		c.Mappings = make(map[string]string)
	}
	return c, nil
}

// Save writes the cache if anything changed since the last save.
func (c *EventCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty || c.Path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		return err
	}
	f, err := os.Create(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(c.Mappings); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

func (c *EventCache) Get(taskID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Mappings[taskID]
}

func (c *EventCache) Set(taskID, eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Mappings[taskID] != eventID {
		c.Mappings[taskID] = eventID
		c.dirty = true
	}
}

func (c *EventCache) Remove(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.Mappings[taskID]; exists {
		delete(c.Mappings, taskID)
		c.dirty = true
	}
}
