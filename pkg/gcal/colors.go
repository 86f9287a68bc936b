package gcal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	// sharedColorID marks tasks with more than one assignee (Grape).
	sharedColorID = "3"
	// unassignedColorID is Graphite.
	unassignedColorID = "8"
	paletteSize       = 11
)

type assigneeState struct {
	ColorID  string    `json:"color_id"`
	LastUsed time.Time `json:"last_used"`
}

// ColorCache gives each assignee a stable event color. When the palette is
// exhausted the least recently used assignee gives up its color.
type ColorCache struct {
	Path      string                    `json:"-"`
	Assignees map[string]*assigneeState `json:"assignees"`
	mu        sync.Mutex
	dirty     bool
	now       func() time.Time
}

func OpenColorCache(path string) (*ColorCache, error) {
	c := &ColorCache{
		Path:      path,
		Assignees: make(map[string]*assigneeState),
		now:       time.Now,
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
	if err := json.NewDecoder(f).Decode(&c.Assignees); err != nil {
		return nil, err
	}
	if c.Assignees == nil {
		c.Assignees = make(map[string]*assigneeState)
	}
	return c, nil
}

func (c *ColorCache) Save() error {
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
	if err := json.NewEncoder(f).Encode(c.Assignees); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// ColorID picks the event color for a task's assignees.
func (c *ColorCache) ColorID(assignees []string) string {
	switch len(assignees) {
	case 0:
		return unassignedColorID
	case 1:
	default:
		return sharedColorID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	who := assignees[0]
	if state, ok := c.Assignees[who]; ok {
		state.LastUsed = c.now()
		c.dirty = true
		return state.ColorID
	}
	return c.assign(who)
}

func (c *ColorCache) assign(who string) string {
	used := make(map[string]bool)
	for _, s := range c.Assignees {
		used[s.ColorID] = true
	}
	for i := 1; i <= paletteSize; i++ {
		id := strconv.Itoa(i)
		if id == sharedColorID || id == unassignedColorID || used[id] {
			continue
		}
		c.Assignees[who] = &assigneeState{ColorID: id, LastUsed: c.now()}
		c.dirty = true
		return id
	}

	var oldest string
	var oldestTime time.Time
	for name, s := range c.Assignees {
		if oldest == "" || s.LastUsed.Before(oldestTime) {
			oldest, oldestTime = name, s.LastUsed
		}
	}
	recycled := c.Assignees[oldest].ColorID
	delete(c.Assignees, oldest)
	c.Assignees[who] = &assigneeState{ColorID: recycled, LastUsed: c.now()}
	c.dirty = true
	return recycled
}
