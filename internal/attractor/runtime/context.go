package runtime

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Context is the shared, concurrency-safe key/value store threaded through
// a pipeline run. Handlers read it to fill $context.<k> template
// expansions and write to it via Outcome.ContextUpdates; the engine
// snapshots it into every checkpoint and restores it verbatim on resume.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
	logs   []string
}

func NewContext() *Context {
	return &Context{values: map[string]any{}}
}

// NewContextWithGraphAttrs seeds a Context from a graph's "context_*"
// attribute defaults (graph-level attrs of the form context_key=value
// become the initial context entry "key"), so a pipeline author can
// supply run defaults directly in the DOT source.
func NewContextWithGraphAttrs(attrs map[string]string) *Context {
	c := NewContext()
	for k, v := range attrs {
		if !strings.HasPrefix(k, "context_") {
			continue
		}
		key := strings.TrimPrefix(k, "context_")
		if key == "" {
			continue
		}
		c.values[key] = v
	}
	return c
}

func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Context) GetString(key, def string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

func (c *Context) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = val
}

// SetAll merges updates into the context, e.g. from Outcome.ContextUpdates.
func (c *Context) SetAll(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range updates {
		c.values[k] = v
	}
}

// Log appends an operator-visible note to the context's run log, used by
// the manager-loop handler's observe/steer notes. Entries are read back
// with SnapshotLogs; neither checkpoints nor the run manifest include them.
func (c *Context) Log(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, entry)
}

// SnapshotValues returns a shallow copy of the current key/value contents,
// suitable for embedding in a checkpoint document.
func (c *Context) SnapshotValues() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// SnapshotLogs returns a copy of accumulated log entries in append order.
func (c *Context) SnapshotLogs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

// Restore replaces the context's contents wholesale, used when resuming
// from a checkpoint.
func (c *Context) Restore(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]any, len(values))
	for k, v := range values {
		c.values[k] = v
	}
}

// Keys returns a sorted list of context keys, useful for deterministic
// rendering in manifests and logs.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
