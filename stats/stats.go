// Package stats keeps process-wide usage counters. Counters live in memory
// only; they reset on restart, which matches how the bot reports them.
package stats

import (
	"sort"
	"sync"
)

// TotalMessages counts every inbound message the dispatcher sees.
const TotalMessages = "total"

// Counters is a mutex-guarded set of named monotonic counters.
type Counters struct {
	mu     sync.Mutex
	values map[string]int64
}

// New returns an empty counter set.
func New() *Counters {
	return &Counters{values: make(map[string]int64)}
}

// Add increments the named counter and returns the new value.
func (c *Counters) Add(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name]++
	return c.values[name]
}

// Read returns the current value of the named counter.
func (c *Counters) Read(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Snapshot returns counter names in sorted order with their values.
func (c *Counters) Snapshot() []Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Counter, 0, len(c.values))
	for name, value := range c.values {
		out = append(out, Counter{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Counter is a named counter value captured by Snapshot.
type Counter struct {
	Name  string
	Value int64
}
