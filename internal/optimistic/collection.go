// Package optimistic applies record changes locally before the remote
// write confirms them, and reverts them when it fails.
package optimistic

import "sync"

// Collection is an ordered, goroutine-safe set of records keyed by id.
type Collection[R any] struct {
	key func(R) string

	mu        sync.RWMutex
	items     []R
	index     map[string]int
	listeners map[int]func([]R)
	nextID    int
}

func NewCollection[R any](key func(R) string) *Collection[R] {
	return &Collection[R]{key: key, index: map[string]int{}}
}

// Replace swaps the contents for items. Snapshots from the store always
// win over local state.
func (c *Collection[R]) Replace(items []R) {
	c.mu.Lock()
	c.items = append([]R(nil), items...)
	c.index = make(map[string]int, len(items))
	for i, it := range c.items {
		c.index[c.key(it)] = i
	}
	c.mu.Unlock()
	c.changed()
}

func (c *Collection[R]) Get(id string) (R, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		var zero R
		return zero, false
	}
	return c.items[i], true
}

// Items returns a copy of the records in order.
func (c *Collection[R]) Items() []R {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]R(nil), c.items...)
}

// Update replaces the record id with fn(record) and returns the value it
// had before. ok is false when the record is absent.
func (c *Collection[R]) Update(id string, fn func(R) R) (before R, ok bool) {
	c.mu.Lock()
	i, found := c.index[id]
	if !found {
		c.mu.Unlock()
		return before, false
	}
	before = c.items[i]
	c.items[i] = fn(before)
	c.mu.Unlock()
	c.changed()
	return before, true
}

// OnChange registers fn to receive the records after every change.
func (c *Collection[R]) OnChange(fn func([]R)) (cancel func()) {
	c.mu.Lock()
	if c.listeners == nil {
		c.listeners = map[int]func([]R){}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Collection[R]) changed() {
	c.mu.RLock()
	items := append([]R(nil), c.items...)
	fns := make([]func([]R), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(items)
	}
}
