package store

import "sync"

// viewKey identifies a derived view computed against one state version.
type viewKey struct {
	view    string
	version uint64
}

// viewCache is a small thread-safe LRU over computed views. Keys carry the state version,
// so a filter change or load makes every older entry unreachable and it ages out.
type viewCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[viewKey]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   viewKey
	value any
	prev  *entry
	next  *entry
}

// newViewCache returns nil when maxEntries <= 0, which disables caching.
func newViewCache(maxEntries int) *viewCache {
	if maxEntries <= 0 {
		return nil
	}
	return &viewCache{
		maxEntries: maxEntries,
		entries:    make(map[viewKey]*entry),
	}
}

// getOrCompute returns the cached value for key or stores the result of compute.
func (c *viewCache) getOrCompute(key viewKey, compute func() any) any {
	if c == nil {
		return compute()
	}
	if v, ok := c.get(key); ok {
		return v
	}
	v := compute()
	c.put(key, v)
	return v
}

func (c *viewCache) get(key viewKey) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *viewCache) put(key viewKey, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *viewCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *viewCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *viewCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *viewCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *viewCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
