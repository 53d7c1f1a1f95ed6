package resolver

import (
	"container/list"
	"sync"

	"github.com/devicelab-dev/devicepool/pkg/locator"
)

const defaultHintCacheSize = 256

// hintKey identifies a cached hint: the same logical element on the same
// device class. Hints spread across identical devices but never across
// classes, where layouts can differ.
type hintKey struct {
	class   string
	element string
}

type hintEntry struct {
	key  hintKey
	kind locator.Kind
}

// hintCache remembers which strategy kind last resolved an element per
// device class. Bounded LRU; inserting past capacity evicts the least
// recently used entry. Concurrent writers race benignly, last writer wins.
type hintCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List // front is most recently used
	items map[hintKey]*list.Element
}

func newHintCache(capacity int) *hintCache {
	if capacity <= 0 {
		capacity = defaultHintCacheSize
	}
	return &hintCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[hintKey]*list.Element, capacity),
	}
}

// Get returns the hinted kind for the element, refreshing its recency.
func (c *hintCache) Get(class, element string) (locator.Kind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[hintKey{class: class, element: element}]
	if !ok {
		return 0, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*hintEntry).kind, true
}

// Put stores or refreshes a hint, evicting the oldest entry at capacity.
func (c *hintCache) Put(class, element string, kind locator.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hintKey{class: class, element: element}
	if el, ok := c.items[key]; ok {
		el.Value.(*hintEntry).kind = kind
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&hintEntry{key: key, kind: kind})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*hintEntry).key)
	}
}

// Len returns the number of cached hints.
func (c *hintCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
