package fiscal

import (
	"slices"
	"sync"
)

// Collection is the visible list of fiscal note items, newest batch first.
// Items are addressed by ID only; a result for an ID that is no longer in
// the collection is dropped.
type Collection struct {
	mu      sync.RWMutex
	order   []string
	items   map[string]*Item
	pending int
}

// NewCollection creates an empty Collection
func NewCollection() *Collection {
	return &Collection{items: make(map[string]*Item)}
}

// add puts a batch in front of the existing items, keeping file order
// inside the batch.
func (c *Collection) add(batch []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(batch))
	for i := range batch {
		item := batch[i]
		if _, ok := c.items[item.ID]; !ok {
			ids = append(ids, item.ID)
		}
		c.items[item.ID] = &item
	}
	c.order = slices.Insert(c.order, 0, ids...)
}

// update applies fn to the item with the given ID. It reports false and does
// nothing if the item was removed.
func (c *Collection) update(id string, fn func(*Item)) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[id]
	if !ok {
		return Item{}, false
	}
	fn(item)
	return *item, true
}

func (c *Collection) startBatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending++
}

func (c *Collection) finishBatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
}

// Get returns the item with the given ID
func (c *Collection) Get(id string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Remove deletes an item and returns it. Removing an item that is still
// being analyzed only hides its result.
func (c *Collection) Remove(id string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[id]
	if !ok {
		return Item{}, false
	}
	delete(c.items, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	return *item, true
}

// List returns copies of the items in the filter's bucket, in display order.
func (c *Collection) List(filter Filter) []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		item := c.items[id]
		if filter.Matches(item.Status) {
			out = append(out, *item)
		}
	}
	return out
}

// Counts returns the number of items per bucket
func (c *Collection) Counts() Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var counts Counts
	for _, item := range c.items {
		switch item.Status {
		case StatusValidated:
			counts.Validated++
		case StatusReview, StatusRejected:
			counts.Review++
		case StatusProcessing:
			counts.Processing++
		}
	}
	return counts
}

// Len returns the number of items
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Processing reports whether any submitted batch is still being analyzed.
func (c *Collection) Processing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending > 0
}

// Clear drops every item. Analyses still running are ignored when they
// complete.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.items = make(map[string]*Item)
}
