// Package reorder keeps the shopper's drag-and-drop order of cart lines.
// The order is local presentation state; the platform never sees it.
package reorder

import (
	"slices"
	"sync"

	"cartsync/internal/model"
)

// Controller tracks a drag gesture and the last known display order.
type Controller struct {
	mu       sync.Mutex
	order    []string
	dragging string
}

// New returns a controller with no recorded order.
func New() *Controller {
	return &Controller{}
}

// Begin starts dragging key.
func (c *Controller) Begin(key string) {
	c.mu.Lock()
	c.dragging = key
	c.mu.Unlock()
}

// Dragging returns the key being dragged, or "".
func (c *Controller) Dragging() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging
}

// Cancel abandons the current drag.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.dragging = ""
	c.mu.Unlock()
}

// Drop ends the drag on target. It reports whether the order changed.
func (c *Controller) Drop(target string) bool {
	c.mu.Lock()
	dragged := c.dragging
	c.dragging = ""
	c.mu.Unlock()
	if dragged == "" {
		return false
	}
	return c.Move(dragged, target)
}

// Move places dragged next to target: before it when moving up, after it
// when moving down. Unknown keys and self-drops are ignored.
func (c *Controller) Move(dragged, target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dragged == target {
		return false
	}
	from := slices.Index(c.order, dragged)
	to := slices.Index(c.order, target)
	if from < 0 || to < 0 {
		return false
	}

	order := slices.Delete(slices.Clone(c.order), from, from+1)
	at := slices.Index(order, target)
	if from < to {
		at++ // moving down lands after the target
	}
	c.order = slices.Insert(order, at, dragged)
	return true
}

// Apply sorts items by the recorded order. Keys never seen before are
// appended in the order the platform returned them; keys no longer present
// are forgotten. The resulting order becomes the recorded order.
func (c *Controller) Apply(items []model.LineItem) []model.LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKey := make(map[string]model.LineItem, len(items))
	for _, it := range items {
		byKey[it.Key] = it
	}

	out := make([]model.LineItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, key := range c.order {
		if it, ok := byKey[key]; ok && !seen[key] {
			out = append(out, it)
			seen[key] = true
		}
	}
	for _, it := range items {
		if !seen[it.Key] {
			out = append(out, it)
			seen[it.Key] = true
		}
	}

	c.order = c.order[:0]
	for _, it := range out {
		c.order = append(c.order, it.Key)
	}
	return out
}

// Order returns the recorded key order.
func (c *Controller) Order() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.order)
}
