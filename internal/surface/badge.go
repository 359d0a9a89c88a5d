package surface

import (
	"strconv"
	"sync"

	"cartsync/internal/cart"
)

// BadgeText renders a cart count the way the floating toggle shows it.
func BadgeText(count int) string {
	if count > 99 {
		return "99+"
	}
	return strconv.Itoa(count)
}

// Badge is the floating cart toggle's item count.
type Badge struct {
	coord Coordinator
	sink  Sink

	mu          sync.Mutex
	last        fields
	unsubscribe func()
}

// NewBadge renders the current count and follows the store.
func NewBadge(c Coordinator, sink Sink) *Badge {
	b := &Badge{coord: c, sink: sink}
	b.mu.Lock()
	b.last = b.render(c.Store().Snapshot().Count)
	b.mu.Unlock()
	b.unsubscribe = c.Store().Subscribe(b.onChange)
	return b
}

func (b *Badge) render(count int) fields {
	show := b.coord.Settings().Toggle.ShowBadge
	return fields{
		"count":   count,
		"text":    BadgeText(count),
		"visible": show && count > 0,
	}
}

func (b *Badge) onChange(ch cart.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.render(ch.Snapshot.Count)
	changed := changedFields(b.last, next)
	b.last = next
	if len(changed) > 0 {
		b.sink.Emit(Diff{Surface: NameBadge, Fields: changed})
	}
}

// View returns the badge's full state.
func (b *Badge) View() Diff {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fullDiff(NameBadge, b.last, nil)
}

// Close stops following the store.
func (b *Badge) Close() {
	b.unsubscribe()
}
