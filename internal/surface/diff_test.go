package surface

import (
	"slices"
	"testing"
)

func row(key string, qty int) Row {
	return Row{Key: key, Name: key, Quantity: qty}
}

func TestDiffRows(t *testing.T) {
	tests := []struct {
		name        string
		prev, next  []Row
		wantAdded   []string
		wantRemoved []string
		wantUpdated []string
		wantMoved   []string
		wantOrder   []string
	}{
		{
			name:      "empty to items",
			next:      []Row{row("a", 1), row("b", 2)},
			wantAdded: []string{"a", "b"},
			wantOrder: []string{"a", "b"},
		},
		{
			name:        "items to empty",
			prev:        []Row{row("a", 1), row("b", 2)},
			wantRemoved: []string{"a", "b"},
		},
		{
			name:        "quantity change",
			prev:        []Row{row("a", 1), row("b", 2)},
			next:        []Row{row("a", 3), row("b", 2)},
			wantUpdated: []string{"a"},
		},
		{
			name:      "swap",
			prev:      []Row{row("a", 1), row("b", 2)},
			next:      []Row{row("b", 2), row("a", 1)},
			wantMoved: []string{"b", "a"},
			wantOrder: []string{"b", "a"},
		},
		{
			name:        "remove keeps relative order",
			prev:        []Row{row("a", 1), row("b", 2), row("c", 1)},
			next:        []Row{row("a", 1), row("c", 1)},
			wantRemoved: []string{"b"},
		},
		{
			name:      "insert in the middle",
			prev:      []Row{row("a", 1), row("c", 1)},
			next:      []Row{row("a", 1), row("b", 1), row("c", 1)},
			wantAdded: []string{"b"},
			wantOrder: []string{"a", "b", "c"},
		},
		{
			name: "no change",
			prev: []Row{row("a", 1)},
			next: []Row{row("a", 1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DiffRows(tt.prev, tt.next)
			if got := rowKeys(d.Added); !slices.Equal(got, tt.wantAdded) {
				t.Errorf("Added = %v, want %v", got, tt.wantAdded)
			}
			if !slices.Equal(d.Removed, tt.wantRemoved) {
				t.Errorf("Removed = %v, want %v", d.Removed, tt.wantRemoved)
			}
			if got := rowKeys(d.Updated); !slices.Equal(got, tt.wantUpdated) {
				t.Errorf("Updated = %v, want %v", got, tt.wantUpdated)
			}
			if !slices.Equal(d.Moved, tt.wantMoved) {
				t.Errorf("Moved = %v, want %v", d.Moved, tt.wantMoved)
			}
			if !slices.Equal(d.Order, tt.wantOrder) {
				t.Errorf("Order = %v, want %v", d.Order, tt.wantOrder)
			}
			wantEmpty := len(tt.wantAdded)+len(tt.wantRemoved)+len(tt.wantUpdated)+len(tt.wantMoved) == 0
			if d.IsEmpty() != wantEmpty {
				t.Errorf("IsEmpty() = %v, want %v", d.IsEmpty(), wantEmpty)
			}
		})
	}
}

func TestDiffRows_BusyFlagIsAnUpdate(t *testing.T) {
	busy := row("a", 1)
	busy.Busy = true
	d := DiffRows([]Row{row("a", 1)}, []Row{busy})
	if len(d.Updated) != 1 || !d.Updated[0].Busy {
		t.Errorf("Updated = %+v, want a busy", d.Updated)
	}
}

func TestChangedFields(t *testing.T) {
	prev := fields{"count": 1, "text": "1", "gone": true, "list": []string{"x"}}
	next := fields{"count": 2, "text": "1", "list": []string{"x"}, "new": "y"}

	got := changedFields(prev, next)
	if len(got) != 3 {
		t.Fatalf("changedFields() = %v, want 3 entries", got)
	}
	if got["count"] != 2 {
		t.Errorf("count = %v, want 2", got["count"])
	}
	if v, ok := got["gone"]; !ok || v != nil {
		t.Errorf("gone = %v, %v; want nil, true", v, ok)
	}
	if got["new"] != "y" {
		t.Errorf("new = %v, want y", got["new"])
	}
	if _, ok := got["list"]; ok {
		t.Error("unchanged slice reported as changed")
	}
}
