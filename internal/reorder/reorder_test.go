package reorder

import (
	"reflect"
	"testing"

	"cartsync/internal/model"
)

func items(keys ...string) []model.LineItem {
	out := make([]model.LineItem, len(keys))
	for i, k := range keys {
		out[i] = model.LineItem{Key: k}
	}
	return out
}

func keys(items []model.LineItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key
	}
	return out
}

func TestMove(t *testing.T) {
	tests := []struct {
		name    string
		dragged string
		target  string
		want    []string
		changed bool
	}{
		{name: "move up inserts before", dragged: "d", target: "b", want: []string{"a", "d", "b", "c"}, changed: true},
		{name: "move down inserts after", dragged: "a", target: "c", want: []string{"b", "c", "a", "d"}, changed: true},
		{name: "to last", dragged: "b", target: "d", want: []string{"a", "c", "d", "b"}, changed: true},
		{name: "to first", dragged: "c", target: "a", want: []string{"c", "a", "b", "d"}, changed: true},
		{name: "self drop", dragged: "b", target: "b", want: []string{"a", "b", "c", "d"}},
		{name: "unknown target", dragged: "b", target: "z", want: []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			c.Apply(items("a", "b", "c", "d"))

			if got := c.Move(tt.dragged, tt.target); got != tt.changed {
				t.Errorf("Move() = %v, want %v", got, tt.changed)
			}
			if got := c.Order(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Order() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBeginDrop(t *testing.T) {
	c := New()
	c.Apply(items("a", "b", "c"))

	if c.Drop("a") {
		t.Error("Drop() without Begin changed the order")
	}

	c.Begin("c")
	if c.Dragging() != "c" {
		t.Errorf("Dragging() = %q, want c", c.Dragging())
	}
	if !c.Drop("a") {
		t.Fatal("Drop() = false")
	}
	if got := c.Order(); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("Order() = %v", got)
	}
	if c.Dragging() != "" {
		t.Error("drag still active after drop")
	}

	c.Begin("a")
	c.Cancel()
	if c.Drop("b") {
		t.Error("Drop() after Cancel changed the order")
	}
}

func TestApply_SurvivesRefresh(t *testing.T) {
	c := New()
	c.Apply(items("a", "b", "c"))
	c.Move("c", "a")

	// The platform keeps returning its own order and adds a new line.
	got := keys(c.Apply(items("a", "b", "c", "n")))
	want := []string{"c", "a", "b", "n"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply() = %v, want %v", got, want)
	}

	// A removed line is forgotten.
	got = keys(c.Apply(items("a", "n", "c")))
	want = []string{"c", "a", "n"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply() after removal = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(c.Order(), want) {
		t.Errorf("Order() = %v, want %v", c.Order(), want)
	}
}

func TestApply_Empty(t *testing.T) {
	c := New()
	if got := c.Apply(nil); len(got) != 0 {
		t.Errorf("Apply(nil) = %v", got)
	}
}
