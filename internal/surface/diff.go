package surface

import (
	"maps"
	"reflect"
)

// Row is one rendered cart line.
type Row struct {
	Key          string `json:"key"`
	ProductID    int    `json:"product_id"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	LineSubtotal string `json:"line_subtotal"`
	ImageURL     string `json:"image_url,omitempty"`
	Busy         bool   `json:"busy"`
}

// RowDiff describes how to turn the previously rendered rows into the new
// ones. Apply Removed, then Updated, then Added; Order is the full key order
// after the change and is set whenever rows were added or moved.
type RowDiff struct {
	Added   []Row    `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Updated []Row    `json:"updated,omitempty"`
	Moved   []string `json:"moved,omitempty"`
	Order   []string `json:"order,omitempty"`
}

// IsEmpty returns true if no row changes are needed.
func (d *RowDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0 && len(d.Moved) == 0
}

// DiffRows computes the delta between two renders. Rows are matched by
// line key.
//
// Algorithm:
//  1. Index both renders by key
//  2. Walk next: unseen keys are added, changed rows are updated
//  3. Walk prev: keys missing from next are removed
//  4. Compare the order of the keys present in both; keys whose position
//     differs are moved
func DiffRows(prev, next []Row) *RowDiff {
	diff := &RowDiff{}

	prevByKey := make(map[string]Row, len(prev))
	for _, r := range prev {
		prevByKey[r.Key] = r
	}
	nextByKey := make(map[string]Row, len(next))
	for _, r := range next {
		nextByKey[r.Key] = r
	}

	var nextCommon []string
	for _, r := range next {
		old, exists := prevByKey[r.Key]
		if !exists {
			diff.Added = append(diff.Added, r)
			continue
		}
		nextCommon = append(nextCommon, r.Key)
		if old != r {
			diff.Updated = append(diff.Updated, r)
		}
	}

	var prevCommon []string
	for _, r := range prev {
		if _, exists := nextByKey[r.Key]; !exists {
			diff.Removed = append(diff.Removed, r.Key)
			continue
		}
		prevCommon = append(prevCommon, r.Key)
	}

	for i, key := range nextCommon {
		if prevCommon[i] != key {
			diff.Moved = append(diff.Moved, key)
		}
	}

	if len(diff.Added) > 0 || len(diff.Moved) > 0 {
		diff.Order = make([]string, len(next))
		for i, r := range next {
			diff.Order[i] = r.Key
		}
	}
	return diff
}

// fields is a flat render of a surface's non-row state.
type fields map[string]any

// changedFields returns the entries of next that differ from prev.
// Keys dropped from next are reported with a nil value.
func changedFields(prev, next fields) fields {
	out := fields{}
	for k, v := range next {
		if old, ok := prev[k]; !ok || !reflect.DeepEqual(old, v) {
			out[k] = v
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			out[k] = nil
		}
	}
	return out
}

// fullDiff renders f and rows as if the client had nothing.
func fullDiff(surface string, f fields, rows []Row) Diff {
	d := Diff{Surface: surface, Fields: maps.Clone(f)}
	if rows != nil {
		d.Rows = DiffRows(nil, rows)
		if d.Rows.Order == nil {
			d.Rows.Order = []string{}
		}
	}
	return d
}

func rowKeys(rows []Row) []string {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys
}
