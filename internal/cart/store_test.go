package cart

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

var usd = model.DefaultCurrency()

func money(amount string) model.Money {
	return usd.Money(decimal.RequireFromString(amount))
}

func sampleCart() *model.CartSnapshot {
	return &model.CartSnapshot{
		Items: []model.LineItem{
			{Key: "a", ProductID: 1, Name: "Tee", UnitPrice: money("10"), Quantity: 1, LineSubtotal: money("10")},
			{Key: "b", ProductID: 2, Name: "Cap", UnitPrice: money("5"), Quantity: 2, LineSubtotal: money("10")},
		},
		Coupons: []model.Coupon{},
		ShippingMethods: []model.ShippingMethod{
			{ID: "flat", Label: "Flat", Cost: money("4"), Selected: true},
			{ID: "free", Label: "Free", Cost: money("0")},
		},
		Totals: model.Totals{Subtotal: money("20"), Total: money("24"), ShippingTotal: money("4")},
		Count:  3,
	}
}

// withoutRevision compares snapshots ignoring the revision counter.
func withoutRevision(s *model.CartSnapshot) *model.CartSnapshot {
	c := s.Clone()
	c.Revision = 0
	return c
}

func setQty(key string, qty int) func(*model.CartSnapshot) {
	return func(s *model.CartSnapshot) {
		item, i := s.Item(key)
		s.Count += qty - item.Quantity
		s.Items[i].Quantity = qty
		s.Items[i].LineSubtotal = EstimateLine(usd, item.UnitPrice, qty)
	}
}

func TestAbsorb_Idempotent(t *testing.T) {
	s := NewStore(usd)
	first := s.Absorb(sampleCart())
	second := s.Absorb(sampleCart())

	if first.Revision != 1 || second.Revision != 2 {
		t.Errorf("revisions = %d, %d; want 1, 2", first.Revision, second.Revision)
	}
	if !reflect.DeepEqual(withoutRevision(first), withoutRevision(second)) {
		t.Errorf("absorbing the same snapshot twice changed state:\n%+v\n%+v", first, second)
	}
}

func TestRollback_RestoresExactly(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		predict  func(*model.CartSnapshot)
	}{
		{name: "quantity", resource: ItemResource("a"), predict: setQty("a", 2)},
		{
			name:     "removal",
			resource: ItemResource("b"),
			predict: func(s *model.CartSnapshot) {
				_, i := s.Item("b")
				s.Count -= s.Items[i].Quantity
				s.Items = append(s.Items[:i], s.Items[i+1:]...)
			},
		},
		{
			name:     "coupon",
			resource: ResourceCoupons,
			predict: func(s *model.CartSnapshot) {
				s.Coupons = append(s.Coupons, model.Coupon{Code: "save10"})
			},
		},
		{
			name:     "shipping",
			resource: ResourceShipping,
			predict: func(s *model.CartSnapshot) {
				s.ShippingMethods[0].Selected = false
				s.ShippingMethods[1].Selected = true
				s.Totals.Total = money("20")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(usd)
			before := s.Absorb(sampleCart())

			p, err := s.ApplyPrediction(tt.resource, tt.predict)
			if err != nil {
				t.Fatalf("ApplyPrediction() error = %v", err)
			}
			if reflect.DeepEqual(s.Snapshot(), before) {
				t.Fatal("prediction did not change the snapshot")
			}
			if !s.Rollback(p) {
				t.Fatal("Rollback() = false")
			}
			if got := s.Snapshot(); !reflect.DeepEqual(got, before) {
				t.Errorf("after rollback:\n got %+v\nwant %+v", got, before)
			}
			if len(s.Pending()) != 0 {
				t.Errorf("Pending() = %v, want empty", s.Pending())
			}
		})
	}
}

func TestRollback_KeepsOtherPendingPredictions(t *testing.T) {
	s := NewStore(usd)
	s.Absorb(sampleCart())

	pa, _ := s.ApplyPrediction(ItemResource("a"), setQty("a", 3))
	if _, err := s.ApplyPrediction(ItemResource("b"), setQty("b", 1)); err != nil {
		t.Fatalf("ApplyPrediction(b) error = %v", err)
	}
	s.Rollback(pa)

	got := s.Snapshot()
	if a, _ := got.Item("a"); a.Quantity != 1 {
		t.Errorf("a.Quantity = %d, want 1", a.Quantity)
	}
	if b, _ := got.Item("b"); b.Quantity != 1 {
		t.Errorf("b.Quantity = %d, want 1 (still predicted)", b.Quantity)
	}
	if got.Count != 2 {
		t.Errorf("Count = %d, want 2", got.Count)
	}
}

func TestApplyPrediction_Busy(t *testing.T) {
	s := NewStore(usd)
	s.Absorb(sampleCart())

	if _, err := s.ApplyPrediction(ItemResource("a"), setQty("a", 2)); err != nil {
		t.Fatalf("first ApplyPrediction() error = %v", err)
	}
	_, err := s.ApplyPrediction(ItemResource("a"), setQty("a", 3))
	if !errors.Is(err, model.ErrResourceBusy) {
		t.Errorf("second ApplyPrediction() error = %v, want busy", err)
	}
	if _, err := s.ApplyPrediction(ItemResource("b"), setQty("b", 3)); err != nil {
		t.Errorf("other resource ApplyPrediction() error = %v", err)
	}
	if got := s.Pending(); !reflect.DeepEqual(got, []string{"item:a", "item:b"}) {
		t.Errorf("Pending() = %v", got)
	}
}

func TestAbsorb_PreservesPending(t *testing.T) {
	s := NewStore(usd)
	s.Absorb(sampleCart())

	// Quantity of "a" is predicted, "b" is predicted removed.
	s.ApplyPrediction(ItemResource("a"), setQty("a", 4))
	s.ApplyPrediction(ItemResource("b"), func(c *model.CartSnapshot) {
		_, i := c.Item("b")
		c.Count -= c.Items[i].Quantity
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	})
	local := s.Snapshot()

	server := sampleCart()
	server.Items = append(server.Items, model.LineItem{Key: "c", Name: "Mug", Quantity: 1, UnitPrice: money("7")})
	server.Totals.Total = money("31")
	got := s.Absorb(server)

	if a, _ := got.Item("a"); a.Quantity != 4 {
		t.Errorf("a.Quantity = %d, want predicted 4", a.Quantity)
	}
	if _, i := got.Item("b"); i >= 0 {
		t.Error("predicted removal of b was undone by absorb")
	}
	if _, i := got.Item("c"); i < 0 {
		t.Error("new server line c missing")
	}
	if !reflect.DeepEqual(got.Totals, local.Totals) || got.Count != local.Count {
		t.Errorf("totals/count replaced while pending: %+v / %d", got.Totals, got.Count)
	}
}

func TestAbsorb_DropsRowsNotPending(t *testing.T) {
	s := NewStore(usd)
	s.Absorb(sampleCart())

	server := sampleCart()
	server.Items = server.Items[:1]
	got := s.Absorb(server)

	if len(got.Items) != 1 || got.Items[0].Key != "a" {
		t.Errorf("Items = %+v, want only a", got.Items)
	}
}

func TestAbsorbAt_RejectsReadOvertakenByMutation(t *testing.T) {
	tests := []struct {
		name    string
		resolve func(s *Store, p *PendingMutation)
	}{
		{name: "confirmed", resolve: func(s *Store, p *PendingMutation) {
			s.Confirm(p, func(c *model.CartSnapshot) { c.Count = 4 })
		}},
		{name: "rolled back", resolve: func(s *Store, p *PendingMutation) { s.Rollback(p) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(usd)
			s.Absorb(sampleCart())

			epoch := s.Epoch()
			p, err := s.ApplyPrediction(ItemResource("a"), setQty("a", 2))
			if err != nil {
				t.Fatalf("ApplyPrediction() error = %v", err)
			}
			tt.resolve(s, p)
			want := s.Snapshot()

			var notified int
			s.Subscribe(func(Change) { notified++ })
			if _, ok := s.AbsorbAt(sampleCart(), epoch); ok {
				t.Error("AbsorbAt() with a stale epoch = true, want false")
			}
			if notified != 0 {
				t.Errorf("notifications = %d, want 0", notified)
			}
			if got := s.Snapshot(); !reflect.DeepEqual(got, want) {
				t.Errorf("snapshot changed by a stale read:\ngot  %+v\nwant %+v", got, want)
			}

			server := sampleCart()
			server.Count = 7
			got, ok := s.AbsorbAt(server, s.Epoch())
			if !ok || got.Count != 7 {
				t.Errorf("AbsorbAt() current epoch = %v, count %v; want true, 7", ok, got)
			}
		})
	}
}

func TestEpoch_IgnoresReadsAndReorders(t *testing.T) {
	s := NewStore(usd)
	before := s.Epoch()
	s.Absorb(sampleCart())
	s.Rearrange(func(items []model.LineItem) []model.LineItem { return items })
	if got := s.Epoch(); got != before {
		t.Errorf("Epoch() = %d after absorb and rearrange, want %d", got, before)
	}

	p, _ := s.ApplyPrediction(ItemResource("a"), setQty("a", 2))
	s.Confirm(p, nil)
	s.Confirm(p, nil)
	if got := s.Epoch(); got != before+2 {
		t.Errorf("Epoch() = %d, want %d (predict and one confirm)", got, before+2)
	}
}

func TestConfirm(t *testing.T) {
	s := NewStore(usd)
	s.Absorb(sampleCart())

	p, _ := s.ApplyPrediction(ItemResource("a"), setQty("a", 2))
	ok := s.Confirm(p, func(c *model.CartSnapshot) {
		c.Count = 4
		c.Totals.Total = money("34")
	})
	if !ok {
		t.Fatal("Confirm() = false")
	}
	got := s.Snapshot()
	if got.Count != 4 || got.Totals.Total.Display != "$34.00" {
		t.Errorf("merged values not applied: count %d total %q", got.Count, got.Totals.Total.Display)
	}

	if s.Confirm(p, nil) {
		t.Error("second Confirm() = true, want false for resolved mutation")
	}
	if s.Rollback(p) {
		t.Error("Rollback() of confirmed mutation = true")
	}
}

func TestNotifications_OrderAndCount(t *testing.T) {
	s := NewStore(usd)
	var causes []Cause
	cancel := s.Subscribe(func(c Change) {
		causes = append(causes, c.Cause)
	})

	s.Absorb(sampleCart())
	p, _ := s.ApplyPrediction(ItemResource("a"), setQty("a", 2))
	s.ApplyPrediction(ItemResource("a"), setQty("a", 3)) // busy, no notification
	s.Rollback(p)
	q, _ := s.ApplyPrediction(ResourceCoupons, func(*model.CartSnapshot) {})
	s.Confirm(q, nil)
	s.Rearrange(func(items []model.LineItem) []model.LineItem { return items })

	want := []Cause{CauseAbsorb, CausePredict, CauseRollback, CausePredict, CauseConfirm, CauseReorder}
	if !reflect.DeepEqual(causes, want) {
		t.Errorf("causes = %v, want %v", causes, want)
	}

	cancel()
	s.Absorb(sampleCart())
	if len(causes) != len(want) {
		t.Error("notified after cancel")
	}
}

func TestNotifications_PendingAndCopies(t *testing.T) {
	s := NewStore(usd)
	s.Absorb(sampleCart())

	var seen Change
	s.Subscribe(func(c Change) {
		seen = c
		c.Snapshot.Items[0].Name = "mutated by subscriber"
	})
	s.ApplyPrediction(ItemResource("a"), setQty("a", 2))

	if !reflect.DeepEqual(seen.Pending, []string{"item:a"}) {
		t.Errorf("Pending = %v", seen.Pending)
	}
	if s.Snapshot().Items[0].Name != "Tee" {
		t.Error("subscriber mutation leaked into the store")
	}
}

func TestReorderHook(t *testing.T) {
	s := NewStore(usd)
	s.SetReorderHook(func(items []model.LineItem) []model.LineItem {
		out := append([]model.LineItem(nil), items...)
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out
	})

	got := s.Absorb(sampleCart())
	if got.Items[0].Key != "b" {
		t.Errorf("Items[0] = %q, want hook order applied", got.Items[0].Key)
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := NewStore(usd)
	s.Absorb(sampleCart())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p, err := s.ApplyPrediction(ItemResource("a"), setQty("a", 2)); err == nil {
				s.Rollback(p)
			}
			s.Absorb(sampleCart())
			_ = s.Snapshot()
		}()
	}
	wg.Wait()

	if got := s.Snapshot(); got.Revision != 21 {
		t.Errorf("Revision = %d, want 21", got.Revision)
	}
}

func TestEstimateLine(t *testing.T) {
	got := EstimateLine(usd, money("12.5"), 3)
	if got.Display != "$37.50" {
		t.Errorf("EstimateLine() = %q, want $37.50", got.Display)
	}
}
