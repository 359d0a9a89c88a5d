// Package surface renders the cart, the variation popup and the checkout
// flow as view models driven by the snapshot store. Each surface emits only
// what changed since its last render.
package surface

import (
	"context"
	"log/slog"
	"sync"

	"cartsync/internal/cart"
	"cartsync/internal/coordinator"
	"cartsync/internal/model"
)

// Surface names carried on every Diff.
const (
	NameBadge    = "badge"
	NamePanel    = "panel"
	NamePopup    = "popup"
	NameCheckout = "checkout"
)

// Diff is one render delta. Fields holds only the fields whose value
// changed; Rows is set when cart rows changed.
type Diff struct {
	Surface string         `json:"surface"`
	Fields  map[string]any `json:"fields,omitempty"`
	Rows    *RowDiff       `json:"rows,omitempty"`
}

// Sink receives diffs in render order. Emit must not block.
type Sink interface {
	Emit(Diff)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Diff)

// Emit calls f(d).
func (f SinkFunc) Emit(d Diff) { f(d) }

// Coordinator is what the surfaces read settings from and dispatch
// intents to.
type Coordinator interface {
	Store() *cart.Store
	Settings() model.StorefrontSettings
	RequestQuantityChange(key string, delta int) error
	RequestRemove(key string) error
	RequestCouponApply(code string) error
	RequestCouponRemove(code string) error
	RequestShippingChange(methodID string) error
	RequestAddToCart(req model.AddToCart) error
	Reorder(dragged, target string) error
	Product(ctx context.Context, id int) (*model.Product, error)
	VariableProduct(ctx context.Context, id int) (*model.VariableProduct, error)
	SaveAddress(form *model.CheckoutForm) error
	PlaceOrder(form *model.CheckoutForm) (*model.OrderResult, error)
}

var _ Coordinator = (*coordinator.Coordinator)(nil)

// Set is the full storefront overlay of one session.
type Set struct {
	Badge    *Badge
	Panel    *Panel
	Popup    *Popup
	Checkout *Checkout

	closeOnce sync.Once
}

// NewSet builds every surface over c. All of them emit to sink.
func NewSet(c Coordinator, sink Sink, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		Badge:    NewBadge(c, sink),
		Panel:    NewPanel(c, sink, logger),
		Popup:    NewPopup(c, sink),
		Checkout: NewCheckout(c, sink),
	}
}

// Notify routes coordinator notices to the panel, which shows them.
func (s *Set) Notify(n coordinator.Notice) {
	s.Panel.Notify(n)
}

// Views returns the full current state of every surface, used to prime a
// newly attached client.
func (s *Set) Views() []Diff {
	return []Diff{
		s.Badge.View(),
		s.Panel.View(),
		s.Popup.View(),
		s.Checkout.View(),
	}
}

// Close unsubscribes the surfaces from the store.
func (s *Set) Close() {
	s.closeOnce.Do(func() {
		s.Badge.Close()
		s.Panel.Close()
	})
}
