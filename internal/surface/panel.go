package surface

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"cartsync/internal/cart"
	"cartsync/internal/coordinator"
	"cartsync/internal/model"
)

// CouponView is one applied coupon as shown in the panel.
type CouponView struct {
	Code     string `json:"code"`
	Discount string `json:"discount"`
}

// ShippingView is one selectable shipping rate.
type ShippingView struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Cost     string `json:"cost"`
	Selected bool   `json:"selected"`
}

// TotalsView is the totals block.
type TotalsView struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount,omitempty"`
	Shipping string `json:"shipping,omitempty"`
	Tax      string `json:"tax,omitempty"`
	Total    string `json:"total"`
}

// UpsellView is one recommended product.
type UpsellView struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
	Variable bool   `json:"variable"`
}

// maxUpsellFetches bounds concurrent product reads for the upsell strip.
const maxUpsellFetches = 4

// Panel is the slide-out cart drawer.
type Panel struct {
	coord  Coordinator
	sink   Sink
	logger *slog.Logger

	mu          sync.Mutex
	snap        *model.CartSnapshot
	pending     []string
	couponInput string
	notice      *coordinator.Notice
	upsell      []UpsellView
	last        fields
	lastRows    []Row
	unsubscribe func()
}

// NewPanel renders the current cart and follows the store.
func NewPanel(c Coordinator, sink Sink, logger *slog.Logger) *Panel {
	p := &Panel{coord: c, sink: sink, logger: logger}
	p.mu.Lock()
	p.snap = c.Store().Snapshot()
	p.pending = c.Store().Pending()
	p.last, p.lastRows = p.render()
	p.mu.Unlock()
	p.unsubscribe = c.Store().Subscribe(p.onChange)
	return p
}

func (p *Panel) render() (fields, []Row) {
	s := p.coord.Settings()
	busy := func(resource string) bool { return slices.Contains(p.pending, resource) }

	rows := make([]Row, len(p.snap.Items))
	for i, it := range p.snap.Items {
		rows[i] = Row{
			Key:          it.Key,
			ProductID:    it.ProductID,
			Name:         it.Name,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice.Display,
			LineSubtotal: it.LineSubtotal.Display,
			ImageURL:     it.ImageURL,
			Busy:         busy(cart.ItemResource(it.Key)),
		}
	}

	coupons := make([]CouponView, len(p.snap.Coupons))
	for i, c := range p.snap.Coupons {
		coupons[i] = CouponView{Code: c.Code, Discount: c.Discount.Display}
	}

	t := p.snap.Totals
	totals := TotalsView{Subtotal: t.Subtotal.Display, Total: t.Total.Display}
	if !t.DiscountTotal.IsZero() {
		totals.Discount = t.DiscountTotal.Display
	}
	if !t.TotalTax.IsZero() {
		totals.Tax = t.TotalTax.Display
	}

	f := fields{
		"count":                p.snap.Count,
		"empty":                len(p.snap.Items) == 0,
		"totals":               totals,
		"show_checkout_button": s.Cart.ShowCheckoutBtn && len(p.snap.Items) > 0,
	}
	if len(coupons) > 0 || s.Cart.ShowCouponField {
		f["coupons"] = coupons
		f["coupons_loading"] = busy(cart.ResourceCoupons)
	}
	if s.Cart.ShowCouponField {
		f["coupon_input"] = p.couponInput
	}
	if s.Cart.ShowShipping {
		methods := make([]ShippingView, len(p.snap.ShippingMethods))
		for i, m := range p.snap.ShippingMethods {
			methods[i] = ShippingView{ID: m.ID, Label: m.Label, Cost: m.Cost.Display, Selected: m.Selected}
		}
		f["shipping"] = methods
		f["shipping_loading"] = busy(cart.ResourceShipping)
		totals.Shipping = t.ShippingTotal.Display
		f["totals"] = totals
	}
	if s.Upsell.ShowUpsellProducts && p.upsell != nil {
		f["upsell"] = p.upsell
	}
	if p.notice != nil {
		f["notice"] = *p.notice
	}
	return f, rows
}

// publish re-renders and emits what changed. Callers hold p.mu.
func (p *Panel) publish() {
	next, rows := p.render()
	d := Diff{Surface: NamePanel, Fields: changedFields(p.last, next)}
	if rd := DiffRows(p.lastRows, rows); !rd.IsEmpty() {
		d.Rows = rd
	}
	p.last, p.lastRows = next, rows
	if len(d.Fields) == 0 && d.Rows == nil {
		return
	}
	if len(d.Fields) == 0 {
		d.Fields = nil
	}
	p.sink.Emit(d)
}

func (p *Panel) onChange(ch cart.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = ch.Snapshot
	p.pending = ch.Pending
	p.publish()
}

// Notify shows a coordinator notice. A successful coupon apply also clears
// the coupon input.
func (p *Panel) Notify(n coordinator.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notice = &n
	if n.Code == coordinator.CodeCouponApplied {
		p.couponInput = ""
	}
	// A repeated notice renders identical fields; emit it regardless.
	next, _ := p.render()
	changed := changedFields(p.last, next)
	changed["notice"] = n
	p.last = next
	p.sink.Emit(Diff{Surface: NamePanel, Fields: changed})
}

// DismissNotice clears the shown notice.
func (p *Panel) DismissNotice() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notice = nil
	p.publish()
}

// View returns the panel's full state.
func (p *Panel) View() Diff {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fullDiff(NamePanel, p.last, p.lastRows)
}

// Rows returns the rendered rows in display order.
func (p *Panel) Rows() []Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.lastRows)
}

// Increment raises a line's quantity by one.
func (p *Panel) Increment(key string) error {
	return p.coord.RequestQuantityChange(key, 1)
}

// Decrement lowers a line's quantity by one; at one it removes the line.
func (p *Panel) Decrement(key string) error {
	return p.coord.RequestQuantityChange(key, -1)
}

// Remove removes a line.
func (p *Panel) Remove(key string) error {
	return p.coord.RequestRemove(key)
}

// SetCouponInput records what the shopper typed in the coupon field.
func (p *Panel) SetCouponInput(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.couponInput = code
	p.publish()
}

// ApplyCoupon applies the typed coupon code.
func (p *Panel) ApplyCoupon() error {
	p.mu.Lock()
	code := strings.TrimSpace(p.couponInput)
	p.mu.Unlock()
	return p.coord.RequestCouponApply(code)
}

// RemoveCoupon removes an applied coupon.
func (p *Panel) RemoveCoupon(code string) error {
	return p.coord.RequestCouponRemove(code)
}

// SelectShipping selects a shipping rate.
func (p *Panel) SelectShipping(methodID string) error {
	return p.coord.RequestShippingChange(methodID)
}

// Reorder drops the dragged row next to target.
func (p *Panel) Reorder(dragged, target string) error {
	return p.coord.Reorder(dragged, target)
}

// LoadUpsell fetches the configured upsell products. Products that fail
// to load are left out.
func (p *Panel) LoadUpsell(ctx context.Context) {
	s := p.coord.Settings().Upsell
	if !s.ShowUpsellProducts || len(s.UpsellProducts) == 0 {
		return
	}

	found := make([]*model.Product, len(s.UpsellProducts))
	wp := pool.New().WithContext(ctx).WithMaxGoroutines(maxUpsellFetches)
	for i, id := range s.UpsellProducts {
		wp.Go(func(ctx context.Context) error {
			prod, err := p.coord.Product(ctx, id)
			if err != nil {
				p.logger.Debug("upsell product unavailable", "product_id", id, "error", err)
				return nil
			}
			found[i] = prod
			return nil
		})
	}
	_ = wp.Wait()

	views := make([]UpsellView, 0, len(found))
	for _, prod := range found {
		if prod == nil {
			continue
		}
		views = append(views, UpsellView{
			ID:       prod.ID,
			Name:     prod.Name,
			Price:    prod.Price.Display,
			ImageURL: prod.ImageURL,
			Variable: prod.IsVariable(),
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.upsell = views
	p.publish()
}
