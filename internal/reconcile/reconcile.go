// Package reconcile computes the intents that move a cart snapshot to a
// desired state, enabling PUT semantics over the per-line storefront
// actions: the caller states the cart it wants and only the necessary
// mutations run.
package reconcile

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"cartsync/internal/model"
)

// DesiredItem is one line of the desired cart. Key names an existing line;
// without it the line is matched by product.
type DesiredItem struct {
	Key         string            `json:"key,omitempty"`
	ProductID   int               `json:"product_id,omitempty"`
	VariationID int               `json:"variation_id,omitempty"`
	Quantity    int               `json:"quantity"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Desired is the cart a client asks for. A nil Items or Coupons leaves
// that part of the cart untouched; an empty one clears it.
type Desired struct {
	Items          []DesiredItem `json:"items"`
	Coupons        []string      `json:"coupons"`
	ShippingMethod string        `json:"shipping_method,omitempty"`
}

// QuantityChange moves an existing line to a new quantity.
type QuantityChange struct {
	Key  string
	From int
	To   int
}

// Delta is the signed change passed to the coordinator.
func (q QuantityChange) Delta() int {
	return q.To - q.From
}

// Plan lists the mutations needed. Apply runs them in field order:
// removals, quantity changes, adds, coupon removals, coupon applies, then
// shipping, so no step touches a line an earlier step deleted.
type Plan struct {
	Remove        []string
	Update        []QuantityChange
	Add           []model.AddToCart
	RemoveCoupons []string
	ApplyCoupons  []string
	Shipping      string
}

// IsEmpty returns true if the cart already matches.
func (p *Plan) IsEmpty() bool {
	return len(p.Remove) == 0 && len(p.Update) == 0 && len(p.Add) == 0 &&
		len(p.RemoveCoupons) == 0 && len(p.ApplyCoupons) == 0 && p.Shipping == ""
}

// Steps returns the number of mutations the plan runs.
func (p *Plan) Steps() int {
	n := len(p.Remove) + len(p.Update) + len(p.Add) + len(p.RemoveCoupons) + len(p.ApplyCoupons)
	if p.Shipping != "" {
		n++
	}
	return n
}

// Diff computes the plan that turns snap into want. Lines and coupons are
// visited in snapshot order, so equal inputs give equal plans.
func Diff(snap *model.CartSnapshot, want Desired) (*Plan, error) {
	if snap == nil {
		snap = &model.CartSnapshot{}
	}
	plan := &Plan{}

	if want.Items != nil {
		if err := diffItems(plan, snap, want.Items); err != nil {
			return nil, err
		}
	}
	if want.Coupons != nil {
		diffCoupons(plan, snap, want.Coupons)
	}
	if want.ShippingMethod != "" {
		if !slices.ContainsFunc(snap.ShippingMethods, func(m model.ShippingMethod) bool { return m.ID == want.ShippingMethod }) {
			return nil, model.NewValidationError("shipping_method", "Invalid shipping method")
		}
		if sel, ok := snap.SelectedShipping(); !ok || sel.ID != want.ShippingMethod {
			plan.Shipping = want.ShippingMethod
		}
	}
	return plan, nil
}

func diffItems(plan *Plan, snap *model.CartSnapshot, desired []DesiredItem) error {
	matched := make(map[string]bool, len(desired))

	for i, d := range desired {
		if d.Quantity < 0 {
			return model.NewValidationError("quantity", fmt.Sprintf("Item %d has a negative quantity", i))
		}
		line, ok := match(snap, d, matched)
		if !ok {
			if d.Key != "" {
				return model.NewValidationError("cart_item_key", "Invalid cart item")
			}
			if d.ProductID <= 0 {
				return model.NewValidationError("product_id", "Invalid product")
			}
			if d.Quantity > 0 {
				plan.Add = append(plan.Add, model.AddToCart{
					ProductID:   d.ProductID,
					VariationID: d.VariationID,
					Quantity:    d.Quantity,
					Attributes:  d.Attributes,
				})
			}
			continue
		}
		matched[line.Key] = true

		switch {
		case d.Quantity == 0:
			plan.Remove = append(plan.Remove, line.Key)
		case d.Quantity != line.Quantity:
			plan.Update = append(plan.Update, QuantityChange{Key: line.Key, From: line.Quantity, To: d.Quantity})
		}
	}

	for _, line := range snap.Items {
		if !matched[line.Key] {
			plan.Remove = append(plan.Remove, line.Key)
		}
	}
	return nil
}

// match finds the line d refers to, skipping lines already claimed.
func match(snap *model.CartSnapshot, d DesiredItem, matched map[string]bool) (model.LineItem, bool) {
	if d.Key != "" {
		line, idx := snap.Item(d.Key)
		return line, idx >= 0 && !matched[d.Key]
	}
	for _, line := range snap.Items {
		if matched[line.Key] {
			continue
		}
		if line.ProductID == d.ProductID || (d.VariationID > 0 && line.ProductID == d.VariationID) {
			return line, true
		}
	}
	return model.LineItem{}, false
}

func diffCoupons(plan *Plan, snap *model.CartSnapshot, desired []string) {
	want := make([]string, 0, len(desired))
	for _, code := range desired {
		code = strings.TrimSpace(code)
		if code == "" || slices.ContainsFunc(want, func(c string) bool { return strings.EqualFold(c, code) }) {
			continue
		}
		want = append(want, code)
	}

	for _, cp := range snap.Coupons {
		if !slices.ContainsFunc(want, func(c string) bool { return strings.EqualFold(c, cp.Code) }) {
			plan.RemoveCoupons = append(plan.RemoveCoupons, cp.Code)
		}
	}
	for _, code := range want {
		if !snap.HasCoupon(code) {
			plan.ApplyCoupons = append(plan.ApplyCoupons, code)
		}
	}
}

// Intents is the subset of the coordinator a plan drives.
type Intents interface {
	RequestRemove(key string) error
	RequestQuantityChange(key string, delta int) error
	RequestAddToCart(req model.AddToCart) error
	RequestCouponRemove(code string) error
	RequestCouponApply(code string) error
	RequestShippingChange(methodID string) error
}

// StepError reports which step of a plan failed. Steps before it have
// been applied.
type StepError struct {
	Step    int
	Action  string
	Target  string
	Applied int
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Target, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Apply runs the plan against the coordinator and stops at the first
// failing step.
func Apply(c Intents, plan *Plan) error {
	step := 0
	run := func(action, target string, fn func() error) error {
		step++
		if err := fn(); err != nil {
			return &StepError{Step: step, Action: action, Target: target, Applied: step - 1, Err: err}
		}
		return nil
	}

	for _, key := range plan.Remove {
		if err := run("remove", key, func() error { return c.RequestRemove(key) }); err != nil {
			return err
		}
	}
	for _, u := range plan.Update {
		if err := run("update", u.Key, func() error { return c.RequestQuantityChange(u.Key, u.Delta()) }); err != nil {
			return err
		}
	}
	for _, add := range plan.Add {
		if err := run("add", fmt.Sprint(add.ProductID), func() error { return c.RequestAddToCart(add) }); err != nil {
			return err
		}
	}
	for _, code := range plan.RemoveCoupons {
		if err := run("remove coupon", code, func() error { return c.RequestCouponRemove(code) }); err != nil {
			return err
		}
	}
	for _, code := range plan.ApplyCoupons {
		if err := run("apply coupon", code, func() error { return c.RequestCouponApply(code) }); err != nil {
			return err
		}
	}
	if plan.Shipping != "" {
		if err := run("select shipping", plan.Shipping, func() error { return c.RequestShippingChange(plan.Shipping) }); err != nil {
			return err
		}
	}
	return nil
}

// Failed returns the step error inside err, if any.
func Failed(err error) (*StepError, bool) {
	var se *StepError
	ok := errors.As(err, &se)
	return se, ok
}
