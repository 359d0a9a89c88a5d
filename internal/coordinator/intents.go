package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/time/rate"

	"cartsync/internal/cart"
	"cartsync/internal/model"
)

// RequestQuantityChange moves a line's quantity by delta. Intents inside
// the cooldown window are rejected; intents arriving while the line is
// busy are queued and applied in order once it resolves, in which case
// nil is returned immediately.
func (c *Coordinator) RequestQuantityChange(key string, delta int) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if key == "" {
		return model.NewValidationError("cart_item_key", "Invalid cart item")
	}
	if delta == 0 {
		return nil
	}
	if !c.limiter(key).Allow() {
		return model.NewCooldownError(cart.ItemResource(key))
	}

	err := c.changeQuantity(key, delta)
	if !errors.Is(err, model.ErrResourceBusy) {
		return err
	}

	resource := cart.ItemResource(key)
	c.mu.Lock()
	if _, reserved := c.inflight[resource]; reserved {
		c.queues[resource] = append(c.queues[resource], delta)
		c.mu.Unlock()
		c.logger.Debug("quantity intent queued", "resource", resource, "delta", delta)
		return nil
	}
	c.mu.Unlock()
	return c.changeQuantity(key, delta)
}

func (c *Coordinator) limiter(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.cfg.Cooldown), 1)
		c.limiters[key] = l
	}
	return l
}

func (c *Coordinator) changeQuantity(key string, delta int) error {
	m, err := c.quantityMutation(key, delta)
	if err != nil {
		return err
	}
	return c.Mutate(m)
}

// quantityMutation predicts from the line's current quantity. A resulting
// quantity of zero predicts the row's removal.
func (c *Coordinator) quantityMutation(key string, delta int) (Mutation, error) {
	item, idx := c.store.Snapshot().Item(key)
	if idx < 0 {
		return Mutation{}, model.NewValidationError("cart_item_key", "Invalid cart item")
	}
	newQty := max(0, item.Quantity+delta)
	currency := c.cfg.Currency

	return Mutation{
		Resource: cart.ItemResource(key),
		Kind:     "quantity",
		Predict: func(s *model.CartSnapshot) {
			cur, i := s.Item(key)
			if i < 0 {
				return
			}
			s.Count = max(0, s.Count+newQty-cur.Quantity)
			if newQty == 0 {
				s.Items = slices.Delete(s.Items, i, i+1)
				return
			}
			s.Items[i].Quantity = newQty
			s.Items[i].LineSubtotal = cart.EstimateLine(currency, cur.UnitPrice, newQty)
		},
		Call: func(ctx context.Context) (func(*model.CartSnapshot), error) {
			res, err := c.platform.SetQuantity(ctx, key, newQty)
			if err != nil {
				return nil, err
			}
			return mergeQuantity(res), nil
		},
		FailureMessage: "Failed to update cart",
		FollowUp:       true,
	}, nil
}

// mergeQuantity takes count and totals verbatim from the platform.
func mergeQuantity(res *model.QuantityResult) func(*model.CartSnapshot) {
	return func(s *model.CartSnapshot) {
		s.Count = res.Count
		if res.Subtotal.Display != "" {
			s.Totals.Subtotal = res.Subtotal
		}
		if res.Total.Display != "" {
			s.Totals.Total = res.Total
		}
	}
}

// drain applies a queued quantity intent under the reservation it
// inherited from the mutation before it.
func (c *Coordinator) drain(f *inflight, key string, delta int) {
	err := c.checkOpen()
	var m Mutation
	if err == nil {
		m, err = c.quantityMutation(key, delta)
	}
	if err != nil {
		close(f.ready)
		f.cancel()
		c.finish(f)
		c.logger.Debug("queued quantity intent dropped", "resource", f.resource, "delta", delta, "error", err)
		return
	}
	if err := c.run(m, f); err != nil && !errors.Is(err, model.ErrSuperseded) {
		c.logger.Debug("queued quantity intent failed", "resource", f.resource, "error", err)
	}
}

// RequestRemove removes a line. A quantity change still in flight for the
// line is cancelled and rolled back first.
func (c *Coordinator) RequestRemove(key string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if key == "" {
		return model.NewValidationError("cart_item_key", "Invalid cart item")
	}
	resource := cart.ItemResource(key)

	if snap := c.store.Snapshot(); c.busy(resource) {
		if _, idx := snap.Item(key); idx < 0 {
			// Already being removed.
			return model.NewBusyError(resource)
		}
		c.supersede(resource)
	}

	if _, idx := c.store.Snapshot().Item(key); idx < 0 {
		return model.NewValidationError("cart_item_key", "Invalid cart item")
	}

	return c.Mutate(Mutation{
		Resource: resource,
		Kind:     "remove",
		Predict: func(s *model.CartSnapshot) {
			cur, i := s.Item(key)
			if i < 0 {
				return
			}
			s.Count = max(0, s.Count-cur.Quantity)
			s.Items = slices.Delete(s.Items, i, i+1)
		},
		Call: func(ctx context.Context) (func(*model.CartSnapshot), error) {
			res, err := c.platform.RemoveItem(ctx, key)
			if err != nil {
				return nil, err
			}
			return mergeQuantity(res), nil
		},
		FailureMessage: "Failed to remove item",
		FollowUp:       true,
	})
}

// RequestCouponApply applies a coupon. The coupon list shows as loading
// while the call is in flight; totals are left to the platform.
func (c *Coordinator) RequestCouponApply(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.NewValidationError("coupon_code", "Please enter a coupon code")
	}
	var applied *model.CouponResult
	err := c.Mutate(Mutation{
		Resource: cart.ResourceCoupons,
		Kind:     "coupon_apply",
		Predict:  func(*model.CartSnapshot) {},
		Call: func(ctx context.Context) (func(*model.CartSnapshot), error) {
			res, err := c.platform.ApplyCoupon(ctx, code)
			if err != nil {
				return nil, err
			}
			applied = res
			return func(s *model.CartSnapshot) {
				upsertCoupon(s, model.Coupon{Code: res.Code, Discount: res.Discount})
				mergeCouponTotals(s, res)
			}, nil
		},
		FailureMessage: "Invalid coupon code",
		FollowUp:       true,
	})
	if err == nil && applied != nil {
		msg := applied.Message
		if msg == "" {
			msg = fmt.Sprintf("Coupon %s applied", applied.Code)
		}
		c.sink.Notify(Notice{Level: LevelInfo, Code: CodeCouponApplied, Message: msg, Resource: cart.ResourceCoupons})
	}
	return err
}

// RequestCouponRemove removes an applied coupon, predicting its removal.
func (c *Coordinator) RequestCouponRemove(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.NewValidationError("coupon_code", "Please enter a coupon code")
	}
	var removed *model.CouponResult
	err := c.Mutate(Mutation{
		Resource: cart.ResourceCoupons,
		Kind:     "coupon_remove",
		Predict: func(s *model.CartSnapshot) {
			s.Coupons = slices.DeleteFunc(s.Coupons, func(cp model.Coupon) bool {
				return strings.EqualFold(cp.Code, code)
			})
		},
		Call: func(ctx context.Context) (func(*model.CartSnapshot), error) {
			res, err := c.platform.RemoveCoupon(ctx, code)
			if err != nil {
				return nil, err
			}
			removed = res
			return func(s *model.CartSnapshot) { mergeCouponTotals(s, res) }, nil
		},
		FailureMessage: "Failed to remove coupon",
		FollowUp:       true,
	})
	if err == nil && removed != nil && removed.Message != "" {
		c.sink.Notify(Notice{Level: LevelInfo, Code: CodeCouponRemoved, Message: removed.Message, Resource: cart.ResourceCoupons})
	}
	return err
}

func upsertCoupon(s *model.CartSnapshot, cp model.Coupon) {
	for i := range s.Coupons {
		if strings.EqualFold(s.Coupons[i].Code, cp.Code) {
			s.Coupons[i] = cp
			return
		}
	}
	s.Coupons = append(s.Coupons, cp)
}

func mergeCouponTotals(s *model.CartSnapshot, res *model.CouponResult) {
	if res.Subtotal != nil {
		s.Totals.Subtotal = *res.Subtotal
	}
	if res.Total != nil {
		s.Totals.Total = *res.Total
	}
}

// RequestShippingChange selects a shipping method and estimates the total
// as subtotal plus the method's cost. A failed call keeps the selection
// and emits a warning.
func (c *Coordinator) RequestShippingChange(methodID string) error {
	if methodID == "" {
		return model.NewValidationError("shipping_method", "Please select a shipping method")
	}
	snap := c.store.Snapshot()
	if !slices.ContainsFunc(snap.ShippingMethods, func(m model.ShippingMethod) bool { return m.ID == methodID }) {
		return model.NewValidationError("shipping_method", "Invalid shipping method")
	}
	currency := c.cfg.Currency

	return c.Mutate(Mutation{
		Resource: cart.ResourceShipping,
		Kind:     "shipping",
		Predict: func(s *model.CartSnapshot) {
			for i := range s.ShippingMethods {
				m := &s.ShippingMethods[i]
				m.Selected = m.ID == methodID
				if m.Selected {
					s.Totals.ShippingTotal = m.Cost
					s.Totals.Total = currency.Money(s.Totals.Subtotal.Amount.Add(m.Cost.Amount))
				}
			}
		},
		Call: func(ctx context.Context) (func(*model.CartSnapshot), error) {
			return nil, c.platform.SelectShipping(ctx, methodID)
		},
		FailureMessage: "Shipping method could not be saved",
		KeepOnFailure:  true,
		FollowUp:       true,
	})
}

// RequestAddToCart adds a product. The add is not predicted; a follow-up
// refresh brings the new line in. Repeated adds of the same product are
// rejected while one is in flight.
func (c *Coordinator) RequestAddToCart(req model.AddToCart) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if req.ProductID <= 0 {
		return model.NewValidationError("product_id", "Invalid product")
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	key := fmt.Sprintf("add:%d:%d", req.ProductID, req.VariationID)
	release, err := c.guard(key)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := c.callContext()
	defer cancel()

	if err := c.observe(key, c.platform.AddToCart(ctx, &req)); err != nil {
		c.logger.Warn("add to cart failed", "product_id", req.ProductID, "error", err)
		if !errors.Is(err, model.ErrSession) {
			c.sink.Notify(Notice{
				Level:   LevelError,
				Code:    CodeMutationFailed,
				Message: failureMessage(err, "Failed to add to cart"),
			})
		}
		return err
	}

	c.sink.Notify(Notice{Level: LevelInfo, Code: CodeAddedToCart, Message: "Product added to cart"})
	c.refreshInBackground()
	return nil
}

// Reorder moves dragged next to target in the display order.
func (c *Coordinator) Reorder(dragged, target string) error {
	if !c.Settings().General.EnableDragAndDrop {
		return model.NewValidationError("reorder", "Reordering is disabled")
	}
	if !c.reorder.Move(dragged, target) {
		return model.NewValidationError("reorder", "Invalid cart item")
	}
	c.store.Rearrange(c.reorder.Apply)
	return nil
}

// BeginDrag starts dragging the line key.
func (c *Coordinator) BeginDrag(key string) {
	c.reorder.Begin(key)
}

// Drop ends the current drag on target.
func (c *Coordinator) Drop(target string) error {
	if !c.Settings().General.EnableDragAndDrop {
		c.reorder.Cancel()
		return model.NewValidationError("reorder", "Reordering is disabled")
	}
	if !c.reorder.Drop(target) {
		return nil
	}
	c.store.Rearrange(c.reorder.Apply)
	return nil
}
