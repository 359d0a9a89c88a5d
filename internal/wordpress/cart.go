package wordpress

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"cartsync/internal/model"
)

// Cart reads the cart through qc_get_cart_items. The read is retried on
// network failures.
func (c *Client) Cart(ctx context.Context) (*model.CartSnapshot, error) {
	var wire wpCart
	_, err := c.retryRead(ctx, func() (struct{}, error) {
		data, err := c.post(ctx, c.actions.GetCart, nil, "Failed to load cart")
		if err != nil {
			return struct{}{}, err
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return struct{}{}, model.NewNetworkError("storefront", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}
	return c.toSnapshot(&wire), nil
}

// toSnapshot converts the plugin cart payload. Display strings come from
// the platform's formatted prices; amounts are parsed from them or taken
// from the raw fields when present.
func (c *Client) toSnapshot(w *wpCart) *model.CartSnapshot {
	cur := c.cfg.Currency
	s := &model.CartSnapshot{
		Items:               make([]model.LineItem, 0, len(w.Items)),
		Coupons:             make([]model.Coupon, 0, len(w.Coupons)),
		ShippingMethods:     make([]model.ShippingMethod, 0, len(w.ShippingMethods)),
		Count:               int(w.Count),
		ShippingDestination: w.ShippingDestination,
	}

	for _, it := range w.Items {
		s.Items = append(s.Items, model.LineItem{
			Key:          it.Key,
			ProductID:    int(it.ID),
			Name:         PriceText(it.Name),
			UnitPrice:    cur.ParseMoney(PriceText(it.Price)),
			Quantity:     int(it.Quantity),
			LineSubtotal: cur.ParseMoney(PriceText(it.Subtotal)),
			ImageURL:     it.Image,
			Permalink:    it.Permalink,
		})
	}

	for _, cp := range w.Coupons {
		s.Coupons = append(s.Coupons, model.Coupon{
			Code:     cp.Code,
			Discount: cur.ParseMoney(PriceText(cp.Discount)),
		})
	}

	for _, m := range w.ShippingMethods {
		cost := cur.ParseRaw(string(m.Cost))
		if text := PriceText(m.CostFormatted); text != "" {
			cost.Display = text
		}
		s.ShippingMethods = append(s.ShippingMethods, model.ShippingMethod{
			ID:       m.ID,
			Label:    PriceText(m.Label),
			Cost:     cost,
			Selected: m.Selected,
		})
	}

	total := cur.ParseMoney(PriceText(w.Total))
	if w.TotalRaw != "" {
		raw := cur.ParseRaw(string(w.TotalRaw))
		total.Amount = raw.Amount
		if total.Display == "" {
			total.Display = raw.Display
		}
	}

	s.Totals = model.Totals{
		Subtotal:      cur.ParseMoney(PriceText(w.Subtotal)),
		DiscountTotal: cur.ParseRaw(string(w.DiscountTotal)),
		DiscountTax:   cur.ParseRaw(string(w.DiscountTax)),
		ShippingTotal: cur.ParseRaw(string(w.ShippingTotal)),
		ShippingTax:   cur.ParseRaw(string(w.ShippingTax)),
		ContentsTax:   cur.ParseRaw(string(w.ContentsTax)),
		FeeTotal:      cur.ParseRaw(string(w.FeeTotal)),
		FeeTax:        cur.ParseRaw(string(w.FeeTax)),
		TotalTax:      cur.ParseRaw(string(w.TotalTax)),
		Total:         total,
	}

	if s.Count == 0 {
		for _, it := range s.Items {
			s.Count += it.Quantity
		}
	}
	return s
}

// SetQuantity calls qc_update_cart_item. Zero removes the line.
func (c *Client) SetQuantity(ctx context.Context, key string, quantity int) (*model.QuantityResult, error) {
	if key == "" {
		return nil, model.NewValidationError("cart_item_key", "Invalid cart item")
	}
	if quantity < 0 {
		return nil, model.NewValidationError("quantity", "Quantity cannot be negative")
	}
	form := url.Values{
		"cart_item_key": {key},
		"quantity":      {strconv.Itoa(quantity)},
	}
	data, err := c.post(ctx, c.actions.UpdateItem, form, "Failed to update cart")
	if err != nil {
		return nil, err
	}
	return c.decodeQuantity(data)
}

// RemoveItem calls qc_remove_cart_item.
func (c *Client) RemoveItem(ctx context.Context, key string) (*model.QuantityResult, error) {
	if key == "" {
		return nil, model.NewValidationError("cart_item_key", "Invalid cart item")
	}
	data, err := c.post(ctx, c.actions.RemoveItem, url.Values{"cart_item_key": {key}}, "Failed to remove item")
	if err != nil {
		return nil, err
	}
	return c.decodeQuantity(data)
}

func (c *Client) decodeQuantity(data json.RawMessage) (*model.QuantityResult, error) {
	var w wpQuantity
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, model.NewNetworkError("storefront", err)
	}
	return &model.QuantityResult{
		Count:    int(w.Count),
		Subtotal: c.cfg.Currency.ParseMoney(PriceText(w.Subtotal)),
		Total:    c.cfg.Currency.ParseMoney(PriceText(w.Total)),
	}, nil
}

// ApplyCoupon applies code. A failure carries the first platform notice.
func (c *Client) ApplyCoupon(ctx context.Context, code string) (*model.CouponResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, model.NewValidationError("coupon_code", "Please enter a coupon code")
	}
	data, err := c.post(ctx, c.actions.ApplyCoupon, url.Values{"coupon_code": {code}}, "Invalid coupon code")
	if err != nil {
		return nil, err
	}
	return c.decodeCoupon(data, code)
}

// RemoveCoupon removes code.
func (c *Client) RemoveCoupon(ctx context.Context, code string) (*model.CouponResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, model.NewValidationError("coupon_code", "Please enter a coupon code")
	}
	data, err := c.post(ctx, c.actions.RemoveCoupon, url.Values{"coupon_code": {code}}, "Failed to remove coupon")
	if err != nil {
		return nil, err
	}
	return c.decodeCoupon(data, code)
}

func (c *Client) decodeCoupon(data json.RawMessage, code string) (*model.CouponResult, error) {
	var w wpCouponResult
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, model.NewNetworkError("storefront", err)
	}
	cur := c.cfg.Currency
	out := &model.CouponResult{
		Code:     w.CouponCode,
		Message:  w.Message,
		Discount: cur.ParseMoney(PriceText(w.Discount)),
	}
	if out.Code == "" {
		out.Code = code
	}
	if w.CartTotals != nil {
		sub := cur.ParseMoney(PriceText(w.CartTotals.Subtotal))
		total := cur.ParseMoney(PriceText(w.CartTotals.Total))
		out.Subtotal = &sub
		out.Total = &total
	}
	return out, nil
}

// SelectShipping persists the chosen method. The platform answers with a
// message only; totals come from the next cart read.
func (c *Client) SelectShipping(ctx context.Context, methodID string) error {
	if methodID == "" {
		return model.NewValidationError("shipping_method", "Please select a shipping method")
	}
	_, err := c.post(ctx, c.actions.UpdateShipping, url.Values{"shipping_method": {methodID}}, "Failed to update shipping method")
	return err
}

// AddToCart adds a product or variation. On success the plugin answers
// with the refreshed cart fragments rather than an envelope.
func (c *Client) AddToCart(ctx context.Context, req *model.AddToCart) error {
	if req == nil || req.ProductID <= 0 {
		return model.NewValidationError("product_id", "Invalid product")
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	form := url.Values{
		"product_id": {strconv.Itoa(req.ProductID)},
		"quantity":   {strconv.Itoa(qty)},
	}
	if req.VariationID > 0 {
		form.Set("variation_id", strconv.Itoa(req.VariationID))
	}
	for name, value := range req.Attributes {
		if !strings.HasPrefix(name, "attribute_") {
			name = "attribute_" + name
		}
		form.Set(name, value)
	}
	_, err := c.post(ctx, c.actions.AddToCart, form, "Failed to add to cart")
	return err
}
