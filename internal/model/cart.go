// Package model defines the cart, catalog and checkout types shared by the
// platform adapter, the snapshot store and the presentation surfaces.
package model

import (
	"strings"
)

// CartSnapshot is the authoritative-or-predicted view of the cart.
type CartSnapshot struct {
	Items               []LineItem       `json:"items"`
	Coupons             []Coupon         `json:"coupons"`
	ShippingMethods     []ShippingMethod `json:"shipping_methods"`
	Totals              Totals           `json:"totals"`
	Count               int              `json:"count"`
	ShippingDestination string           `json:"shipping_destination,omitempty"`
	Revision            uint64           `json:"revision"`
}

// LineItem is one cart line. Key is the platform's stable line identifier;
// the same product can appear under several keys with different options.
type LineItem struct {
	Key          string `json:"key"`
	ProductID    int    `json:"product_id"`
	Name         string `json:"name"`
	UnitPrice    Money  `json:"unit_price"`
	Quantity     int    `json:"quantity"`
	LineSubtotal Money  `json:"line_subtotal"`
	ImageURL     string `json:"image_url,omitempty"`
	Permalink    string `json:"permalink,omitempty"`
}

// Coupon is an applied coupon code.
type Coupon struct {
	Code     string `json:"code"`
	Discount Money  `json:"discount"`
}

// ShippingMethod is one available shipping rate.
type ShippingMethod struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Cost     Money  `json:"cost"`
	Selected bool   `json:"selected"`
}

// Totals holds the platform-computed cart totals.
type Totals struct {
	Subtotal      Money `json:"subtotal"`
	DiscountTotal Money `json:"discount_total"`
	DiscountTax   Money `json:"discount_tax"`
	ShippingTotal Money `json:"shipping_total"`
	ShippingTax   Money `json:"shipping_tax"`
	ContentsTax   Money `json:"contents_tax"`
	FeeTotal      Money `json:"fee_total"`
	FeeTax        Money `json:"fee_tax"`
	TotalTax      Money `json:"total_tax"`
	Total         Money `json:"total"`
}

// Clone returns a deep copy of the snapshot.
func (s *CartSnapshot) Clone() *CartSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Items = append([]LineItem(nil), s.Items...)
	out.Coupons = append([]Coupon(nil), s.Coupons...)
	out.ShippingMethods = append([]ShippingMethod(nil), s.ShippingMethods...)
	return &out
}

// Item returns the line with key and its index, or -1.
func (s *CartSnapshot) Item(key string) (LineItem, int) {
	for i, it := range s.Items {
		if it.Key == key {
			return it, i
		}
	}
	return LineItem{}, -1
}

// SelectedShipping returns the selected shipping method, if any.
func (s *CartSnapshot) SelectedShipping() (ShippingMethod, bool) {
	for _, m := range s.ShippingMethods {
		if m.Selected {
			return m, true
		}
	}
	return ShippingMethod{}, false
}

// HasCoupon reports whether code is applied, ignoring case like the platform.
func (s *CartSnapshot) HasCoupon(code string) bool {
	for _, c := range s.Coupons {
		if strings.EqualFold(c.Code, code) {
			return true
		}
	}
	return false
}

// Keys returns the line keys in display order.
func (s *CartSnapshot) Keys() []string {
	keys := make([]string, len(s.Items))
	for i, it := range s.Items {
		keys[i] = it.Key
	}
	return keys
}

// QuantityResult is the platform's answer to a quantity change or removal.
type QuantityResult struct {
	Count    int   `json:"count"`
	Subtotal Money `json:"subtotal"`
	Total    Money `json:"total"`
}

// CouponResult is the platform's answer to a coupon apply or remove.
type CouponResult struct {
	Code     string `json:"code"`
	Message  string `json:"message,omitempty"`
	Discount Money  `json:"discount"`
	Subtotal *Money `json:"subtotal,omitempty"`
	Total    *Money `json:"total,omitempty"`
}

// AddToCart describes an add-to-cart intent.
type AddToCart struct {
	ProductID   int               `json:"product_id"`
	VariationID int               `json:"variation_id,omitempty"`
	Quantity    int               `json:"quantity"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}
