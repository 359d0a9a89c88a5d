// Package platform defines the contract with the e-commerce platform that
// owns the authoritative cart, pricing, shipping and order state.
package platform

import (
	"context"

	"cartsync/internal/model"
)

// Platform abstracts the storefront's cart, catalog and checkout calls.
// Each shopper session gets its own Platform bound to its platform session.
//
// Implementations return typed failures from internal/model:
// NetworkError when no well-formed response arrived, ApplicationError for
// a well-formed failure, SessionError when the security token is rejected.
// Every mutating call carries the session's security token.
type Platform interface {
	// Cart returns the authoritative cart snapshot. Revision is left zero;
	// the snapshot store assigns revisions on absorb.
	Cart(ctx context.Context) (*model.CartSnapshot, error)

	// SetQuantity sets a line quantity. Zero removes the line.
	SetQuantity(ctx context.Context, key string, quantity int) (*model.QuantityResult, error)

	// RemoveItem removes a line.
	RemoveItem(ctx context.Context, key string) (*model.QuantityResult, error)

	// ApplyCoupon applies a coupon code. Failures carry the platform's
	// notice text when it gave one.
	ApplyCoupon(ctx context.Context, code string) (*model.CouponResult, error)

	// RemoveCoupon removes an applied coupon.
	RemoveCoupon(ctx context.Context, code string) (*model.CouponResult, error)

	// SelectShipping persists the chosen shipping method. The platform
	// recomputes totals on the next cart read.
	SelectShipping(ctx context.Context, methodID string) error

	// AddToCart adds a product or variation.
	AddToCart(ctx context.Context, req *model.AddToCart) error

	// Product returns one catalog product.
	Product(ctx context.Context, id int) (*model.Product, error)

	// Products lists catalog products.
	Products(ctx context.Context, q model.ProductQuery) ([]model.Product, error)

	// VariableProduct returns a product with its attributes and variations.
	VariableProduct(ctx context.Context, id int) (*model.VariableProduct, error)

	// SaveAddress stores the checkout address in the platform session so
	// shipping rates are recalculated for it.
	SaveAddress(ctx context.Context, form *model.CheckoutForm) error

	// PlaceOrder creates the order and runs the payment method.
	PlaceOrder(ctx context.Context, form *model.CheckoutForm) (*model.OrderResult, error)

	// RefreshToken obtains a fresh security token and the storefront settings.
	RefreshToken(ctx context.Context) (*Bootstrap, error)
}

// Bootstrap is what a storefront page hands to its scripts: the security
// token, the endpoints and the plugin settings.
type Bootstrap struct {
	Settings      model.StorefrontSettings `json:"settings"`
	PluginVersion string                   `json:"plugin_version,omitempty"`
}
