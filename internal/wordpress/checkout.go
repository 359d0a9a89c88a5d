package wordpress

import (
	"context"
	"net/url"

	json "github.com/goccy/go-json"

	"cartsync/internal/model"
)

// checkoutForm flattens the checkout form into the fields the plugin's
// checkout handlers read from $_POST.
func checkoutForm(f *model.CheckoutForm) url.Values {
	form := url.Values{}
	for k, v := range f.Billing.Fields("billing") {
		form.Set(k, v)
	}
	for k, v := range f.EffectiveShipping().Fields("shipping") {
		form.Set(k, v)
	}
	if f.ShipToDifferentAddress {
		form.Set("ship_to_different_address", "1")
	}
	return form
}

// SaveAddress stores the address in the platform session so shipping
// rates are recalculated for it.
func (c *Client) SaveAddress(ctx context.Context, f *model.CheckoutForm) error {
	if f == nil {
		return model.NewValidationError("billing_first_name", "Field billing_first_name is required")
	}
	if err := f.Validate(); err != nil {
		return err
	}
	_, err := c.post(ctx, c.actions.SaveAddress, checkoutForm(f), "Failed to save address")
	return err
}

// PlaceOrder creates the order and runs the chosen payment method.
func (c *Client) PlaceOrder(ctx context.Context, f *model.CheckoutForm) (*model.OrderResult, error) {
	if f == nil {
		return nil, model.NewValidationError("billing_first_name", "Field billing_first_name is required")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.PaymentMethod == "" {
		return nil, model.NewValidationError("payment_method", "Invalid payment method")
	}

	form := checkoutForm(f)
	form.Set("payment_method", f.PaymentMethod)
	if f.Terms {
		form.Set("terms", "1")
	}

	data, err := c.post(ctx, c.actions.PlaceOrder, form, "Payment processing failed")
	if err != nil {
		return nil, err
	}
	var w wpOrder
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, model.NewNetworkError("storefront", err)
	}
	return &model.OrderResult{
		OrderID:  int(w.OrderID),
		Redirect: w.Redirect,
		Message:  w.Message,
	}, nil
}
