package model

// Address is a billing or shipping address.
type Address struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1,omitempty"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Fields flattens the address into platform form fields with prefix
// ("billing" or "shipping"). Shipping addresses carry no email or phone.
func (a Address) Fields(prefix string) map[string]string {
	f := map[string]string{
		prefix + "_first_name": a.FirstName,
		prefix + "_last_name":  a.LastName,
		prefix + "_company":    a.Company,
		prefix + "_address_1":  a.Address1,
		prefix + "_address_2":  a.Address2,
		prefix + "_city":       a.City,
		prefix + "_state":      a.State,
		prefix + "_postcode":   a.Postcode,
		prefix + "_country":    a.Country,
	}
	if prefix == "billing" {
		f["billing_email"] = a.Email
		f["billing_phone"] = a.Phone
	}
	return f
}

// CheckoutForm is everything the shopper entered across checkout steps.
type CheckoutForm struct {
	Billing                Address `json:"billing"`
	Shipping               Address `json:"shipping"`
	ShipToDifferentAddress bool    `json:"ship_to_different_address"`
	PaymentMethod          string  `json:"payment_method,omitempty"`
	Terms                  bool    `json:"terms,omitempty"`
}

// EffectiveShipping returns the shipping address the platform will use:
// the billing address unless shipping to a different address.
func (f CheckoutForm) EffectiveShipping() Address {
	if f.ShipToDifferentAddress {
		return f.Shipping
	}
	s := f.Billing
	s.Email = ""
	s.Phone = ""
	return s
}

// RequiredCheckoutFields are validated before saving the address and
// before placing the order.
var RequiredCheckoutFields = []string{"billing_first_name", "billing_last_name", "billing_email"}

// Validate checks the required fields and returns the first missing one.
func (f CheckoutForm) Validate() error {
	values := f.Billing.Fields("billing")
	for _, field := range RequiredCheckoutFields {
		if values[field] == "" {
			return NewValidationError(field, "Field "+field+" is required")
		}
	}
	return nil
}

// OrderResult is the platform's answer to a placed order.
type OrderResult struct {
	OrderID  int    `json:"order_id"`
	Redirect string `json:"redirect"`
	Message  string `json:"message,omitempty"`
}
