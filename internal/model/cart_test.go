package model

import (
	"errors"
	"testing"
)

func TestCartSnapshotCloneIsDeep(t *testing.T) {
	orig := &CartSnapshot{
		Items:           []LineItem{{Key: "k1", Quantity: 2}},
		Coupons:         []Coupon{{Code: "SAVE10"}},
		ShippingMethods: []ShippingMethod{{ID: "flat_rate:1", Selected: true}},
		Revision:        3,
	}

	c := orig.Clone()
	c.Items[0].Quantity = 9
	c.Coupons[0].Code = "OTHER"
	c.ShippingMethods[0].Selected = false

	if orig.Items[0].Quantity != 2 {
		t.Errorf("original quantity = %d, want 2", orig.Items[0].Quantity)
	}
	if orig.Coupons[0].Code != "SAVE10" {
		t.Errorf("original coupon = %q, want SAVE10", orig.Coupons[0].Code)
	}
	if !orig.ShippingMethods[0].Selected {
		t.Error("original shipping selection changed")
	}
	if c.Revision != 3 {
		t.Errorf("clone revision = %d, want 3", c.Revision)
	}
}

func TestCartSnapshotLookups(t *testing.T) {
	s := &CartSnapshot{
		Items:           []LineItem{{Key: "a"}, {Key: "b"}},
		Coupons:         []Coupon{{Code: "save10"}},
		ShippingMethods: []ShippingMethod{{ID: "free"}, {ID: "flat", Selected: true}},
	}

	if _, idx := s.Item("b"); idx != 1 {
		t.Errorf("Item(b) index = %d, want 1", idx)
	}
	if _, idx := s.Item("zz"); idx != -1 {
		t.Errorf("Item(zz) index = %d, want -1", idx)
	}
	if !s.HasCoupon("SAVE10") {
		t.Error("HasCoupon should ignore case")
	}
	if m, ok := s.SelectedShipping(); !ok || m.ID != "flat" {
		t.Errorf("SelectedShipping() = %v, %v, want flat", m.ID, ok)
	}
}

func TestVariationMatches(t *testing.T) {
	p := &VariableProduct{
		Variations: []Variation{
			{ID: 11, Attributes: map[string]string{"attribute_pa_color": "red", "attribute_pa_size": "m"}},
			{ID: 12, Attributes: map[string]string{"attribute_pa_color": "blue", "attribute_pa_size": ""}, InStock: true},
		},
	}

	tests := []struct {
		name     string
		selected map[string]string
		wantID   int
		wantOK   bool
	}{
		{"exact", map[string]string{"attribute_pa_color": "red", "attribute_pa_size": "m"}, 11, true},
		{"any size", map[string]string{"attribute_pa_color": "blue", "attribute_pa_size": "xl"}, 12, true},
		{"case insensitive", map[string]string{"attribute_pa_color": "RED", "attribute_pa_size": "M"}, 11, true},
		{"incomplete", map[string]string{"attribute_pa_color": "red"}, 0, false},
		{"no match", map[string]string{"attribute_pa_color": "green", "attribute_pa_size": "m"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := p.FindVariation(tt.selected)
			if ok != tt.wantOK || v.ID != tt.wantID {
				t.Errorf("FindVariation() = %d, %v, want %d, %v", v.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}

	if v, ok := p.FirstAvailable(); !ok || v.ID != 12 {
		t.Errorf("FirstAvailable() = %d, %v, want 12", v.ID, ok)
	}
}

func TestCheckoutFormValidate(t *testing.T) {
	tests := []struct {
		name      string
		billing   Address
		wantField string
	}{
		{"complete", Address{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}, ""},
		{"missing first name", Address{LastName: "Lovelace", Email: "ada@example.com"}, "billing_first_name"},
		{"missing email", Address{FirstName: "Ada", LastName: "Lovelace"}, "billing_email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckoutForm{Billing: tt.billing}.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want validation error", err)
			}
			want := "Field " + tt.wantField + " is required"
			if MessageOf(err) != want {
				t.Errorf("message = %q, want %q", MessageOf(err), want)
			}
		})
	}
}

func TestEffectiveShippingCopiesBilling(t *testing.T) {
	f := CheckoutForm{
		Billing:  Address{FirstName: "Ada", City: "London", Email: "ada@example.com"},
		Shipping: Address{FirstName: "Other", City: "Paris"},
	}

	if got := f.EffectiveShipping(); got.City != "London" || got.Email != "" {
		t.Errorf("EffectiveShipping() = %+v, want billing without email", got)
	}

	f.ShipToDifferentAddress = true
	if got := f.EffectiveShipping(); got.City != "Paris" {
		t.Errorf("EffectiveShipping() city = %q, want Paris", got.City)
	}
}
