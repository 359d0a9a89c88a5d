package wordpress

import (
	"bytes"
	"strconv"

	json "github.com/goccy/go-json"
)

// ajaxEnvelope is the wp_send_json_success / wp_send_json_error shape.
// Success is a pointer because some actions (cart fragments) answer with a
// bare object and no envelope.
type ajaxEnvelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// ajaxFailure is the data payload of wp_send_json_error. Handlers use either key.
type ajaxFailure struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// rawNumber accepts the platform's raw amounts whether PHP encoded them as
// numbers or strings.
type rawNumber string

func (n *rawNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte("false")) {
		*n = ""
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*n = rawNumber(s)
		return nil
	}
	*n = rawNumber(b)
	return nil
}

// flexInt accepts integers encoded as numbers or numeric strings.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var raw rawNumber
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	if raw == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return err
	}
	*n = flexInt(f)
	return nil
}

// flexString accepts strings or PHP's false for a missing value.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	var raw rawNumber
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	*s = flexString(raw)
	return nil
}

// wpCart is the qc_get_cart_items payload.
type wpCart struct {
	Items               []wpCartItem       `json:"items"`
	Count               flexInt            `json:"count"`
	Subtotal            string             `json:"subtotal"`
	DiscountTotal       rawNumber          `json:"discount_total"`
	DiscountTax         rawNumber          `json:"discount_tax"`
	ShippingTotal       rawNumber          `json:"shipping_total"`
	ShippingTax         rawNumber          `json:"shipping_tax"`
	ContentsTax         rawNumber          `json:"cart_contents_tax"`
	FeeTotal            rawNumber          `json:"fee_total"`
	FeeTax              rawNumber          `json:"fee_tax"`
	TotalTax            rawNumber          `json:"total_tax"`
	Total               string             `json:"total"`
	TotalRaw            rawNumber          `json:"total_raw"`
	Coupons             []wpCoupon         `json:"coupons"`
	ShippingMethods     []wpShippingMethod `json:"shipping_methods"`
	ShippingDestination string             `json:"shipping_destination"`
}

type wpCartItem struct {
	Key       string  `json:"key"`
	ID        flexInt `json:"id"`
	Name      string  `json:"name"`
	Price     string  `json:"price"`
	Quantity  flexInt `json:"quantity"`
	Subtotal  string  `json:"subtotal"`
	Image     string  `json:"image"`
	Permalink string  `json:"permalink"`
}

type wpCoupon struct {
	Code     string `json:"code"`
	Discount string `json:"discount"`
}

type wpShippingMethod struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	Cost          rawNumber `json:"cost"`
	CostFormatted string    `json:"cost_formatted"`
	Selected      bool      `json:"selected"`
}

// wpQuantity is the qc_update_cart_item / qc_remove_cart_item payload.
type wpQuantity struct {
	Count    flexInt `json:"count"`
	Subtotal string  `json:"subtotal"`
	Total    string  `json:"total"`
}

// wpCouponResult is the coupon apply / remove payload.
type wpCouponResult struct {
	Message    string `json:"message"`
	CouponCode string `json:"coupon_code"`
	Discount   string `json:"discount"`
	CartTotals *struct {
		Subtotal string `json:"subtotal"`
		Total    string `json:"total"`
	} `json:"cart_totals"`
}

// wpProduct is one entry of the storefront products REST route.
type wpProduct struct {
	ID          flexInt    `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Permalink   string     `json:"permalink"`
	Type        string     `json:"type"`
	Price       rawNumber  `json:"price"`
	PriceHTML   string     `json:"price_html"`
	Image       flexString `json:"image"`
	Images      []wpImage  `json:"images"`
	StockStatus string     `json:"stock_status"`
}

type wpImage struct {
	ID        flexInt `json:"id"`
	Src       string  `json:"src"`
	Thumbnail string  `json:"thumbnail"`
	Alt       string  `json:"alt"`
}

// wpVariableProduct is the qc_get_variable_product payload.
type wpVariableProduct struct {
	Product struct {
		ID               flexInt `json:"id"`
		Name             string  `json:"name"`
		Price            string  `json:"price"`
		ShortDescription string  `json:"short_description"`
		Image            string  `json:"image"`
		GalleryImages    []struct {
			URL string  `json:"url"`
			ID  flexInt `json:"id"`
		} `json:"gallery_images"`
		VariationsForm string `json:"variations_form"`
	} `json:"product"`
}

// wpVariation is one element of the variations form's data-product_variations.
type wpVariation struct {
	VariationID   flexInt           `json:"variation_id"`
	Attributes    map[string]string `json:"attributes"`
	DisplayPrice  rawNumber         `json:"display_price"`
	PriceHTML     string            `json:"price_html"`
	IsInStock     bool              `json:"is_in_stock"`
	IsPurchasable bool              `json:"is_purchasable"`
}

// wpOrder is the qc_process_checkout payload.
type wpOrder struct {
	Message  string  `json:"message"`
	Redirect string  `json:"redirect"`
	OrderID  flexInt `json:"order_id"`
}

// wpRESTError is the WP_Error JSON body of REST routes.
type wpRESTError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}
