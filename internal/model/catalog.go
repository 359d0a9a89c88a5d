package model

import "strings"

// Product is a catalog entry as listed by the storefront REST routes.
type Product struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug,omitempty"`
	Permalink   string         `json:"permalink,omitempty"`
	Type        string         `json:"type"`
	Price       Money          `json:"price"`
	ImageURL    string         `json:"image_url,omitempty"`
	Images      []ProductImage `json:"images,omitempty"`
	StockStatus string         `json:"stock_status,omitempty"`
}

// ProductImage is one gallery image.
type ProductImage struct {
	ID        int    `json:"id"`
	Src       string `json:"src"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Alt       string `json:"alt,omitempty"`
}

// IsVariable reports whether the product needs option selection before it
// can be added to the cart.
func (p Product) IsVariable() bool {
	return p.Type == "variable"
}

// ProductQuery filters the catalog listing.
type ProductQuery struct {
	Search  string `json:"search,omitempty"`
	Page    int    `json:"page,omitempty"`
	PerPage int    `json:"per_page,omitempty"`
}

// DefaultPerPage matches the storefront REST route's default page size.
const DefaultPerPage = 100

// VariableProduct is a product with its selectable attributes and variations.
type VariableProduct struct {
	Product
	ShortDescription string      `json:"short_description,omitempty"`
	Attributes       []Attribute `json:"attributes"`
	Variations       []Variation `json:"variations"`
}

// Attribute is one selectable option dimension, e.g. "attribute_pa_color".
type Attribute struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Options []string `json:"options"`
}

// Variation is one purchasable combination. An empty attribute value in
// Attributes matches any selection for that attribute.
type Variation struct {
	ID         int               `json:"id"`
	Attributes map[string]string `json:"attributes"`
	Price      Money             `json:"price"`
	InStock    bool              `json:"in_stock"`
}

// Matches reports whether the variation satisfies a complete selection.
func (v Variation) Matches(selected map[string]string) bool {
	for name, want := range v.Attributes {
		got, ok := selected[name]
		if !ok || got == "" {
			return false
		}
		if want != "" && !strings.EqualFold(want, got) {
			return false
		}
	}
	return true
}

// FindVariation returns the first variation matching selected.
func (p *VariableProduct) FindVariation(selected map[string]string) (Variation, bool) {
	for _, v := range p.Variations {
		if v.Matches(selected) {
			return v, true
		}
	}
	return Variation{}, false
}

// FirstAvailable returns the first in-stock variation, used when the
// popup is disabled and a variable product is dropped on the cart.
func (p *VariableProduct) FirstAvailable() (Variation, bool) {
	for _, v := range p.Variations {
		if v.InStock {
			return v, true
		}
	}
	return Variation{}, false
}
