package surface

import (
	"context"
	"maps"
	"sync"

	"cartsync/internal/model"
)

// Popup is the variation picker for variable products.
type Popup struct {
	coord Coordinator
	sink  Sink

	mu       sync.Mutex
	product  *model.VariableProduct
	selected map[string]string
	quantity int
	adding   bool
	message  string
	last     fields
}

// NewPopup returns a closed popup.
func NewPopup(c Coordinator, sink Sink) *Popup {
	p := &Popup{coord: c, sink: sink}
	p.last = p.render()
	return p
}

func (p *Popup) render() fields {
	if p.product == nil {
		return fields{"open": false}
	}
	f := fields{
		"open":       true,
		"product_id": p.product.ID,
		"name":       p.product.Name,
		"price":      p.product.Price.Display,
		"image_url":  p.product.ImageURL,
		"attributes": p.product.Attributes,
		"selected":   maps.Clone(p.selected),
		"quantity":   p.quantity,
		"adding":     p.adding,
		"message":    p.message,
	}
	if v, ok := p.product.FindVariation(p.selected); ok {
		f["variation_id"] = v.ID
		f["in_stock"] = v.InStock
		if v.Price.Display != "" {
			f["price"] = v.Price.Display
		}
	}
	return f
}

// publish emits what changed. Callers hold p.mu.
func (p *Popup) publish() {
	next := p.render()
	changed := changedFields(p.last, next)
	p.last = next
	if len(changed) > 0 {
		p.sink.Emit(Diff{Surface: NamePopup, Fields: changed})
	}
}

// DropProduct handles a product dropped on the cart or picked from the
// upsell strip. Simple products are added directly. Variable products open
// the popup, or add their first in-stock variation when the popup is
// disabled.
func (p *Popup) DropProduct(ctx context.Context, productID int) error {
	prod, err := p.coord.Product(ctx, productID)
	if err != nil {
		return err
	}
	if !prod.IsVariable() {
		return p.coord.RequestAddToCart(model.AddToCart{ProductID: productID, Quantity: 1})
	}
	return p.Open(ctx, productID)
}

// Open loads a variable product into the popup.
func (p *Popup) Open(ctx context.Context, productID int) error {
	vp, err := p.coord.VariableProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !p.coord.Settings().General.EnableVarProduct {
		return p.addFirstAvailable(vp)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.product = vp
	p.selected = make(map[string]string, len(vp.Attributes))
	p.quantity = 1
	p.adding = false
	p.message = ""
	p.publish()
	return nil
}

func (p *Popup) addFirstAvailable(vp *model.VariableProduct) error {
	v, ok := vp.FirstAvailable()
	if !ok {
		return model.NewApplicationError("No variations available for this product")
	}
	return p.coord.RequestAddToCart(model.AddToCart{
		ProductID:   vp.ID,
		VariationID: v.ID,
		Quantity:    1,
		Attributes:  concreteAttributes(vp, v),
	})
}

// concreteAttributes fills "any" attribute values of v with the
// attribute's first option; the platform wants a value for every one.
func concreteAttributes(vp *model.VariableProduct, v model.Variation) map[string]string {
	out := make(map[string]string, len(v.Attributes))
	for name, value := range v.Attributes {
		out[name] = value
	}
	for _, a := range vp.Attributes {
		if out[a.Name] == "" && len(a.Options) > 0 {
			out[a.Name] = a.Options[0]
		}
	}
	return out
}

// Select records one attribute choice. An empty value clears it.
func (p *Popup) Select(name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.product == nil {
		return model.NewValidationError("popup", "No product selected")
	}
	if !hasAttribute(p.product, name) {
		return model.NewValidationError(name, "Unknown product option")
	}
	if value == "" {
		delete(p.selected, name)
	} else {
		p.selected[name] = value
	}
	p.message = ""
	p.publish()
	return nil
}

func hasAttribute(vp *model.VariableProduct, name string) bool {
	for _, a := range vp.Attributes {
		if a.Name == name {
			return true
		}
	}
	return false
}

// SetQuantity sets how many to add. Values below one become one.
func (p *Popup) SetQuantity(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quantity = max(1, n)
	p.publish()
}

// Submit adds the selected variation to the cart and closes the popup.
func (p *Popup) Submit() error {
	p.mu.Lock()
	if p.product == nil {
		p.mu.Unlock()
		return model.NewValidationError("popup", "No product selected")
	}
	if p.adding {
		p.mu.Unlock()
		return model.NewBusyError("popup")
	}
	for _, a := range p.product.Attributes {
		if p.selected[a.Name] == "" {
			p.message = "Please select product options"
			p.publish()
			p.mu.Unlock()
			return model.NewValidationError(a.Name, "Please select product options")
		}
	}
	v, ok := p.product.FindVariation(p.selected)
	if !ok || !v.InStock {
		p.message = "This combination is unavailable"
		p.publish()
		p.mu.Unlock()
		return model.NewValidationError("variation_id", "This combination is unavailable")
	}
	req := model.AddToCart{
		ProductID:   p.product.ID,
		VariationID: v.ID,
		Quantity:    p.quantity,
		Attributes:  maps.Clone(p.selected),
	}
	p.adding = true
	p.publish()
	p.mu.Unlock()

	err := p.coord.RequestAddToCart(req)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.adding = false
	if err != nil {
		p.message = model.MessageOf(err)
		p.publish()
		return err
	}
	p.product = nil
	p.selected = nil
	p.message = ""
	p.publish()
	return nil
}

// Close dismisses the popup.
func (p *Popup) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.product = nil
	p.selected = nil
	p.adding = false
	p.message = ""
	p.publish()
}

// View returns the popup's full state.
func (p *Popup) View() Diff {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fullDiff(NamePopup, p.last, nil)
}
