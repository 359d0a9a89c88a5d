package wordpress

import (
	"context"
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"

	"cartsync/internal/model"
)

// Products lists catalog products through the plugin REST route.
func (c *Client) Products(ctx context.Context, q model.ProductQuery) ([]model.Product, error) {
	if q.PerPage <= 0 {
		q.PerPage = model.DefaultPerPage
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	query := url.Values{
		"page":     {strconv.Itoa(q.Page)},
		"per_page": {strconv.Itoa(q.PerPage)},
	}
	if q.Search != "" {
		query.Set("search", q.Search)
	}

	var wire []wpProduct
	if err := c.getREST(ctx, "products", query, "products", &wire); err != nil {
		return nil, err
	}
	out := make([]model.Product, 0, len(wire))
	for i := range wire {
		out = append(out, c.toProduct(&wire[i]))
	}
	return out, nil
}

// Product returns one product with its gallery.
func (c *Client) Product(ctx context.Context, id int) (*model.Product, error) {
	if id <= 0 {
		return nil, model.NewValidationError("product_id", "Invalid product")
	}
	var wire wpProduct
	if err := c.getREST(ctx, "products/"+strconv.Itoa(id), nil, "product", &wire); err != nil {
		return nil, err
	}
	p := c.toProduct(&wire)
	return &p, nil
}

func (c *Client) toProduct(w *wpProduct) model.Product {
	price := c.cfg.Currency.ParseRaw(string(w.Price))
	if text := PriceText(w.PriceHTML); text != "" {
		price.Display = text
	}
	p := model.Product{
		ID:          int(w.ID),
		Name:        PriceText(w.Name),
		Slug:        w.Slug,
		Permalink:   w.Permalink,
		Type:        w.Type,
		Price:       price,
		ImageURL:    string(w.Image),
		StockStatus: w.StockStatus,
	}
	for _, img := range w.Images {
		p.Images = append(p.Images, model.ProductImage{
			ID:        int(img.ID),
			Src:       img.Src,
			Thumbnail: img.Thumbnail,
			Alt:       img.Alt,
		})
	}
	if p.ImageURL == "" && len(p.Images) > 0 {
		p.ImageURL = p.Images[0].Src
	}
	return p
}

// VariableProduct loads the variation popup data through
// qc_get_variable_product and parses the embedded variations form.
func (c *Client) VariableProduct(ctx context.Context, id int) (*model.VariableProduct, error) {
	if id <= 0 {
		return nil, model.NewValidationError("product_id", "Invalid product")
	}
	var wire wpVariableProduct
	_, err := c.retryRead(ctx, func() (struct{}, error) {
		data, err := c.post(ctx, c.actions.VariableProduct, url.Values{"product_id": {strconv.Itoa(id)}},
			"Product not found or not variable")
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

	attrs, variations, err := parseVariationsForm(wire.Product.VariationsForm, c.cfg.Currency)
	if err != nil {
		return nil, model.NewNetworkError("storefront", err)
	}

	wp := wire.Product
	vp := &model.VariableProduct{
		Product: model.Product{
			ID:       int(wp.ID),
			Name:     PriceText(wp.Name),
			Type:     "variable",
			Price:    c.cfg.Currency.ParseMoney(PriceText(wp.Price)),
			ImageURL: wp.Image,
		},
		ShortDescription: PriceText(wp.ShortDescription),
		Attributes:       attrs,
		Variations:       variations,
	}
	if vp.Attributes == nil {
		vp.Attributes = []model.Attribute{}
	}
	if vp.Variations == nil {
		vp.Variations = []model.Variation{}
	}
	for _, g := range wp.GalleryImages {
		vp.Images = append(vp.Images, model.ProductImage{ID: int(g.ID), Src: g.URL})
	}
	return vp, nil
}
