package wordpress

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"cartsync/internal/model"
)

// PriceText returns the visible text of a wc_price / price_html fragment.
//
//	<span class="woocommerce-Price-amount amount"><bdi><span
//	class="woocommerce-Price-currencySymbol">&#36;</span>30.00</bdi></span>  →  "$30.00"
//
// Screen-reader-only text is skipped. For sale prices the current price
// inside <ins> wins over the struck-through <del> price. Plain text passes
// through unchanged apart from entity decoding.
func PriceText(markup string) string {
	if !strings.ContainsAny(markup, "<&") {
		return strings.TrimSpace(markup)
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	var all, ins strings.Builder
	var skip, inIns, inDel int

	for {
		switch z.Next() {
		case html.ErrorToken:
			if ins.Len() > 0 {
				return collapse(ins.String())
			}
			return collapse(all.String())

		case html.StartTagToken:
			tn, hasAttr := z.TagName()
			switch atom.Lookup(tn) {
			case atom.Ins:
				inIns++
			case atom.Del:
				inDel++
			}
			if skip > 0 {
				skip++
			} else if hasAttr && hasClass(z, "screen-reader-text") {
				skip = 1
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			switch atom.Lookup(tn) {
			case atom.Ins:
				inIns--
			case atom.Del:
				inDel--
			}
			if skip > 0 {
				skip--
			}

		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			if inIns > 0 {
				ins.WriteString(text)
			}
			if inDel == 0 {
				all.WriteString(text)
			}
		}
	}
}

// hasClass reports whether the current tag's class attribute contains class.
// Consumes the tag's attributes.
func hasClass(z *html.Tokenizer, class string) bool {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "class" {
			for _, c := range strings.Fields(string(val)) {
				if c == class {
					return true
				}
			}
		}
		if !more {
			return false
		}
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\u00a0", " ")), " ")
}

// errNoBootstrap is returned when the page does not carry the plugin's
// localized settings, usually because the plugin is disabled on that page.
var errNoBootstrap = errors.New("storefront settings script not found")

// pageBootstrap is what parseBootstrapPage extracts from a storefront page.
type pageBootstrap struct {
	Settings      []byte
	PluginVersion string
}

// parseBootstrapPage finds the script localized for handle and the script
// tag that loads handle itself.
//
//	<script id="qc-cart-main-js-extra">var qcShoppingData = {...};</script>
//	<script src=".../main.js?ver=1.1.0" id="qc-cart-main-js"></script>
func parseBootstrapPage(r io.Reader, handle, object string) (*pageBootstrap, error) {
	z := html.NewTokenizer(r)
	out := &pageBootstrap{}
	var capture bool

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && err != io.EOF {
				return nil, fmt.Errorf("reading storefront page: %w", err)
			}
			if out.Settings == nil {
				return nil, errNoBootstrap
			}
			return out, nil

		case html.StartTagToken:
			tn, hasAttr := z.TagName()
			if atom.Lookup(tn) != atom.Script || !hasAttr {
				continue
			}
			attrs := tagAttrs(z)
			switch attrs["id"] {
			case handle + "-js-extra":
				capture = true
			case handle + "-js":
				out.PluginVersion = versionFromSrc(attrs["src"])
			}

		case html.TextToken:
			if !capture {
				continue
			}
			capture = false
			obj, err := localizedObject(string(z.Text()), object)
			if err != nil {
				return nil, err
			}
			out.Settings = obj

		case html.EndTagToken:
			capture = false
		}
	}
}

// localizedObject extracts the JSON literal from "var name = {...};".
func localizedObject(script, name string) ([]byte, error) {
	decl := "var " + name + " ="
	i := strings.Index(script, decl)
	if i < 0 {
		return nil, errNoBootstrap
	}
	rest := script[i+len(decl):]
	start := strings.IndexByte(rest, '{')
	end := strings.LastIndexByte(rest, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("malformed %s declaration", name)
	}
	obj := []byte(rest[start : end+1])
	if !json.Valid(obj) {
		return nil, fmt.Errorf("malformed %s JSON", name)
	}
	return obj, nil
}

func versionFromSrc(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	return u.Query().Get("ver")
}

func tagAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		attrs[string(key)] = string(val)
		if !more {
			return attrs
		}
	}
}

// parseVariationsForm reads the variable product template: the JSON in the
// form's data-product_variations attribute and the attribute selects.
//
//	<form class="variations_form cart" data-product_variations="[...]">
//	  <label for="pa_color">Color</label>
//	  <select id="pa_color" name="attribute_pa_color">
//	    <option value="">Choose an option</option>
//	    <option value="red">Red</option>
func parseVariationsForm(form string, currency model.Currency) ([]model.Attribute, []model.Variation, error) {
	z := html.NewTokenizer(strings.NewReader(form))

	var (
		rawVariations string
		attrs         []model.Attribute
		labels        = map[string]string{}
		selectIDs     = map[string]string{}
		labelFor      string
		current       = -1
		inOption      bool
	)

	for tt := z.Next(); tt != html.ErrorToken; tt = z.Next() {
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			var a map[string]string
			if hasAttr {
				a = tagAttrs(z)
			}
			switch atom.Lookup(tn) {
			case atom.Form:
				if v, ok := a["data-product_variations"]; ok {
					rawVariations = v
				}
			case atom.Label:
				labelFor = a["for"]
			case atom.Select:
				name := a["name"]
				if name == "" {
					name = a["data-attribute_name"]
				}
				if !strings.HasPrefix(name, "attribute_") {
					current = -1
					continue
				}
				attrs = append(attrs, model.Attribute{Name: name, Options: []string{}})
				current = len(attrs) - 1
				selectIDs[name] = a["id"]
			case atom.Option:
				inOption = true
				if current >= 0 && a["value"] != "" {
					attrs[current].Options = append(attrs[current].Options, a["value"])
				}
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			switch atom.Lookup(tn) {
			case atom.Select:
				current = -1
			case atom.Label:
				labelFor = ""
			case atom.Option:
				inOption = false
			}

		case html.TextToken:
			if labelFor != "" && !inOption {
				labels[labelFor] += strings.TrimSpace(string(z.Text()))
			}
		}
	}

	for i := range attrs {
		attrs[i].Label = labels[selectIDs[attrs[i].Name]]
		if attrs[i].Label == "" {
			attrs[i].Label = strings.TrimPrefix(strings.TrimPrefix(attrs[i].Name, "attribute_"), "pa_")
		}
	}

	// "false" means the store loads variations lazily; only the selects are known.
	if rawVariations == "" || rawVariations == "false" {
		return attrs, nil, nil
	}

	var wire []wpVariation
	if err := json.Unmarshal([]byte(rawVariations), &wire); err != nil {
		return nil, nil, fmt.Errorf("parsing product variations: %w", err)
	}

	variations := make([]model.Variation, 0, len(wire))
	for _, w := range wire {
		price := currency.ParseRaw(string(w.DisplayPrice))
		if text := PriceText(w.PriceHTML); text != "" {
			price.Display = text
		}
		attributes := w.Attributes
		if attributes == nil {
			attributes = map[string]string{}
		}
		variations = append(variations, model.Variation{
			ID:         int(w.VariationID),
			Attributes: attributes,
			Price:      price,
			InStock:    w.IsInStock,
		})
	}
	return attrs, variations, nil
}
