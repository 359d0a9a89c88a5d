package wordpress

import (
	"errors"
	"strings"
	"testing"

	"cartsync/internal/model"
)

func TestPriceText(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
	}{
		{
			name:   "wc_price",
			markup: `<span class="woocommerce-Price-amount amount"><bdi><span class="woocommerce-Price-currencySymbol">&#36;</span>30.00</bdi></span>`,
			want:   "$30.00",
		},
		{
			name:   "sale price prefers ins",
			markup: `<del aria-hidden="true"><span class="amount">$40.00</span></del> <span class="screen-reader-text">Original price was: $40.00.</span><ins><span class="amount">$30.00</span></ins>`,
			want:   "$30.00",
		},
		{
			name:   "screen reader text skipped",
			markup: `<span class="amount">€12,50</span><span class="screen-reader-text">Price</span>`,
			want:   "€12,50",
		},
		{
			name:   "nbsp collapsed",
			markup: `<span>12,50&nbsp;&euro;</span>`,
			want:   "12,50 €",
		},
		{name: "plain text", markup: " 5.00 ", want: "5.00"},
		{name: "entity only", markup: "Tom &amp; Jerry", want: "Tom & Jerry"},
		{name: "empty", markup: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriceText(tt.markup); got != tt.want {
				t.Errorf("PriceText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseBootstrapPage(t *testing.T) {
	page := `<!doctype html><html><head>
<script id="jquery-core-js" src="/wp-includes/js/jquery/jquery.min.js?ver=3.7.1"></script>
<script id="qc-cart-main-js-extra">
/* <![CDATA[ */
var qcShoppingData = {"toggle":{"showBadge":false},"meta":{"nonce":"n1","ajaxUrl":"https:\/\/shop\/wp-admin\/admin-ajax.php"}};
/* ]]> */
</script>
<script src="https://shop/wp-content/plugins/quick-cart-shopping/assets/js/main.js?ver=1.1.0" id="qc-cart-main-js"></script>
</head></html>`

	boot, err := parseBootstrapPage(strings.NewReader(page), "qc-cart-main", "qcShoppingData")
	if err != nil {
		t.Fatalf("parseBootstrapPage() error = %v", err)
	}
	if boot.PluginVersion != "1.1.0" {
		t.Errorf("PluginVersion = %q, want 1.1.0", boot.PluginVersion)
	}
	if !strings.Contains(string(boot.Settings), `"nonce":"n1"`) {
		t.Errorf("Settings = %s", boot.Settings)
	}
}

func TestParseBootstrapPage_Missing(t *testing.T) {
	tests := []struct {
		name    string
		page    string
		wantErr error
	}{
		{name: "no script", page: `<html><body>hello</body></html>`, wantErr: errNoBootstrap},
		{name: "wrong object", page: `<script id="qc-cart-main-js-extra">var other = {};</script>`, wantErr: errNoBootstrap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBootstrapPage(strings.NewReader(tt.page), "qc-cart-main", "qcShoppingData")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	_, err := parseBootstrapPage(strings.NewReader(`<script id="qc-cart-main-js-extra">var qcShoppingData = {"a":;</script>`), "qc-cart-main", "qcShoppingData")
	if err == nil || errors.Is(err, errNoBootstrap) {
		t.Errorf("malformed object error = %v, want parse error", err)
	}
}

func TestParseVariationsForm(t *testing.T) {
	form := `<form class="variations_form cart" data-product_id="40"
	data-product_variations="[{&quot;variation_id&quot;:41,&quot;attributes&quot;:{&quot;attribute_pa_color&quot;:&quot;red&quot;,&quot;attribute_size&quot;:&quot;&quot;},&quot;display_price&quot;:35,&quot;price_html&quot;:&quot;&lt;span class=\&quot;amount\&quot;&gt;$35.00&lt;\/span&gt;&quot;,&quot;is_in_stock&quot;:true},{&quot;variation_id&quot;:42,&quot;attributes&quot;:{&quot;attribute_pa_color&quot;:&quot;blue&quot;,&quot;attribute_size&quot;:&quot;&quot;},&quot;display_price&quot;:&quot;37.5&quot;,&quot;is_in_stock&quot;:false}]">
	<table class="variations"><tbody>
	<tr><th class="label"><label for="pa_color">Color</label></th>
	<td class="value"><select id="pa_color" name="attribute_pa_color" data-attribute_name="attribute_pa_color">
		<option value="">Choose an option</option>
		<option value="red">Red</option>
		<option value="blue">Blue</option>
	</select></td></tr>
	<tr><th class="label"><label for="size">Size</label></th>
	<td class="value"><select id="size" name="attribute_size"><option value="">Choose an option</option><option value="S">S</option><option value="M">M</option></select></td></tr>
	</tbody></table></form>`

	attrs, variations, err := parseVariationsForm(form, model.DefaultCurrency())
	if err != nil {
		t.Fatalf("parseVariationsForm() error = %v", err)
	}

	if len(attrs) != 2 {
		t.Fatalf("len(attrs) = %d, want 2", len(attrs))
	}
	if attrs[0].Name != "attribute_pa_color" || attrs[0].Label != "Color" {
		t.Errorf("attrs[0] = %+v", attrs[0])
	}
	if got := strings.Join(attrs[0].Options, ","); got != "red,blue" {
		t.Errorf("attrs[0].Options = %q, want red,blue", got)
	}
	if got := strings.Join(attrs[1].Options, ","); got != "S,M" {
		t.Errorf("attrs[1].Options = %q, want S,M", got)
	}

	if len(variations) != 2 {
		t.Fatalf("len(variations) = %d, want 2", len(variations))
	}
	if v := variations[0]; v.ID != 41 || !v.InStock || v.Price.Display != "$35.00" {
		t.Errorf("variations[0] = %+v", v)
	}
	if v := variations[1]; v.InStock || v.Price.Display != "$37.50" {
		t.Errorf("variations[1] = %+v", v)
	}

	vp := model.VariableProduct{Attributes: attrs, Variations: variations}
	v, ok := vp.FindVariation(map[string]string{"attribute_pa_color": "red", "attribute_size": "M"})
	if !ok || v.ID != 41 {
		t.Errorf("FindVariation(red, M) = %+v, %v; want 41 (any size)", v, ok)
	}
	if _, ok := vp.FindVariation(map[string]string{"attribute_pa_color": "red"}); ok {
		t.Error("FindVariation() with incomplete selection matched")
	}
}

func TestParseVariationsForm_LazyVariations(t *testing.T) {
	form := `<form class="variations_form" data-product_variations="false"><select name="attribute_pa_fit"><option value="slim">Slim</option></select></form>`

	attrs, variations, err := parseVariationsForm(form, model.DefaultCurrency())
	if err != nil {
		t.Fatalf("parseVariationsForm() error = %v", err)
	}
	if variations != nil {
		t.Errorf("variations = %+v, want nil", variations)
	}
	if len(attrs) != 1 || attrs[0].Label != "fit" {
		t.Errorf("attrs = %+v, want label derived from name", attrs)
	}
}
