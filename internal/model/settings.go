package model

// StorefrontSettings is the settings object the storefront plugin
// localizes into every page. Only the fields the surfaces act on are kept.
type StorefrontSettings struct {
	General        GeneralSettings        `json:"general"`
	Toggle         ToggleSettings         `json:"toggle"`
	Cart           CartSettings           `json:"cart"`
	Checkout       CheckoutSettings       `json:"checkout"`
	VariationPopup VariationPopupSettings `json:"variationPopup"`
	Upsell         UpsellSettings         `json:"upsell"`
	Meta           MetaSettings           `json:"meta"`
}

type GeneralSettings struct {
	EnableQuickCart      bool `json:"enableQuickCart"`
	EnableVarProduct     bool `json:"enableVarProduct"`
	EnableDragAndDrop    bool `json:"enableDragAndDrop"`
	EnableDirectCheckout bool `json:"enableDirectCheckout"`
}

type ToggleSettings struct {
	ShowBadge   bool     `json:"showBadge"`
	HideOnPages []string `json:"hideOnPages"`
}

type CartSettings struct {
	ShowShipping    bool `json:"showShipping"`
	ShowCouponField bool `json:"showCouponField"`
	ShowCheckoutBtn bool `json:"showCheckoutBtn"`
}

type CheckoutSettings struct {
	EnableStep1 bool   `json:"enableStep1"`
	Step1Label  string `json:"step1Label"`
	EnableStep2 bool   `json:"enableStep2"`
	Step2Label  string `json:"step2Label"`
	EnableStep3 bool   `json:"enableStep3"`
	Step3Label  string `json:"step3Label"`
}

type VariationPopupSettings struct {
	PopupWidth int `json:"popupWidth"`
}

type UpsellSettings struct {
	ShowUpsellProducts bool  `json:"showUpsellProducts"`
	UpsellProducts     []int `json:"upsellProducts"`
}

// MetaSettings carries the per-page endpoints and the security token.
type MetaSettings struct {
	AjaxURL     string `json:"ajaxUrl"`
	RestURL     string `json:"restUrl"`
	Nonce       string `json:"nonce"`
	CheckoutURL string `json:"checkoutUrl"`
	CartURL     string `json:"cartUrl"`
	PluginURL   string `json:"pluginUrl,omitempty"`
}

// DefaultStorefrontSettings mirrors the plugin defaults.
func DefaultStorefrontSettings() StorefrontSettings {
	return StorefrontSettings{
		General: GeneralSettings{
			EnableQuickCart:      true,
			EnableVarProduct:     true,
			EnableDragAndDrop:    true,
			EnableDirectCheckout: true,
		},
		Toggle: ToggleSettings{ShowBadge: true},
		Cart: CartSettings{
			ShowShipping:    true,
			ShowCouponField: true,
			ShowCheckoutBtn: true,
		},
		Checkout: CheckoutSettings{
			EnableStep1: true,
			Step1Label:  "Order Review",
			EnableStep2: true,
			Step2Label:  "Billing & Shipping",
			EnableStep3: true,
			Step3Label:  "Payment",
		},
		VariationPopup: VariationPopupSettings{PopupWidth: 1000},
	}
}
