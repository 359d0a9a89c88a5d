// Package wordpress binds the platform contract to a WordPress storefront
// running the quick cart plugin: admin-ajax actions for the cart and
// checkout, the plugin REST routes for the catalog.
package wordpress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/net/publicsuffix"

	"cartsync/internal/model"
	"cartsync/internal/transport"
)

// =============================================================================
// SECURITY TOKEN STRATEGY
// =============================================================================
//
// The plugin checks a WordPress nonce on every admin-ajax action. The nonce
// is bound to the platform session cookie, so each shopper session keeps
// its own cookie jar and its own nonce.
//
// The nonce is never fetched per call. RefreshToken loads the storefront
// cart page, where the plugin localizes its settings (including the nonce
// and the endpoint URLs) into a script tag, and caches them on the client.
// A rejected nonce surfaces as a SessionError; the coordinator stops
// issuing mutations until RefreshToken succeeds again.
//
// Reads (cart, catalog) are retried on network failures. Mutations are
// never retried: a lost response may still have been applied.
//
// =============================================================================

// userAgent identifies this client to upstream servers.
const userAgent = "cartsync/1.0"

// maxResponseBytes bounds every upstream body read.
const maxResponseBytes = 4 << 20

// Actions names the admin-ajax actions the plugin registers.
type Actions struct {
	GetCart         string `json:"get_cart" yaml:"get_cart"`
	UpdateItem      string `json:"update_item" yaml:"update_item"`
	RemoveItem      string `json:"remove_item" yaml:"remove_item"`
	ApplyCoupon     string `json:"apply_coupon" yaml:"apply_coupon"`
	RemoveCoupon    string `json:"remove_coupon" yaml:"remove_coupon"`
	UpdateShipping  string `json:"update_shipping" yaml:"update_shipping"`
	AddToCart       string `json:"add_to_cart" yaml:"add_to_cart"`
	VariableProduct string `json:"variable_product" yaml:"variable_product"`
	SaveAddress     string `json:"save_address" yaml:"save_address"`
	PlaceOrder      string `json:"place_order" yaml:"place_order"`
}

// DefaultActions returns the plugin's action names.
func DefaultActions() Actions {
	return Actions{
		GetCart:         "qc_get_cart_items",
		UpdateItem:      "qc_update_cart_item",
		RemoveItem:      "qc_remove_cart_item",
		ApplyCoupon:     "qc_apply_coupon",
		RemoveCoupon:    "qc_remove_coupon",
		UpdateShipping:  "qc_update_shipping_method",
		AddToCart:       "qcshopping_add_to_cart",
		VariableProduct: "qc_get_variable_product",
		SaveAddress:     "qc_save_checkout_address",
		PlaceOrder:      "qc_process_checkout",
	}
}

// withDefaults fills empty action names from DefaultActions.
func (a Actions) withDefaults() Actions {
	d := DefaultActions()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&a.GetCart, d.GetCart)
	fill(&a.UpdateItem, d.UpdateItem)
	fill(&a.RemoveItem, d.RemoveItem)
	fill(&a.ApplyCoupon, d.ApplyCoupon)
	fill(&a.RemoveCoupon, d.RemoveCoupon)
	fill(&a.UpdateShipping, d.UpdateShipping)
	fill(&a.AddToCart, d.AddToCart)
	fill(&a.VariableProduct, d.VariableProduct)
	fill(&a.SaveAddress, d.SaveAddress)
	fill(&a.PlaceOrder, d.PlaceOrder)
	return a
}

// Config holds the storefront binding configuration.
type Config struct {
	StoreURL string
	CartPath string // storefront page carrying the localized settings
	AjaxPath string // used until the page supplies meta.ajaxUrl
	RestPath string // used until the page supplies meta.restUrl
	Actions  Actions
	Currency model.Currency

	// Transport defaults to the chrome fingerprint transport.
	Transport http.RoundTripper
	Timeout   time.Duration

	// BasicAuth protects staging stores; "user:password".
	BasicAuth string

	// ScriptHandle and ObjectName locate the localized settings script.
	ScriptHandle string
	ObjectName   string

	// MinPluginVersion rejects storefronts running an older plugin; empty disables the check.
	MinPluginVersion string

	ReadRetries          uint
	RetryInitialInterval time.Duration

	Logger *slog.Logger
}

// Client implements platform.Platform for one shopper session.
type Client struct {
	httpClient *http.Client
	cfg        Config
	actions    Actions
	logger     *slog.Logger

	mu      sync.RWMutex
	nonce   string
	ajaxURL string
	restURL string
}

// New creates a storefront client with its own cookie jar.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if _, err := url.Parse(cfg.StoreURL); err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}
	cfg.StoreURL = strings.TrimSuffix(cfg.StoreURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = transport.NewChromeTransport(cfg.Timeout)
	}
	if cfg.CartPath == "" {
		cfg.CartPath = "/cart/"
	}
	if cfg.AjaxPath == "" {
		cfg.AjaxPath = "/wp-admin/admin-ajax.php"
	}
	if cfg.RestPath == "" {
		cfg.RestPath = "/wp-json/quick-cart-shopping/v2/"
	}
	if cfg.ScriptHandle == "" {
		cfg.ScriptHandle = "qc-cart-main"
	}
	if cfg.ObjectName == "" {
		cfg.ObjectName = "qcShoppingData"
	}
	if cfg.Currency.Symbol == "" && cfg.Currency.DecimalSeparator == "" {
		cfg.Currency = model.DefaultCurrency()
	}
	if cfg.ReadRetries == 0 {
		cfg.ReadRetries = 3
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			Jar:       jar,
		},
		cfg:     cfg,
		actions: cfg.Actions.withDefaults(),
		logger:  cfg.Logger,
		ajaxURL: cfg.StoreURL + cfg.AjaxPath,
		restURL: cfg.StoreURL + "/" + strings.TrimPrefix(cfg.RestPath, "/"),
	}, nil
}

// Nonce returns the cached security token.
func (c *Client) Nonce() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonce
}

func (c *Client) endpoints() (nonce, ajaxURL, restURL string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonce, c.ajaxURL, c.restURL
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9")
	if c.cfg.BasicAuth != "" {
		user, pass, _ := strings.Cut(c.cfg.BasicAuth, ":")
		req.SetBasicAuth(user, pass)
	}
}

// post calls an admin-ajax action and returns the envelope's data.
// fallback is the failure message used when the platform gives none.
func (c *Client) post(ctx context.Context, action string, form url.Values, fallback string) (json.RawMessage, error) {
	nonce, ajaxURL, _ := c.endpoints()
	if form == nil {
		form = url.Values{}
	}
	form.Set("action", action)
	form.Set("nonce", nonce)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ajaxURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", action, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkError("storefront", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, model.NewNetworkError("storefront", fmt.Errorf("reading %s response: %w", action, err))
	}

	c.logger.Debug("storefront action",
		"action", action,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return parseAjaxResponse(action, resp.StatusCode, body, fallback)
}

// parseAjaxResponse maps an admin-ajax answer onto the failure taxonomy.
func parseAjaxResponse(action string, status int, body []byte, fallback string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)

	// check_ajax_referer dies with "-1"; admin-ajax answers "0" for unknown actions.
	if status == http.StatusForbidden || bytes.Equal(trimmed, []byte("-1")) {
		return nil, model.NewSessionError("security token rejected")
	}
	if status >= 500 {
		return nil, model.NewNetworkError("storefront", fmt.Errorf("%s: status %d", action, status))
	}
	if bytes.Equal(trimmed, []byte("0")) {
		return nil, model.NewApplicationError(fmt.Sprintf("unsupported action %s", action))
	}

	var env ajaxEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, model.NewNetworkError("storefront", fmt.Errorf("%s: malformed response: %w", action, err))
	}

	if env.Success == nil {
		if status >= 400 {
			return nil, model.NewNetworkError("storefront", fmt.Errorf("%s: status %d", action, status))
		}
		return json.RawMessage(trimmed), nil
	}
	if !*env.Success {
		return nil, model.NewApplicationError(failureMessage(env.Data, fallback))
	}
	return env.Data, nil
}

// failureMessage reads data.message or data.error; data may also be a bare string.
func failureMessage(data json.RawMessage, fallback string) string {
	var f ajaxFailure
	if err := json.Unmarshal(data, &f); err == nil {
		if f.Message != "" {
			return f.Message
		}
		if f.Error != "" {
			return f.Error
		}
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		return s
	}
	return fallback
}

// getREST issues an idempotent GET against the plugin REST namespace and
// decodes the body into out, retrying network failures.
func (c *Client) getREST(ctx context.Context, path string, query url.Values, resource string, out any) error {
	_, _, restURL := c.endpoints()
	target := strings.TrimSuffix(restURL, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	_, err := c.retryRead(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("creating request: %w", err)
		}
		c.setHeaders(req)
		nonce, _, _ := c.endpoints()
		if nonce != "" {
			req.Header.Set("X-WP-Nonce", nonce)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, model.NewNetworkError("storefront", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return struct{}{}, model.NewNetworkError("storefront", err)
		}
		if resp.StatusCode >= 400 {
			return struct{}{}, parseRESTError(resp.StatusCode, body, resource)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return struct{}{}, model.NewNetworkError("storefront", fmt.Errorf("malformed %s response: %w", resource, err))
		}
		return struct{}{}, nil
	})
	return err
}

// parseRESTError converts a WP_Error body into an APIError.
func parseRESTError(status int, body []byte, resource string) error {
	var wpErr wpRESTError
	json.Unmarshal(body, &wpErr) // best effort

	switch {
	case status == http.StatusNotFound:
		return model.NewNotFoundError(resource)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.NewSessionError("storefront rejected the request")
	case status >= 500:
		return model.NewNetworkError("storefront", fmt.Errorf("status %d: %s", status, wpErr.Code))
	default:
		msg := wpErr.Message
		if msg == "" {
			msg = fmt.Sprintf("%s request failed", resource)
		}
		return model.NewApplicationError(msg)
	}
}

// retryRead retries op while it fails with a NetworkError. Any other
// failure is returned immediately.
func (c *Client) retryRead(ctx context.Context, op func() (struct{}, error)) (struct{}, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval

	result, err := backoff.Retry(ctx, func() (struct{}, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !errors.Is(err, model.ErrNetwork) {
			return v, backoff.Permanent(err)
		}
		c.logger.Debug("retrying storefront read", "error", err)
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.cfg.ReadRetries))
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			return result, model.NewNetworkError("storefront", err)
		}
	}
	return result, err
}
