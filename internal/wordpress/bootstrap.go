package wordpress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/mod/semver"

	"cartsync/internal/model"
	"cartsync/internal/platform"
)

// RefreshToken loads the storefront cart page, takes the localized plugin
// settings from it and caches the nonce and endpoints on the client. The
// returned settings never carry the nonce.
func (c *Client) RefreshToken(ctx context.Context) (*platform.Bootstrap, error) {
	var page []byte
	_, err := c.retryRead(ctx, func() (struct{}, error) {
		body, err := c.getPage(ctx, c.cfg.StoreURL+c.cfg.CartPath)
		if err != nil {
			return struct{}{}, err
		}
		page = body
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	boot, err := parseBootstrapPage(bytes.NewReader(page), c.cfg.ScriptHandle, c.cfg.ObjectName)
	if errors.Is(err, errNoBootstrap) {
		return nil, model.NewApplicationError("storefront page does not load the cart plugin")
	}
	if err != nil {
		return nil, model.NewNetworkError("storefront", err)
	}

	settings := model.DefaultStorefrontSettings()
	if err := json.Unmarshal(boot.Settings, &settings); err != nil {
		return nil, model.NewNetworkError("storefront", fmt.Errorf("decoding %s: %w", c.cfg.ObjectName, err))
	}
	if settings.Meta.Nonce == "" {
		return nil, model.NewSessionError("storefront did not issue a security token")
	}

	if err := c.checkPluginVersion(boot.PluginVersion); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nonce = settings.Meta.Nonce
	if u := c.resolve(settings.Meta.AjaxURL); u != "" {
		c.ajaxURL = u
	}
	if u := c.resolve(settings.Meta.RestURL); u != "" {
		c.restURL = u
	}
	c.mu.Unlock()

	c.logger.Debug("storefront token refreshed", "plugin_version", boot.PluginVersion)

	settings.Meta.Nonce = ""
	return &platform.Bootstrap{Settings: settings, PluginVersion: boot.PluginVersion}, nil
}

// checkPluginVersion rejects plugins older than MinPluginVersion. An
// unreadable version is logged and allowed.
func (c *Client) checkPluginVersion(version string) error {
	if c.cfg.MinPluginVersion == "" {
		return nil
	}
	v := canonical(version)
	if !semver.IsValid(v) {
		c.logger.Warn("storefront plugin version unknown", "version", version)
		return nil
	}
	if semver.Compare(v, canonical(c.cfg.MinPluginVersion)) < 0 {
		return model.NewApplicationError(fmt.Sprintf(
			"storefront plugin %s is older than the supported %s", version, c.cfg.MinPluginVersion))
	}
	return nil
}

// canonical prefixes the "v" semver expects.
func canonical(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// resolve makes a possibly relative endpoint absolute against the store URL.
func (c *Client) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	base, err := url.Parse(c.cfg.StoreURL + "/")
	if err != nil {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

// getPage fetches a storefront HTML page through the session cookie jar.
func (c *Client) getPage(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating page request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkError("storefront", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, model.NewNetworkError("storefront", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, model.NewSessionError("storefront page access denied")
	case resp.StatusCode == http.StatusNotFound:
		return nil, model.NewNotFoundError("storefront cart page")
	case resp.StatusCode >= 500:
		return nil, model.NewNetworkError("storefront", fmt.Errorf("page status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, model.NewApplicationError(fmt.Sprintf("storefront page returned status %d", resp.StatusCode))
	}
	return body, nil
}

// Verify Client implements Platform interface at compile time.
var _ platform.Platform = (*Client)(nil)
