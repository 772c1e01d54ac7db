// Package zap is a client for the subset of the ZAP JSON API needed to
// drive a spider and an active scan and collect their results.
package zap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/webclient"
)

const apiKeyHeader = "X-ZAP-API-Key"

type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	opener webclient.WebClient
	logger logging.Logger
}

// NewClient builds an API client. opener fetches targets for AccessURL; when
// nil, a nethttp backend sharing the API transport is used. When httpClient is
// nil a client proxied through cfg.ProxyAddr is created.
func NewClient(cfg Config, logger logging.Logger, opener webclient.WebClient, httpClient *http.Client) (*Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	if httpClient == nil {
		tr, err := webclient.NewProxyTransport(cfg.ProxyAddr)
		if err != nil {
			return nil, err
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultConfig().Timeout
		}
		httpClient = &http.Client{Transport: tr, Timeout: timeout}
	}

	if opener == nil {
		opener, err = webclient.NewNetHTTPClient(webclient.Config{ProxyAddr: cfg.ProxyAddr}, logger, httpClient)
		if err != nil {
			return nil, fmt.Errorf("create url opener: %w", err)
		}
	}

	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		http:   httpClient,
		opener: opener,
		logger: logger.With(logging.Field{Key: "component", Value: "zap_client"}),
	}, nil
}

// Close releases the url opener.
func (c *Client) Close() error {
	if c == nil || c.opener == nil {
		return nil
	}
	return c.opener.Close()
}

// call performs GET /JSON/<component>/<kind>/<name>/ and decodes the result
// into out.
func (c *Client) call(ctx context.Context, component, kind, name string, params url.Values, out any) error {
	u := *c.base
	u.Path = fmt.Sprintf("%s/JSON/%s/%s/%s/", strings.TrimRight(c.base.Path, "/"), component, kind, name)

	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build %s/%s request: %w", component, name, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s/%s/%s: %w", component, kind, name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s/%s/%s: read body: %w", component, kind, name, err)
	}

	c.logger.Debug("api call",
		logging.Field{Key: "endpoint", Value: component + "/" + kind + "/" + name},
		logging.Field{Key: "status", Value: resp.StatusCode},
		logging.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()})

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jerr := json.Unmarshal(body, apiErr); jerr == nil && apiErr.Code != "" {
			return apiErr
		}
		return fmt.Errorf("%s/%s/%s: http %d: %w", component, kind, name, resp.StatusCode, ErrUnexpectedResponse)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s/%s/%s: decode: %v: %w", component, kind, name, err, ErrUnexpectedResponse)
	}
	return nil
}

// AccessURL fetches target through the proxy so the scanner adds it to its
// site tree.
func (c *Client) AccessURL(ctx context.Context, target string) error {
	if c == nil {
		return errors.New("AccessURL: nil client")
	}
	resp, err := c.opener.Do(ctx, &webclient.Request{Method: http.MethodGet, URL: target})
	if err != nil {
		return fmt.Errorf("access %s: %w", target, err)
	}
	c.logger.Debug("accessed target",
		logging.Field{Key: "url", Value: target},
		logging.Field{Key: "status", Value: resp.StatusCode})
	return nil
}

// SpiderScan starts a crawl of target and returns the scan id.
func (c *Client) SpiderScan(ctx context.Context, target string) (string, error) {
	var out struct {
		Scan string `json:"scan"`
	}
	if err := c.call(ctx, "spider", "action", "scan", url.Values{"url": {target}}, &out); err != nil {
		return "", err
	}
	if out.Scan == "" {
		return "", fmt.Errorf("spider/action/scan: missing scan id: %w", ErrUnexpectedResponse)
	}
	return out.Scan, nil
}

// SpiderStatus returns the progress percentage of a spider scan.
func (c *Client) SpiderStatus(ctx context.Context, scanID string) (int, error) {
	return c.status(ctx, "spider", scanID)
}

// AscanScan starts an active scan of target and returns the scan id.
func (c *Client) AscanScan(ctx context.Context, target string) (string, error) {
	var out struct {
		Scan string `json:"scan"`
	}
	if err := c.call(ctx, "ascan", "action", "scan", url.Values{"url": {target}}, &out); err != nil {
		return "", err
	}
	if out.Scan == "" {
		return "", fmt.Errorf("ascan/action/scan: missing scan id: %w", ErrUnexpectedResponse)
	}
	return out.Scan, nil
}

// AscanStatus returns the progress percentage of an active scan.
func (c *Client) AscanStatus(ctx context.Context, scanID string) (int, error) {
	return c.status(ctx, "ascan", scanID)
}

func (c *Client) status(ctx context.Context, component, scanID string) (int, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, component, "view", "status", url.Values{"scanId": {scanID}}, &out); err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(strings.TrimSpace(out.Status))
	if err != nil {
		return 0, fmt.Errorf("%s status %q: %w", component, out.Status, ErrBadStatus)
	}
	return pct, nil
}

// Hosts lists every host the scanner has seen.
func (c *Client) Hosts(ctx context.Context) ([]string, error) {
	var out struct {
		Hosts []string `json:"hosts"`
	}
	if err := c.call(ctx, "core", "view", "hosts", nil, &out); err != nil {
		return nil, err
	}
	return out.Hosts, nil
}

// Alerts lists alerts, optionally filtered by base url and paged.
func (c *Client) Alerts(ctx context.Context, filter AlertsFilter) ([]Alert, error) {
	params := url.Values{}
	if filter.BaseURL != "" {
		params.Set("baseurl", filter.BaseURL)
	}
	if filter.Start > 0 {
		params.Set("start", strconv.Itoa(filter.Start))
	}
	if filter.Count > 0 {
		params.Set("count", strconv.Itoa(filter.Count))
	}

	var out struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := c.call(ctx, "core", "view", "alerts", params, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

// Version returns the scanner version; it doubles as a reachability check.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "core", "view", "version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}
