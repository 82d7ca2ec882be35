// Package authority is the client for the remote authority that answers
// reachability, latest-version and app-key queries.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fieldid/internal/logging"
)

// Endpoint paths relative to the base URL.
const (
	PathPing    = "/ping/api.php"
	PathVersion = "/version/api.php"
	PathUseKey  = "/appkey/use_key.php"

	// CacheBusterParam carries the request time in milliseconds.
	CacheBusterParam = "cb"

	// DefaultTimeout bounds each request attempt.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 64 * 1024
)

// KeyUse is the body of an app-key verification request.
type KeyUse struct {
	AppKey     string `json:"app_key"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type statusResponse struct {
	StatusCode int `json:"StatusCode"`
}

type versionResponse struct {
	Data *struct {
		Version *string `json:"version"`
	} `json:"data"`
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	ClientSecret string
	Timeout      time.Duration
	TokenTTL     time.Duration
	// Retry enables one retry of an attempt that failed transiently.
	Retry bool
	// HTTPDo overrides the transport. Defaults to http.DefaultClient.Do.
	HTTPDo func(*http.Request) (*http.Response, error)
	Now    func() time.Time
	Logger *logging.Logger
}

// Client talks to the authority over HTTP.
type Client struct {
	baseURL    *url.URL
	timeout    time.Duration
	retry      bool
	retryDelay time.Duration
	token      TokenConfig
	httpDo     func(*http.Request) (*http.Response, error)
	now        func() time.Time
	logger     *logging.Logger
	schemas    schemaSet
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}

	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    base,
		timeout:    opts.Timeout,
		retry:      opts.Retry,
		retryDelay: 250 * time.Millisecond,
		token:      DefaultTokenConfig(opts.ClientSecret),
		httpDo:     opts.HTTPDo,
		now:        opts.Now,
		logger:     opts.Logger,
		schemas:    schemas,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if opts.TokenTTL > 0 {
		c.token.Expiry = opts.TokenTTL
	}
	if c.httpDo == nil {
		c.httpDo = http.DefaultClient.Do
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	c.logger = c.logger.WithComponent("authority")
	return c, nil
}

// Ping asks the authority whether it is reachable and returns the
// StatusCode reported in the body.
func (c *Client) Ping(ctx context.Context) (int, error) {
	var resp statusResponse
	if err := c.call(ctx, "ping", http.MethodGet, PathPing, nil, schemaPing, &resp, retryTransient); err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// Version returns the latest published version. An empty string with a nil
// error means the authority answered without a version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp versionResponse
	if err := c.call(ctx, "version", http.MethodGet, PathVersion, nil, schemaVersion, &resp, retryTransient); err != nil {
		return "", err
	}
	if resp.Data == nil || resp.Data.Version == nil {
		return "", nil
	}
	return *resp.Data.Version, nil
}

// UseKey submits an app key for this device and returns the StatusCode
// reported in the body. The request is retried only when the connection
// could not be established, since the authority may consume the key.
func (c *Client) UseKey(ctx context.Context, use KeyUse) (int, error) {
	body, err := json.Marshal(use)
	if err != nil {
		return 0, &Error{Kind: KindUnknown, Op: "use_key", Err: err}
	}
	var resp statusResponse
	if err := c.call(ctx, "use_key", http.MethodPost, PathUseKey, body, schemaUseKey, &resp, retryDialOnly); err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

type retryPolicy func(err error) bool

func retryTransient(err error) bool {
	return KindOf(err) == KindTransientNetwork
}

func retryDialOnly(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (c *Client) call(ctx context.Context, op, method, path string, body []byte, schema string, out any, retry retryPolicy) error {
	err := c.attempt(ctx, op, method, path, body, schema, out)
	if err == nil || !c.retry || !retry(err) {
		return err
	}

	c.logger.Warn("retrying authority request", "op", op, "error", err)
	select {
	case <-ctx.Done():
		return &Error{Kind: KindTransientNetwork, Op: op, Err: ctx.Err()}
	case <-time.After(c.retryDelay):
	}
	return c.attempt(ctx, op, method, path, body, schema, out)
}

func (c *Client) attempt(ctx context.Context, op, method, path string, body []byte, schema string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := c.now()
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	q := url.Values{}
	q.Set(CacheBusterParam, strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return &Error{Kind: KindUnknown, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token.Secret != "" {
		token, err := CreateToken("fieldid-client", now, c.token)
		if err != nil {
			return &Error{Kind: KindUnknown, Op: op, Err: fmt.Errorf("sign token: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpDo(req)
	if err != nil {
		return &Error{Kind: KindTransientNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return &Error{Kind: KindTransientNetwork, Op: op, Status: resp.StatusCode, Err: err}
	}
	if len(data) > maxResponseBytes {
		return &Error{Kind: KindDataIntegrity, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, maxResponseBytes)}
	}

	switch {
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return &Error{Kind: KindTransientNetwork, Op: op, Status: resp.StatusCode, Err: ErrUnexpectedStatus}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &Error{Kind: KindUnknown, Op: op, Status: resp.StatusCode, Err: ErrUnexpectedStatus}
	}

	if err := c.schemas.decode(schema, data, out); err != nil {
		return &Error{Kind: KindDataIntegrity, Op: op, Status: resp.StatusCode, Err: err}
	}

	c.logger.Debug("authority response", "op", op, "http_status", resp.StatusCode)
	return nil
}
