package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	paymentCallTimeout = 30 * time.Second
	tokenCallTimeout   = 15 * time.Second
	lookupCallTimeout  = 10 * time.Second

	maxResponseBody = 1 << 20
)

// Option customises a gateway adapter.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient   *http.Client
	baseURL      string
	merchantURLs map[string]string
}

// WithHTTPClient replaces the HTTP client used for gateway calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithBaseURL pins the gateway base URL regardless of environment.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = strings.TrimRight(u, "/") }
}

func applyOptions(opts []Option) clientOptions {
	o := clientOptions{httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// gatewayClient performs the outbound calls of one adapter. Every call
// gets its own deadline; nothing is retried.
type gatewayClient struct {
	gateway string
	http    *http.Client
	baseURL string
	logger  *zap.Logger
}

func newGatewayClient(gateway string, logger *zap.Logger, opts []Option) gatewayClient {
	o := applyOptions(opts)
	if logger == nil {
		logger = zap.NewNop()
	}
	return gatewayClient{
		gateway: gateway,
		http:    o.httpClient,
		baseURL: o.baseURL,
		logger:  logger,
	}
}

// resolveBase returns the pinned base URL, or fallback.
func (c *gatewayClient) resolveBase(fallback string) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return fallback
}

type upstreamResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *upstreamResponse) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

// decode unmarshals the body into v.
func (r *upstreamResponse) decode(v any) error {
	return json.Unmarshal(trimBOM(r.Body), v)
}

var utf8BOM = []byte("\xef\xbb\xbf")

// trimBOM drops a leading UTF-8 byte order mark, which Authorize.Net sends.
func trimBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, utf8BOM)
}

type requestOpts struct {
	Method  string
	URL     string
	Header  map[string]string
	JSON    any
	Form    url.Values
	Timeout time.Duration

	// Secret is masked out of the request URL wherever it can surface.
	Secret string
}

func (c *gatewayClient) do(ctx context.Context, op string, opts requestOpts) (*upstreamResponse, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = paymentCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	switch {
	case opts.JSON != nil:
		data, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, internalError(c.gateway, op, fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case opts.Form != nil:
		body = strings.NewReader(opts.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	method := opts.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, opts.URL, body)
	if err != nil {
		return nil, internalError(c.gateway, op, fmt.Errorf("build request: %w", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range opts.Header {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = redactURLError(err, opts.Secret)
		c.logger.Warn("gateway call failed",
			zap.String("op", op),
			zap.String("method", method),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, transportError(c.gateway, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, transportError(c.gateway, op, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug("gateway call",
		zap.String("op", op),
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &upstreamResponse{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// redactURLError rewrites the URL net/http embeds in transport errors so
// neither the query string nor secret path segments reach logs or callers.
func redactURLError(err error, secret string) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	return &url.Error{Op: uerr.Op, URL: redactURL(uerr.URL, secret), Err: uerr.Err}
}

func redactURL(raw, secret string) string {
	if secret != "" {
		raw = strings.ReplaceAll(raw, secret, "REDACTED")
		raw = strings.ReplaceAll(raw, url.PathEscape(secret), "REDACTED")
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
