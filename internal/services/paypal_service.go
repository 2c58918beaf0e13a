package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

const (
	paypalGateway     = "paypal"
	paypalSandboxBase = "https://api-m.sandbox.paypal.com"
	paypalLiveBase    = "https://api-m.paypal.com"
	paypalTokenTTL    = 55 * time.Minute
)

// PayPalCredentials are the REST app credentials of a PayPal account.
type PayPalCredentials struct {
	ClientID     string
	ClientSecret string
	Environment  string
}

// ParsePayPalCredentials reads client_id/client_secret plus environment
// (or mode) from a credential map.
func ParsePayPalCredentials(gateway string, creds Credentials) (PayPalCredentials, error) {
	if missing := creds.missing("client_id", "client_secret"); len(missing) > 0 {
		return PayPalCredentials{}, missingFieldsError(gateway, "fields", missing)
	}
	return PayPalCredentials{
		ClientID:     creds.Str("client_id"),
		ClientSecret: creds.Str("client_secret"),
		Environment:  environmentOf(creds.Str("environment", "mode")),
	}, nil
}

// PayPalClient calls the PayPal REST API for one set of credentials. The
// OAuth token is cached and safe for concurrent use.
type PayPalClient struct {
	gateway string
	creds   PayPalCredentials
	client  gatewayClient

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// NewPayPalClient creates a client. gateway names the adapter in errors.
func NewPayPalClient(gateway string, creds PayPalCredentials, logger *zap.Logger, opts ...Option) *PayPalClient {
	return &PayPalClient{
		gateway: gateway,
		creds:   creds,
		client:  newGatewayClient(gateway, logger, opts),
	}
}

// Configured reports whether credentials are present.
func (p *PayPalClient) Configured() bool {
	return p.creds.ClientID != "" && p.creds.ClientSecret != ""
}

// Mode returns sandbox or live.
func (p *PayPalClient) Mode() string {
	return environmentOf(p.creds.Environment)
}

func (p *PayPalClient) baseURL() string {
	if p.Mode() == "live" {
		return p.client.resolveBase(paypalLiveBase)
	}
	return p.client.resolveBase(paypalSandboxBase)
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	AppID       string `json:"app_id"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

type paypalErrorEnvelope struct {
	Name             string `json:"name"`
	Message          string `json:"message"`
	DebugID          string `json:"debug_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Details          []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e paypalErrorEnvelope) issue() string {
	if len(e.Details) > 0 && e.Details[0].Issue != "" {
		return e.Details[0].Issue
	}
	if e.Name != "" {
		return e.Name
	}
	return e.Error
}

func (e paypalErrorEnvelope) text() string {
	if len(e.Details) > 0 && e.Details[0].Description != "" {
		return e.Details[0].Description
	}
	if e.Message != "" {
		return e.Message
	}
	return e.ErrorDescription
}

func (p *PayPalClient) failure(op string, resp *upstreamResponse, fallback string) *GatewayError {
	var env paypalErrorEnvelope
	message := fallback
	if err := resp.decode(&env); err == nil && env.text() != "" {
		message = env.text()
	}
	return upstreamError(p.gateway, op, resp, message)
}

// PayPalIssue returns the first PayPal issue code in a gateway error body.
func PayPalIssue(err error) string {
	gwErr, ok := AsGatewayError(err)
	if !ok || len(gwErr.Body) == 0 {
		return ""
	}
	var env paypalErrorEnvelope
	if json.Unmarshal(gwErr.Body, &env) != nil {
		return ""
	}
	return env.issue()
}

func (p *PayPalClient) fetchToken(ctx context.Context) (*paypalTokenResponse, error) {
	if !p.Configured() {
		return nil, missingFieldsError(p.gateway, "fields", []string{"client_id", "client_secret"})
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	resp, err := p.client.do(ctx, "oauth_token", requestOpts{
		Method: http.MethodPost,
		URL:    p.baseURL() + "/v1/oauth2/token",
		Header: map[string]string{
			"Authorization":   basicAuth(p.creds.ClientID, p.creds.ClientSecret),
			"Accept-Language": "en_US",
		},
		Form:    form,
		Timeout: tokenCallTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		gwErr := p.failure("oauth_token", resp, "Failed to authenticate with PayPal")
		gwErr.Kind = KindUpstreamAuth
		return nil, gwErr
	}

	var token paypalTokenResponse
	if err := resp.decode(&token); err != nil || token.AccessToken == "" {
		return nil, internalError(p.gateway, "oauth_token", fmt.Errorf("decode token response: %v", err))
	}
	return &token, nil
}

// AccessToken returns a cached token, fetching a new one when expired.
func (p *PayPalClient) AccessToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.token != "" && time.Now().Before(p.expiry) {
		t := p.token
		p.mu.RUnlock()
		return t, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock.
	if p.token != "" && time.Now().Before(p.expiry) {
		return p.token, nil
	}

	token, err := p.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	ttl := paypalTokenTTL
	if token.ExpiresIn > 0 && time.Duration(token.ExpiresIn)*time.Second < ttl {
		ttl = time.Duration(token.ExpiresIn)*time.Second - 30*time.Second
	}
	p.token = token.AccessToken
	p.expiry = time.Now().Add(ttl)
	return p.token, nil
}

// TestConnection fetches a fresh OAuth token without touching the cache.
func (p *PayPalClient) TestConnection(ctx context.Context) (*models.ConnectionResult, error) {
	token, err := p.fetchToken(ctx)
	if err != nil {
		return nil, err
	}
	return &models.ConnectionResult{
		Success: true,
		Gateway: p.gateway,
		Message: "Successfully connected to PayPal",
		Details: map[string]any{
			"mode":       p.Mode(),
			"token_type": token.TokenType,
			"expires_in": token.ExpiresIn,
			"app_id":     token.AppID,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalBreakdown struct {
	ItemTotal paypalMoney  `json:"item_total"`
	TaxTotal  *paypalMoney `json:"tax_total,omitempty"`
	Shipping  *paypalMoney `json:"shipping,omitempty"`
	Discount  *paypalMoney `json:"discount,omitempty"`
}

type paypalAmount struct {
	CurrencyCode string           `json:"currency_code"`
	Value        string           `json:"value"`
	Breakdown    *paypalBreakdown `json:"breakdown,omitempty"`
}

type paypalItem struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	SKU         string      `json:"sku,omitempty"`
	Quantity    string      `json:"quantity"`
	UnitAmount  paypalMoney `json:"unit_amount"`
	Category    string      `json:"category,omitempty"`
}

type paypalAddress struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	AdminArea2   string `json:"admin_area_2,omitempty"`
	AdminArea1   string `json:"admin_area_1,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	CountryCode  string `json:"country_code"`
}

func paypalAddressOf(a models.Address) paypalAddress {
	return paypalAddress{
		AddressLine1: a.Line1,
		AddressLine2: a.Line2,
		AdminArea2:   a.City,
		AdminArea1:   a.State,
		PostalCode:   a.PostalCode,
		CountryCode:  firstNonEmpty(a.CountryCode, "US"),
	}
}

type paypalShipping struct {
	Name struct {
		FullName string `json:"full_name"`
	} `json:"name"`
	Address paypalAddress `json:"address"`
}

type paypalPurchaseUnit struct {
	ReferenceID string          `json:"reference_id"`
	CustomID    string          `json:"custom_id,omitempty"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	Description string          `json:"description,omitempty"`
	Amount      paypalAmount    `json:"amount"`
	Items       []paypalItem    `json:"items,omitempty"`
	Shipping    *paypalShipping `json:"shipping,omitempty"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paypalCapture struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Amount paypalMoney `json:"amount"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
		Payments    struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *paypalOrder) link(rels ...string) string {
	for _, rel := range rels {
		for _, l := range o.Links {
			if l.Rel == rel {
				return l.Href
			}
		}
	}
	return ""
}

func (o *paypalOrder) firstCapture() *paypalCapture {
	for _, pu := range o.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			c := pu.Payments.Captures[0]
			return &c
		}
	}
	return nil
}

func (p *PayPalClient) call(ctx context.Context, op string, opts requestOpts) (*upstreamResponse, error) {
	token, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Header == nil {
		opts.Header = map[string]string{}
	}
	opts.Header["Authorization"] = "Bearer " + token
	opts.URL = p.baseURL() + opts.URL
	return p.client.do(ctx, op, opts)
}

func (p *PayPalClient) orderCall(ctx context.Context, op string, opts requestOpts) (*paypalOrder, *upstreamResponse, error) {
	resp, err := p.call(ctx, op, opts)
	if err != nil {
		return nil, nil, err
	}
	if !resp.ok() {
		return nil, resp, p.failure(op, resp, "")
	}
	var order paypalOrder
	if err := resp.decode(&order); err != nil {
		return nil, resp, internalError(p.gateway, op, fmt.Errorf("decode order: %w", err))
	}
	return &order, resp, nil
}

// CreateOrder posts an order. requestID is sent as PayPal-Request-Id so
// PayPal can deduplicate retries.
func (p *PayPalClient) CreateOrder(ctx context.Context, payload any, requestID string) (*paypalOrder, *upstreamResponse, error) {
	header := map[string]string{"Prefer": "return=representation"}
	if requestID != "" {
		header["PayPal-Request-Id"] = requestID
	}
	return p.orderCall(ctx, "create_order", requestOpts{
		Method: http.MethodPost,
		URL:    "/v2/checkout/orders",
		Header: header,
		JSON:   payload,
	})
}

// CaptureOrder captures an approved order.
func (p *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*paypalOrder, *upstreamResponse, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, nil, validationError(p.gateway, "paypal_order_id is required", "paypal_order_id")
	}
	return p.orderCall(ctx, "capture_order", requestOpts{
		Method: http.MethodPost,
		URL:    "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture",
		Header: map[string]string{"Prefer": "return=representation"},
		JSON:   struct{}{},
	})
}

// GetOrder fetches order details.
func (p *PayPalClient) GetOrder(ctx context.Context, orderID string) (*paypalOrder, *upstreamResponse, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, nil, validationError(p.gateway, "paypal_order_id is required", "paypal_order_id")
	}
	return p.orderCall(ctx, "get_order", requestOpts{
		Method:  http.MethodGet,
		URL:     "/v2/checkout/orders/" + url.PathEscape(orderID),
		Timeout: lookupCallTimeout,
	})
}

func basicAuth(user, pass string) string {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(user, pass)
	return req.Header.Get("Authorization")
}
