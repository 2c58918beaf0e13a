package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

const klarnaGateway = "klarna"

var klarnaHosts = map[string][2]string{
	// region: {playground, live}
	"europe":        {"https://api.playground.klarna.com", "https://api.klarna.com"},
	"north_america": {"https://api-na.playground.klarna.com", "https://api-na.klarna.com"},
	"oceania":       {"https://api-oc.playground.klarna.com", "https://api-oc.klarna.com"},
}

var defaultMerchantURLs = map[string]string{
	"confirmation": "https://www.example.com/confirmation",
	"notification": "https://www.example.com/notification",
}

// KlarnaMerchantURLs derives the merchant_urls sent with every session
// from the storefront and API base URLs. It returns nil when either is unset.
func KlarnaMerchantURLs(frontendURL, backendURL string) map[string]string {
	frontendURL = strings.TrimRight(frontendURL, "/")
	backendURL = strings.TrimRight(backendURL, "/")
	if frontendURL == "" || backendURL == "" {
		return nil
	}
	return map[string]string{
		"confirmation": frontendURL + "/checkout/success",
		"notification": backendURL + "/checkout/klarna/notification",
	}
}

// WithMerchantURLs sets the Klarna merchant_urls used when a request
// carries none.
func WithMerchantURLs(urls map[string]string) Option {
	return func(o *clientOptions) { o.merchantURLs = urls }
}

// KlarnaService creates Klarna Payments sessions.
type KlarnaService struct {
	client       gatewayClient
	merchantURLs map[string]string
}

// NewKlarnaService creates a Klarna adapter.
func NewKlarnaService(logger *zap.Logger, opts ...Option) *KlarnaService {
	merchantURLs := applyOptions(opts).merchantURLs
	if len(merchantURLs) == 0 {
		merchantURLs = defaultMerchantURLs
	}
	return &KlarnaService{
		client:       newGatewayClient(klarnaGateway, logger, opts),
		merchantURLs: merchantURLs,
	}
}

func (s *KlarnaService) Name() string      { return klarnaGateway }
func (s *KlarnaService) ConfigKey() string { return klarnaGateway }

type klarnaCredentials struct {
	Authorization string
	Environment   string
	Region        string
	Locale        string
}

// normalizeRegion accepts "North America", "north-america" and the like.
func normalizeRegion(region string) string {
	r := strings.ToLower(strings.TrimSpace(region))
	r = strings.NewReplacer(" ", "_", "-", "_").Replace(r)
	switch r {
	case "eu", "europe":
		return "europe"
	case "oc", "oceania":
		return "oceania"
	default:
		return "north_america"
	}
}

func parseKlarnaCredentials(creds Credentials) (klarnaCredentials, error) {
	c := creds.Nested(klarnaGateway)
	out := klarnaCredentials{
		Environment: environmentOf(c.Str("environment", "mode")),
		Region:      normalizeRegion(c.Str("region")),
		Locale:      c.Str("locale"),
	}

	switch auth := c.Str("authorization"); {
	case auth != "":
		if !strings.HasPrefix(auth, "Basic ") {
			auth = "Basic " + auth
		}
		out.Authorization = auth
	case c.Str("username") != "" && c.Str("password") != "":
		out.Authorization = basicAuth(c.Str("username"), c.Str("password"))
	default:
		return out, validationError(klarnaGateway,
			"Missing credentials: provide either authorization or username/password",
			"username", "password", "authorization").withCode("MISSING_CREDENTIALS")
	}
	return out, nil
}

func (s *KlarnaService) url(c klarnaCredentials, path string) string {
	hosts := klarnaHosts[c.Region]
	base := hosts[0]
	if c.Environment == "live" {
		base = hosts[1]
	}
	return s.client.resolveBase(base) + path
}

type klarnaOrderLine struct {
	Type           string `json:"type"`
	Reference      string `json:"reference,omitempty"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPrice      int64  `json:"unit_price"`
	TaxRate        int64  `json:"tax_rate"`
	TotalAmount    int64  `json:"total_amount"`
	TotalTaxAmount int64  `json:"total_tax_amount"`
}

type klarnaAddress struct {
	GivenName      string `json:"given_name,omitempty"`
	FamilyName     string `json:"family_name,omitempty"`
	Email          string `json:"email,omitempty"`
	StreetAddress  string `json:"street_address,omitempty"`
	StreetAddress2 string `json:"street_address2,omitempty"`
	PostalCode     string `json:"postal_code,omitempty"`
	City           string `json:"city,omitempty"`
	Region         string `json:"region,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Country        string `json:"country"`
}

type klarnaSession struct {
	PurchaseCountry   string            `json:"purchase_country"`
	PurchaseCurrency  string            `json:"purchase_currency"`
	Locale            string            `json:"locale"`
	OrderAmount       int64             `json:"order_amount"`
	OrderTaxAmount    int64             `json:"order_tax_amount"`
	OrderLines        []klarnaOrderLine `json:"order_lines"`
	BillingAddress    *klarnaAddress    `json:"billing_address,omitempty"`
	ShippingAddress   *klarnaAddress    `json:"shipping_address,omitempty"`
	Customer          map[string]string `json:"customer,omitempty"`
	MerchantReference string            `json:"merchant_reference1,omitempty"`
	MerchantURLs      map[string]string `json:"merchant_urls"`
}

// testSession is the fixed sample session used to check credentials.
func testSession() klarnaSession {
	return klarnaSession{
		PurchaseCountry:  "US",
		PurchaseCurrency: "USD",
		Locale:           "en-US",
		OrderAmount:      10000,
		OrderTaxAmount:   1000,
		OrderLines: []klarnaOrderLine{{
			Type:           "physical",
			Reference:      "SKU123",
			Name:           "Blue T-Shirt",
			Quantity:       1,
			UnitPrice:      10000,
			TaxRate:        1000,
			TotalAmount:    10000,
			TotalTaxAmount: 1000,
		}},
		BillingAddress: &klarnaAddress{
			GivenName:     "John",
			FamilyName:    "Doe",
			Email:         "john@doe.com",
			StreetAddress: "Lombard St 10",
			PostalCode:    "90210",
			City:          "Beverly Hills",
			Region:        "CA",
			Phone:         "333444555",
			Country:       "US",
		},
		Customer:     map[string]string{"type": "person", "date_of_birth": "1995-10-20"},
		MerchantURLs: defaultMerchantURLs,
	}
}

type klarnaErrorEnvelope struct {
	ErrorCode     string   `json:"error_code"`
	ErrorMessages []string `json:"error_messages"`
	CorrelationID string   `json:"correlation_id"`
}

func klarnaFailure(op string, resp *upstreamResponse, code string) *GatewayError {
	var env klarnaErrorEnvelope
	message := ""
	if err := resp.decode(&env); err == nil && len(env.ErrorMessages) > 0 {
		message = strings.Join(env.ErrorMessages, "; ")
	}
	if resp.Status == http.StatusUnauthorized {
		message = "Klarna credentials are invalid (401 Unauthorized)"
		code = "AUTHENTICATION_FAILED"
	}
	return upstreamError(klarnaGateway, op, resp, message).withCode(code)
}

func (s *KlarnaService) createSession(ctx context.Context, op string, c klarnaCredentials, payload klarnaSession) (*upstreamResponse, error) {
	return s.client.do(ctx, op, requestOpts{
		URL:     s.url(c, "/payments/v1/sessions"),
		Header:  map[string]string{"Authorization": c.Authorization},
		JSON:    payload,
		Timeout: tokenCallTimeout,
	})
}

// TestConnection creates a sample session. Any 2xx reply means the
// credentials work for the region.
func (s *KlarnaService) TestConnection(ctx context.Context, creds Credentials) (*models.ConnectionResult, error) {
	c, err := parseKlarnaCredentials(creds)
	if err != nil {
		return nil, err
	}

	resp, err := s.createSession(ctx, "test_connection", c, testSession())
	if err != nil {
		if gwErr, ok := AsGatewayError(err); ok {
			gwErr.Code = "CONNECTION_ERROR"
		}
		return nil, err
	}
	if !resp.ok() {
		return nil, klarnaFailure("test_connection", resp, "CONNECTION_ERROR")
	}

	return &models.ConnectionResult{
		Success: true,
		Gateway: klarnaGateway,
		Message: "Klarna connection test successful",
		Details: map[string]any{
			"environment": c.Environment,
			"region":      c.Region,
			"status_code": resp.Status,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

func klarnaAddressOf(a models.Address, customer models.Customer) *klarnaAddress {
	return &klarnaAddress{
		GivenName:      customer.FirstName,
		FamilyName:     customer.LastName,
		Email:          customer.Email,
		StreetAddress:  a.Line1,
		StreetAddress2: a.Line2,
		PostalCode:     a.PostalCode,
		City:           a.City,
		Region:         a.State,
		Phone:          customer.Phone,
		Country:        a.CountryCode,
	}
}

// sessionPayload converts the order into Klarna minor units. Tax, shipping
// and discount become their own lines so the lines add up to order_amount.
func sessionPayload(c klarnaCredentials, req *models.CheckoutRequest, defaults map[string]string) klarnaSession {
	currency := req.Currency
	lines := make([]klarnaOrderLine, 0, len(req.Items)+3)
	for _, item := range req.Items {
		lines = append(lines, klarnaOrderLine{
			Type:        "physical",
			Reference:   firstNonEmpty(item.SKU, item.ProductID),
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   ToMinorUnits(item.UnitPrice, currency),
			TotalAmount: ToMinorUnits(item.Total(), currency),
		})
	}
	if req.ShippingAmount.IsPositive() {
		amount := ToMinorUnits(req.ShippingAmount, currency)
		lines = append(lines, klarnaOrderLine{Type: "shipping_fee", Name: "Shipping", Quantity: 1, UnitPrice: amount, TotalAmount: amount})
	}
	if req.DiscountAmount.IsPositive() {
		amount := -ToMinorUnits(req.DiscountAmount, currency)
		lines = append(lines, klarnaOrderLine{Type: "discount", Name: "Discount", Quantity: 1, UnitPrice: amount, TotalAmount: amount})
	}
	tax := ToMinorUnits(req.TaxAmount, currency)
	if tax > 0 {
		lines = append(lines, klarnaOrderLine{Type: "sales_tax", Name: "Tax", Quantity: 1, UnitPrice: tax, TotalAmount: tax})
	}

	var orderAmount int64
	for _, l := range lines {
		orderAmount += l.TotalAmount
	}

	country := firstNonEmpty(req.ShippingAddress.CountryCode, "US")
	merchantURLs := req.MerchantURLs
	if len(merchantURLs) == 0 {
		merchantURLs = defaults
	}

	return klarnaSession{
		PurchaseCountry:   country,
		PurchaseCurrency:  currency,
		Locale:            firstNonEmpty(c.Locale, "en-"+country),
		OrderAmount:       orderAmount,
		OrderTaxAmount:    tax,
		OrderLines:        lines,
		BillingAddress:    klarnaAddressOf(req.Billing(), req.Customer),
		ShippingAddress:   klarnaAddressOf(req.ShippingAddress, req.Customer),
		MerchantReference: req.OrderID,
		MerchantURLs:      merchantURLs,
	}
}

// ProcessPayment opens a Klarna Payments session. The client token is
// handed to the storefront widget, which completes the authorization.
func (s *KlarnaService) ProcessPayment(ctx context.Context, req *models.CheckoutRequest, creds Credentials) (*models.PaymentResult, error) {
	c, err := parseKlarnaCredentials(creds)
	if err != nil {
		return nil, err
	}
	if err := ValidateCheckout(klarnaGateway, req); err != nil {
		return nil, err
	}

	payload := sessionPayload(c, req, s.merchantURLs)
	resp, err := s.createSession(ctx, "create_session", c, payload)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, klarnaFailure("create_session", resp, "SESSION_CREATION_FAILED")
	}

	var session struct {
		SessionID   string `json:"session_id"`
		ClientToken string `json:"client_token"`
	}
	if err := resp.decode(&session); err != nil || session.SessionID == "" {
		return nil, internalError(klarnaGateway, "create_session", fmt.Errorf("decode session: %v", err))
	}

	s.client.logger.Info("klarna session created",
		zap.String("order_id", req.OrderID),
		zap.String("session_id", session.SessionID),
		zap.String("region", c.Region),
	)

	return &models.PaymentResult{
		Success:     true,
		Gateway:     klarnaGateway,
		OrderID:     req.OrderID,
		SessionID:   session.SessionID,
		ClientToken: session.ClientToken,
		Status:      "session_created",
		Message:     "Klarna session created",
		Amount:      FromMinorUnits(payload.OrderAmount, req.Currency),
		Currency:    req.Currency,
		Raw:         json.RawMessage(resp.Body),
		Timestamp:   time.Now().UTC(),
	}, nil
}
