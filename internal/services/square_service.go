package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

const (
	squareGateway     = "square"
	squareSandboxBase = "https://connect.squareupsandbox.com"
	squareLiveBase    = "https://connect.squareup.com"
	squareAPIVersion  = "2024-12-18"

	// squareSandboxNonce is Square's documented always-approved test card nonce.
	squareSandboxNonce = "cnon:card-nonce-ok"

	squareReferenceMax = 40
	squareNoteMax      = 500
)

// SquareService calls the Square Payments API.
type SquareService struct {
	client gatewayClient
}

// NewSquareService creates a Square adapter.
func NewSquareService(logger *zap.Logger, opts ...Option) *SquareService {
	return &SquareService{client: newGatewayClient(squareGateway, logger, opts)}
}

func (s *SquareService) Name() string      { return squareGateway }
func (s *SquareService) ConfigKey() string { return squareGateway }

type squareCredentials struct {
	ApplicationID string
	AccessToken   string
	LocationID    string
	Environment   string
}

// parseSquareCredentials accepts a flat map or one nested under "square".
func parseSquareCredentials(creds Credentials) (squareCredentials, error) {
	c := creds.Nested(squareGateway)
	if missing := c.missing("application_id", "access_token", "location_id"); len(missing) > 0 {
		return squareCredentials{}, missingFieldsError(squareGateway, "Square credentials", missing)
	}
	return squareCredentials{
		ApplicationID: c.Str("application_id"),
		AccessToken:   c.Str("access_token"),
		LocationID:    c.Str("location_id"),
		Environment:   environmentOf(c.Str("environment", "mode")),
	}, nil
}

func (s *SquareService) url(c squareCredentials, path string) string {
	base := squareSandboxBase
	if c.Environment == "live" {
		base = squareLiveBase
	}
	return s.client.resolveBase(base) + path
}

func (s *SquareService) headers(c squareCredentials) map[string]string {
	return map[string]string{
		"Authorization":  "Bearer " + c.AccessToken,
		"Square-Version": squareAPIVersion,
	}
}

type squareErrorEnvelope struct {
	Errors []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
		Field    string `json:"field"`
	} `json:"errors"`
}

func squareFailure(op string, resp *upstreamResponse) *GatewayError {
	var env squareErrorEnvelope
	message, code := "", ""
	if err := resp.decode(&env); err == nil && len(env.Errors) > 0 {
		message = env.Errors[0].Detail
		code = env.Errors[0].Code
	}
	return upstreamError(squareGateway, op, resp, message).withCode(code)
}

type squareLocation struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// TestConnection lists the account's locations and checks that the
// configured location is among them.
func (s *SquareService) TestConnection(ctx context.Context, creds Credentials) (*models.ConnectionResult, error) {
	c, err := parseSquareCredentials(creds)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.do(ctx, "list_locations", requestOpts{
		Method:  http.MethodGet,
		URL:     s.url(c, "/v2/locations"),
		Header:  s.headers(c),
		Timeout: tokenCallTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		gwErr := squareFailure("list_locations", resp)
		gwErr.Message = "Square connection test failed: " + firstNonEmpty(gwErr.Message, "Authentication failed")
		return nil, gwErr.withCode("AUTHENTICATION_FAILED")
	}

	var body struct {
		Locations []squareLocation `json:"locations"`
	}
	if err := resp.decode(&body); err != nil {
		return nil, internalError(squareGateway, "list_locations", fmt.Errorf("decode locations: %w", err))
	}
	if len(body.Locations) == 0 {
		return nil, validationError(squareGateway, "No locations found in your Square account", "location_id").
			withCode("NO_LOCATIONS_FOUND")
	}

	var found *squareLocation
	available := make([]string, 0, len(body.Locations))
	for i := range body.Locations {
		available = append(available, body.Locations[i].ID)
		if body.Locations[i].ID == c.LocationID {
			found = &body.Locations[i]
		}
	}
	if found == nil {
		gwErr := validationError(squareGateway,
			fmt.Sprintf("Location ID %s not found in your Square account", c.LocationID), "location_id")
		gwErr.Body, _ = json.Marshal(map[string]any{"available_locations": available})
		return nil, gwErr.withCode("LOCATION_NOT_FOUND")
	}

	return &models.ConnectionResult{
		Success: true,
		Gateway: squareGateway,
		Message: "Square connection test successful",
		Details: map[string]any{
			"mode":            c.Environment,
			"application_id":  truncate(c.ApplicationID, 10) + "...",
			"location_id":     c.LocationID,
			"location_name":   found.Name,
			"locations_count": len(body.Locations),
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

type squareAddress struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	Locality     string `json:"locality,omitempty"`
	District     string `json:"administrative_district_level_1,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
}

func squareAddressOf(a models.Address, customer models.Customer) *squareAddress {
	return &squareAddress{
		AddressLine1: a.Line1,
		AddressLine2: a.Line2,
		Locality:     a.City,
		District:     a.State,
		PostalCode:   a.PostalCode,
		Country:      a.CountryCode,
		FirstName:    customer.FirstName,
		LastName:     customer.LastName,
	}
}

type squarePaymentRequest struct {
	IdempotencyKey    string             `json:"idempotency_key"`
	SourceID          string             `json:"source_id"`
	AmountMoney       models.SquareMoney `json:"amount_money"`
	LocationID        string             `json:"location_id"`
	ReferenceID       string             `json:"reference_id,omitempty"`
	BuyerEmailAddress string             `json:"buyer_email_address,omitempty"`
	Note              string             `json:"note,omitempty"`
	BillingAddress    *squareAddress     `json:"billing_address,omitempty"`
	ShippingAddress   *squareAddress     `json:"shipping_address,omitempty"`
	Autocomplete      bool               `json:"autocomplete"`
}

type squarePaymentResponse struct {
	Payment struct {
		ID          string             `json:"id"`
		Status      string             `json:"status"`
		AmountMoney models.SquareMoney `json:"amount_money"`
		CreatedAt   string             `json:"created_at"`
		UpdatedAt   string             `json:"updated_at"`
		ReceiptURL  string             `json:"receipt_url"`
		OrderID     string             `json:"order_id"`
	} `json:"payment"`
}

// squareStatus folds Square's payment status into COMPLETED, PENDING or
// FAILED.
func squareStatus(status string) string {
	switch status {
	case "COMPLETED":
		return "COMPLETED"
	case "APPROVED", "PENDING":
		return "PENDING"
	default:
		return "FAILED"
	}
}

// ProcessPayment creates and autocompletes a Square payment. Outside the
// sandbox a card nonce from the Web Payments SDK is required.
func (s *SquareService) ProcessPayment(ctx context.Context, req *models.CheckoutRequest, creds Credentials) (*models.PaymentResult, error) {
	c, err := parseSquareCredentials(creds)
	if err != nil {
		return nil, err
	}
	if err := ValidateCheckout(squareGateway, req); err != nil {
		return nil, err
	}

	sourceID := firstNonEmpty(req.PaymentMethod.Nonce, req.PaymentMethod.Token)
	if sourceID == "" {
		if c.Environment == "live" {
			return nil, missingFieldsError(squareGateway, "payment_method fields", []string{"nonce"})
		}
		sourceID = squareSandboxNonce
	}

	payload := squarePaymentRequest{
		IdempotencyKey: uuid.NewString(),
		SourceID:       sourceID,
		AmountMoney: models.SquareMoney{
			Amount:   ToMinorUnits(req.TotalAmount, req.Currency),
			Currency: req.Currency,
		},
		LocationID:        c.LocationID,
		ReferenceID:       truncate(req.OrderID, squareReferenceMax),
		BuyerEmailAddress: req.Customer.Email,
		Note:              truncate(firstNonEmpty(req.Notes, "Order "+req.OrderID), squareNoteMax),
		BillingAddress:    squareAddressOf(req.Billing(), req.Customer),
		ShippingAddress:   squareAddressOf(req.ShippingAddress, req.Customer),
		Autocomplete:      true,
	}

	resp, err := s.client.do(ctx, "create_payment", requestOpts{
		URL:    s.url(c, "/v2/payments"),
		Header: s.headers(c),
		JSON:   payload,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, squareFailure("create_payment", resp)
	}

	var body squarePaymentResponse
	if err := resp.decode(&body); err != nil || body.Payment.ID == "" {
		return nil, internalError(squareGateway, "create_payment", fmt.Errorf("no payment returned: %v", err))
	}
	p := body.Payment

	s.client.logger.Info("square payment created",
		zap.String("order_id", req.OrderID),
		zap.String("payment_id", p.ID),
		zap.String("status", p.Status),
	)

	status := squareStatus(p.Status)
	message := "Payment processed successfully"
	if status == "FAILED" {
		message = "Payment failed with status " + p.Status
	}

	return &models.PaymentResult{
		Success: status != "FAILED",
		Gateway: squareGateway,
		OrderID: req.OrderID,
		Payment: &models.SquarePayment{
			ID:          p.ID,
			Status:      p.Status,
			AmountMoney: p.AmountMoney,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   p.UpdatedAt,
			ReceiptURL:  p.ReceiptURL,
			OrderID:     req.OrderID,
		},
		Status:    status,
		Message:   message,
		Amount:    FromMinorUnits(p.AmountMoney.Amount, p.AmountMoney.Currency),
		Currency:  p.AmountMoney.Currency,
		Raw:       json.RawMessage(resp.Body),
		Timestamp: time.Now().UTC(),
	}, nil
}

// SquareRefundRequest refunds a payment fully or in part. Amount is in
// major units; without it the whole payment is refunded.
type SquareRefundRequest struct {
	PaymentID     string           `json:"payment_id" validate:"required"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Reason        string           `json:"reason,omitempty" validate:"max=192"`
	PaymentConfig map[string]any   `json:"payment_config,omitempty"`
}

// Refund issues a refund for a Square payment.
func (s *SquareService) Refund(ctx context.Context, creds Credentials, req *SquareRefundRequest) (*models.RefundResult, error) {
	c, err := parseSquareCredentials(creds)
	if err != nil {
		return nil, err
	}
	if err := ValidateStruct(squareGateway, req); err != nil {
		return nil, err
	}

	if req.Amount != nil && !req.Amount.IsPositive() {
		return nil, validationError(squareGateway, "amount must be greater than 0", "amount")
	}

	// The payment supplies the currency, and the amount for full refunds.
	payment, err := s.getPayment(ctx, c, req.PaymentID)
	if err != nil {
		return nil, err
	}
	money := payment.Payment.AmountMoney
	if req.Amount != nil {
		money.Amount = ToMinorUnits(*req.Amount, money.Currency)
	}

	payload := map[string]any{
		"idempotency_key": uuid.NewString(),
		"payment_id":      req.PaymentID,
		"amount_money":    money,
	}
	if req.Reason != "" {
		payload["reason"] = req.Reason
	}

	resp, err := s.client.do(ctx, "create_refund", requestOpts{
		URL:    s.url(c, "/v2/refunds"),
		Header: s.headers(c),
		JSON:   payload,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, squareFailure("create_refund", resp)
	}

	var body struct {
		Refund struct {
			ID          string             `json:"id"`
			Status      string             `json:"status"`
			PaymentID   string             `json:"payment_id"`
			AmountMoney models.SquareMoney `json:"amount_money"`
		} `json:"refund"`
	}
	if err := resp.decode(&body); err != nil {
		return nil, internalError(squareGateway, "create_refund", err)
	}
	r := body.Refund

	s.client.logger.Info("square refund created",
		zap.String("refund_id", r.ID),
		zap.String("payment_id", req.PaymentID),
		zap.String("status", r.Status),
	)

	return &models.RefundResult{
		Success:   r.Status != "REJECTED" && r.Status != "FAILED",
		Gateway:   squareGateway,
		RefundID:  r.ID,
		PaymentID: firstNonEmpty(r.PaymentID, req.PaymentID),
		Status:    r.Status,
		Amount:    FromMinorUnits(r.AmountMoney.Amount, r.AmountMoney.Currency),
		Currency:  r.AmountMoney.Currency,
		Message:   "Refund " + r.Status,
		Raw:       json.RawMessage(resp.Body),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *SquareService) getPayment(ctx context.Context, c squareCredentials, paymentID string) (*squarePaymentResponse, error) {
	resp, err := s.client.do(ctx, "get_payment", requestOpts{
		Method:  http.MethodGet,
		URL:     s.url(c, "/v2/payments/"+url.PathEscape(paymentID)),
		Header:  s.headers(c),
		Timeout: lookupCallTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, squareFailure("get_payment", resp)
	}
	var body squarePaymentResponse
	if err := resp.decode(&body); err != nil {
		return nil, internalError(squareGateway, "get_payment", err)
	}
	return &body, nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
