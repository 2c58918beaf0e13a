package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

const (
	stripeGateway    = "stripe"
	stripeAPIBase    = "https://api.stripe.com"
	stripeAPIVersion = "2024-12-18.acacia"
)

// stripeTestTokens maps Stripe's published test card numbers to the sandbox
// tokens that stand in for them. The table must stay exactly as Stripe
// documents it.
var stripeTestTokens = map[string]string{
	"4242424242424242": "tok_visa",
	"4000056655665556": "tok_visa_debit",
	"5555555555554444": "tok_mastercard",
	"2223003122003222": "tok_mastercard_debit",
	"5200828282828210": "tok_mastercard_prepaid",
	"5105105105105100": "tok_mastercard",
	"378282246310005":  "tok_amex",
	"371449635398431":  "tok_amex",
	"6011111111111117": "tok_discover",
	"3056930009020004": "tok_diners",
	"3566002020360505": "tok_jcb",
	"6200000000000005": "tok_unionpay",
}

// StripeTestToken returns the sandbox token for a known test card number.
func StripeTestToken(cardNumber string) (string, bool) {
	token, ok := stripeTestTokens[cardNumber]
	return token, ok
}

// StripeService talks to the Stripe REST API with form-encoded requests.
type StripeService struct {
	client gatewayClient
}

// NewStripeService creates a Stripe adapter.
func NewStripeService(logger *zap.Logger, opts ...Option) *StripeService {
	return &StripeService{client: newGatewayClient(stripeGateway, logger, opts)}
}

func (s *StripeService) Name() string      { return stripeGateway }
func (s *StripeService) ConfigKey() string { return stripeGateway }

type stripeCredentials struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
}

func parseStripeCredentials(creds Credentials) (stripeCredentials, error) {
	c := stripeCredentials{
		SecretKey:      creds.Str("api_key", "secret_key"),
		PublishableKey: creds.Str("publishable_key"),
		WebhookSecret:  creds.Str("webhook_secret"),
	}
	if c.SecretKey == "" {
		return c, validationError(stripeGateway, "Stripe API key is required in payment configuration", "api_key")
	}
	return c, nil
}

func (s *StripeService) url(path string) string {
	return s.client.resolveBase(stripeAPIBase) + path
}

func (s *StripeService) headers(key string) map[string]string {
	return map[string]string{
		"Authorization":  "Bearer " + key,
		"Stripe-Version": stripeAPIVersion,
	}
}

type stripeErrorEnvelope struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func stripeFailure(op string, resp *upstreamResponse) *GatewayError {
	var env stripeErrorEnvelope
	message := ""
	if err := resp.decode(&env); err == nil && env.Error.Message != "" {
		message = env.Error.Message
	}
	return upstreamError(stripeGateway, op, resp, message)
}

type stripeIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
	NextAction   json.RawMessage   `json:"next_action"`
}

func (i stripeIntent) summary() *models.StripePaymentIntent {
	return &models.StripePaymentIntent{
		ID:           i.ID,
		ClientSecret: i.ClientSecret,
		Status:       i.Status,
		Amount:       i.Amount,
		Currency:     i.Currency,
	}
}

func stripeStatusMessage(status string) string {
	switch status {
	case "succeeded":
		return "Payment completed successfully"
	case "requires_action":
		return "Payment requires additional authentication"
	case "processing":
		return "Payment is processing"
	case "requires_capture":
		return "Payment authorized and awaiting capture"
	case "requires_payment_method":
		return "Payment method was declined"
	case "canceled":
		return "Payment was canceled"
	default:
		return "Payment status: " + status
	}
}

func (s *StripeService) intentResult(intent stripeIntent, raw []byte) *models.PaymentResult {
	result := &models.PaymentResult{
		Success:        intent.Status != "canceled" && intent.Status != "requires_payment_method",
		Gateway:        stripeGateway,
		OrderID:        intent.Metadata["order_id"],
		PaymentIntent:  intent.summary(),
		Status:         intent.Status,
		Message:        stripeStatusMessage(intent.Status),
		Amount:         FromMinorUnits(intent.Amount, intent.Currency),
		Currency:       strings.ToUpper(intent.Currency),
		RequiresAction: intent.Status == "requires_action",
		Raw:            json.RawMessage(raw),
		Timestamp:      time.Now().UTC(),
	}
	if len(intent.NextAction) > 0 && string(intent.NextAction) != "null" {
		result.NextAction = intent.NextAction
	}
	return result
}

// TestConnection checks key formats and then retrieves the account the key
// belongs to.
func (s *StripeService) TestConnection(ctx context.Context, creds Credentials) (*models.ConnectionResult, error) {
	c, err := parseStripeCredentials(creds)
	if err != nil {
		return nil, err
	}

	if !hasAnyPrefix(c.SecretKey, "sk_test_", "sk_live_", "rk_test_", "rk_live_") {
		return nil, validationError(stripeGateway, "Invalid Stripe secret key format", "api_key")
	}
	if c.PublishableKey != "" && !hasAnyPrefix(c.PublishableKey, "pk_test_", "pk_live_") {
		return nil, validationError(stripeGateway, "Invalid Stripe publishable key format", "publishable_key")
	}

	resp, err := s.client.do(ctx, "test_connection", requestOpts{
		Method:  http.MethodGet,
		URL:     s.url("/v1/account"),
		Header:  s.headers(c.SecretKey),
		Timeout: lookupCallTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, stripeFailure("test_connection", resp)
	}

	var account struct {
		ID              string `json:"id"`
		Country         string `json:"country"`
		Email           string `json:"email"`
		ChargesEnabled  bool   `json:"charges_enabled"`
		BusinessProfile struct {
			Name string `json:"name"`
		} `json:"business_profile"`
	}
	if err := resp.decode(&account); err != nil {
		return nil, internalError(stripeGateway, "test_connection", fmt.Errorf("decode account: %w", err))
	}

	live := strings.Contains(c.SecretKey, "_live_")
	mode := "test"
	if live {
		mode = "live"
	}

	return &models.ConnectionResult{
		Success: true,
		Gateway: stripeGateway,
		Message: "Stripe connection successful",
		Details: map[string]any{
			"account_id":      account.ID,
			"livemode":        live,
			"mode":            mode,
			"country":         account.Country,
			"charges_enabled": account.ChargesEnabled,
			"display_name":    account.BusinessProfile.Name,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

// paymentMethodForm builds the payment method request. Known test cards are
// sent as sandbox tokens and never as raw card fields.
func paymentMethodForm(req *models.CheckoutRequest) url.Values {
	pm := req.PaymentMethod
	form := url.Values{}
	form.Set("type", "card")

	if token, ok := StripeTestToken(pm.CardNumber); ok {
		form.Set("card[token]", token)
	} else {
		form.Set("card[number]", pm.CardNumber)
		form.Set("card[exp_month]", pm.ExpiryMonthPadded())
		form.Set("card[exp_year]", pm.ExpiryYearFull())
		form.Set("card[cvc]", pm.CVC)
	}

	name := firstNonEmpty(pm.NameOnCard, req.Customer.FullName(), "Test User")
	email := firstNonEmpty(req.Customer.Email, "test@example.com")
	form.Set("billing_details[name]", name)
	form.Set("billing_details[email]", email)
	if req.Customer.Phone != "" {
		form.Set("billing_details[phone]", req.Customer.Phone)
	}

	billing := req.Billing()
	setIf(form, "billing_details[address][line1]", billing.Line1)
	setIf(form, "billing_details[address][line2]", billing.Line2)
	setIf(form, "billing_details[address][city]", billing.City)
	setIf(form, "billing_details[address][state]", billing.State)
	setIf(form, "billing_details[address][postal_code]", billing.PostalCode)
	setIf(form, "billing_details[address][country]", billing.CountryCode)
	return form
}

type stripeCustomer struct {
	ID string `json:"id"`
}

// ensureCustomer returns the Stripe customer registered under the buyer's
// email, creating one when the lookup comes back empty.
func (s *StripeService) ensureCustomer(ctx context.Context, c stripeCredentials, customer models.Customer) (string, error) {
	query := url.Values{}
	query.Set("email", customer.Email)
	query.Set("limit", "1")

	resp, err := s.client.do(ctx, "find_customer", requestOpts{
		Method:  http.MethodGet,
		URL:     s.url("/v1/customers?" + query.Encode()),
		Header:  s.headers(c.SecretKey),
		Timeout: lookupCallTimeout,
	})
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", stripeFailure("find_customer", resp)
	}
	var found struct {
		Data []stripeCustomer `json:"data"`
	}
	if err := resp.decode(&found); err != nil {
		return "", internalError(stripeGateway, "find_customer", fmt.Errorf("decode customers: %w", err))
	}
	if len(found.Data) > 0 && found.Data[0].ID != "" {
		return found.Data[0].ID, nil
	}

	form := url.Values{}
	form.Set("email", customer.Email)
	setIf(form, "name", customer.FullName())
	setIf(form, "phone", customer.Phone)
	setIf(form, "metadata[first_name]", customer.FirstName)
	setIf(form, "metadata[last_name]", customer.LastName)

	resp, err = s.client.do(ctx, "create_customer", requestOpts{
		URL:     s.url("/v1/customers"),
		Header:  s.headers(c.SecretKey),
		Form:    form,
		Timeout: lookupCallTimeout,
	})
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", stripeFailure("create_customer", resp)
	}
	var created stripeCustomer
	if err := resp.decode(&created); err != nil || created.ID == "" {
		return "", internalError(stripeGateway, "create_customer", fmt.Errorf("decode customer: %v", err))
	}
	return created.ID, nil
}

// intentForm builds the confirming payment intent request for an order.
func intentForm(req *models.CheckoutRequest, customerID, paymentMethodID string) url.Values {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(ToMinorUnits(req.TotalAmount, req.Currency), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("customer", customerID)
	form.Set("payment_method", paymentMethodID)
	form.Set("confirm", "true")
	form.Set("description", "Order "+req.OrderID)
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("metadata[customer_email]", req.Customer.Email)
	form.Set("metadata[items_count]", strconv.Itoa(len(req.Items)))
	form.Set("receipt_email", req.Customer.Email)
	form.Set("automatic_payment_methods[enabled]", "true")
	// Redirect-based methods are only allowed when the caller can take the
	// buyer back somewhere.
	if req.ReturnURL != "" {
		form.Set("return_url", req.ReturnURL)
	} else {
		form.Set("automatic_payment_methods[allow_redirects]", "never")
	}
	for k, v := range req.Metadata {
		if k != "order_id" && k != "customer_email" && k != "items_count" {
			form.Set("metadata["+k+"]", v)
		}
	}

	ship := req.ShippingAddress
	if ship.Line1 != "" {
		form.Set("shipping[name]", req.Customer.FullName())
		form.Set("shipping[address][line1]", ship.Line1)
		setIf(form, "shipping[address][line2]", ship.Line2)
		setIf(form, "shipping[address][city]", ship.City)
		setIf(form, "shipping[address][state]", ship.State)
		setIf(form, "shipping[address][postal_code]", ship.PostalCode)
		setIf(form, "shipping[address][country]", strings.ToUpper(ship.CountryCode))
	}
	return form
}

// ProcessPayment resolves the Stripe customer, creates a payment method and
// confirms a payment intent with both.
func (s *StripeService) ProcessPayment(ctx context.Context, req *models.CheckoutRequest, creds Credentials) (*models.PaymentResult, error) {
	c, err := parseStripeCredentials(creds)
	if err != nil {
		return nil, err
	}
	if err := ValidateCheckout(stripeGateway, req); err != nil {
		return nil, err
	}
	if err := requireCard(stripeGateway, req.PaymentMethod); err != nil {
		return nil, err
	}

	log := s.client.logger.With(zap.String("order_id", req.OrderID))

	customerID, err := s.ensureCustomer(ctx, c, req.Customer)
	if err != nil {
		return nil, err
	}
	log.Info("stripe customer resolved", zap.String("customer_id", customerID))

	resp, err := s.client.do(ctx, "create_payment_method", requestOpts{
		URL:    s.url("/v1/payment_methods"),
		Header: s.headers(c.SecretKey),
		Form:   paymentMethodForm(req),
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, stripeFailure("create_payment_method", resp)
	}

	var method struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := resp.decode(&method); err != nil || method.ID == "" {
		return nil, internalError(stripeGateway, "create_payment_method", fmt.Errorf("decode payment method: %v", err))
	}
	log.Info("stripe payment method created", zap.String("payment_method_id", method.ID))

	resp, err = s.client.do(ctx, "create_payment_intent", requestOpts{
		URL:    s.url("/v1/payment_intents"),
		Header: s.headers(c.SecretKey),
		Form:   intentForm(req, customerID, method.ID),
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, stripeFailure("create_payment_intent", resp)
	}

	var intent stripeIntent
	if err := resp.decode(&intent); err != nil {
		return nil, internalError(stripeGateway, "create_payment_intent", fmt.Errorf("decode payment intent: %w", err))
	}
	log.Info("stripe payment intent created",
		zap.String("payment_intent_id", intent.ID),
		zap.String("status", intent.Status),
	)

	result := s.intentResult(intent, resp.Body)
	result.OrderID = req.OrderID
	result.PaymentMethod = &models.StripePaymentMethod{ID: method.ID, Type: method.Type}
	return result, nil
}

// ConfirmPayment confirms an existing payment intent, optionally switching
// its payment method and redirect target.
func (s *StripeService) ConfirmPayment(ctx context.Context, creds Credentials, intentID, paymentMethodID, returnURL string) (*models.PaymentResult, error) {
	c, err := parseStripeCredentials(creds)
	if err != nil {
		return nil, err
	}
	if intentID == "" {
		return nil, validationError(stripeGateway, "payment_intent_id is required", "payment_intent_id")
	}

	form := url.Values{}
	setIf(form, "payment_method", paymentMethodID)
	setIf(form, "return_url", returnURL)

	resp, err := s.client.do(ctx, "confirm_payment_intent", requestOpts{
		URL:    s.url("/v1/payment_intents/" + url.PathEscape(intentID) + "/confirm"),
		Header: s.headers(c.SecretKey),
		Form:   form,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, stripeFailure("confirm_payment_intent", resp)
	}

	var intent stripeIntent
	if err := resp.decode(&intent); err != nil {
		return nil, internalError(stripeGateway, "confirm_payment_intent", err)
	}
	return s.intentResult(intent, resp.Body), nil
}

// GetPaymentIntent retrieves a payment intent.
func (s *StripeService) GetPaymentIntent(ctx context.Context, creds Credentials, intentID string) (*models.PaymentResult, error) {
	c, err := parseStripeCredentials(creds)
	if err != nil {
		return nil, err
	}
	intent, raw, err := s.fetchIntent(ctx, c, intentID)
	if err != nil {
		return nil, err
	}
	return s.intentResult(intent, raw), nil
}

func (s *StripeService) fetchIntent(ctx context.Context, c stripeCredentials, intentID string) (stripeIntent, []byte, error) {
	var intent stripeIntent
	if intentID == "" {
		return intent, nil, validationError(stripeGateway, "payment_intent_id is required", "payment_intent_id")
	}

	resp, err := s.client.do(ctx, "get_payment_intent", requestOpts{
		Method:  http.MethodGet,
		URL:     s.url("/v1/payment_intents/" + url.PathEscape(intentID)),
		Header:  s.headers(c.SecretKey),
		Timeout: lookupCallTimeout,
	})
	if err != nil {
		return intent, nil, err
	}
	if !resp.ok() {
		return intent, nil, stripeFailure("get_payment_intent", resp)
	}
	if err := resp.decode(&intent); err != nil {
		return intent, nil, internalError(stripeGateway, "get_payment_intent", err)
	}
	return intent, resp.Body, nil
}

// StripeRefundRequest asks for a full or partial refund of a payment intent.
type StripeRefundRequest struct {
	PaymentIntentID string            `json:"payment_intent_id" validate:"required"`
	Amount          *decimal.Decimal  `json:"amount,omitempty"`
	Reason          string            `json:"reason,omitempty" validate:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	PaymentConfig   map[string]any    `json:"payment_config,omitempty"`
}

// Refund refunds a succeeded payment intent.
func (s *StripeService) Refund(ctx context.Context, creds Credentials, req *StripeRefundRequest) (*models.RefundResult, error) {
	c, err := parseStripeCredentials(creds)
	if err != nil {
		return nil, err
	}
	if err := ValidateStruct(stripeGateway, req); err != nil {
		return nil, err
	}

	intent, _, err := s.fetchIntent(ctx, c, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != "succeeded" {
		return nil, validationError(stripeGateway,
			fmt.Sprintf("Cannot refund payment with status: %s", intent.Status), "payment_intent_id")
	}

	form := url.Values{}
	form.Set("payment_intent", intent.ID)
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			return nil, validationError(stripeGateway, "amount must be greater than 0", "amount")
		}
		form.Set("amount", strconv.FormatInt(ToMinorUnits(*req.Amount, intent.Currency), 10))
	}
	setIf(form, "reason", req.Reason)
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	resp, err := s.client.do(ctx, "create_refund", requestOpts{
		URL:    s.url("/v1/refunds"),
		Header: s.headers(c.SecretKey),
		Form:   form,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, stripeFailure("create_refund", resp)
	}

	var refund struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := resp.decode(&refund); err != nil {
		return nil, internalError(stripeGateway, "create_refund", err)
	}

	s.client.logger.Info("stripe refund created",
		zap.String("refund_id", refund.ID),
		zap.String("payment_intent_id", intent.ID),
		zap.String("status", refund.Status),
	)

	return &models.RefundResult{
		Success:   refund.Status == "succeeded" || refund.Status == "pending",
		Gateway:   stripeGateway,
		RefundID:  refund.ID,
		PaymentID: intent.ID,
		Status:    refund.Status,
		Amount:    FromMinorUnits(refund.Amount, refund.Currency),
		Currency:  strings.ToUpper(refund.Currency),
		Message:   "Refund " + refund.Status,
		Raw:       json.RawMessage(resp.Body),
		Timestamp: time.Now().UTC(),
	}, nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func setIf(form url.Values, key, value string) {
	if value != "" {
		form.Set(key, value)
	}
}
