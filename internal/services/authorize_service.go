package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/utils"
)

const (
	authorizeGateway     = "authorize"
	authorizeSandboxURL  = "https://apitest.authorize.net/xml/v1/request.api"
	authorizeLiveURL     = "https://api2.authorize.net/xml/v1/request.api"
	authorizeAuthFailure = "E00007"
)

// AuthorizeNetService calls the Authorize.Net JSON API. The API validates
// requests against its XML schema, so element order in the payload structs
// must not change.
type AuthorizeNetService struct {
	client gatewayClient
}

// NewAuthorizeNetService creates an Authorize.Net adapter.
func NewAuthorizeNetService(logger *zap.Logger, opts ...Option) *AuthorizeNetService {
	return &AuthorizeNetService{client: newGatewayClient(authorizeGateway, logger, opts)}
}

func (s *AuthorizeNetService) Name() string      { return authorizeGateway }
func (s *AuthorizeNetService) ConfigKey() string { return authorizeGateway }

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type authorizeCredentials struct {
	auth        merchantAuthentication
	Environment string
}

func parseAuthorizeCredentials(creds Credentials) (authorizeCredentials, error) {
	c := creds.Nested(authorizeGateway)
	if missing := c.missing("api_login_id", "transaction_key"); len(missing) > 0 {
		return authorizeCredentials{}, missingFieldsError(authorizeGateway, "Authorize.Net credentials", missing)
	}
	return authorizeCredentials{
		auth: merchantAuthentication{
			Name:           c.Str("api_login_id"),
			TransactionKey: c.Str("transaction_key"),
		},
		Environment: environmentOf(c.Str("environment", "mode")),
	}, nil
}

func (s *AuthorizeNetService) url(c authorizeCredentials) string {
	if c.Environment == "live" {
		return s.client.resolveBase(authorizeLiveURL)
	}
	return s.client.resolveBase(authorizeSandboxURL)
}

type authorizeMessages struct {
	ResultCode string `json:"resultCode"`
	Message    []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"message"`
}

func (m authorizeMessages) first() (code, text string) {
	if len(m.Message) == 0 {
		return "", ""
	}
	return m.Message[0].Code, m.Message[0].Text
}

// failure turns an Error result into a GatewayError. Authorize.Net answers
// 200 even for rejected credentials.
func (s *AuthorizeNetService) failure(op string, resp *upstreamResponse, m authorizeMessages) *GatewayError {
	code, text := m.first()
	kind := KindUpstreamRejected
	if code == authorizeAuthFailure {
		kind = KindUpstreamAuth
	}
	return &GatewayError{
		Kind:           kind,
		Gateway:        authorizeGateway,
		Op:             op,
		Message:        firstNonEmpty(text, "Authorize.Net request failed"),
		Code:           code,
		UpstreamStatus: resp.Status,
		Body:           resp.Body,
	}
}

// TestConnection runs authenticateTestRequest with the merchant credentials.
func (s *AuthorizeNetService) TestConnection(ctx context.Context, creds Credentials) (*models.ConnectionResult, error) {
	c, err := parseAuthorizeCredentials(creds)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"authenticateTestRequest": map[string]any{
			"merchantAuthentication": c.auth,
		},
	}
	resp, err := s.client.do(ctx, "authenticate_test", requestOpts{
		URL:     s.url(c),
		JSON:    payload,
		Timeout: lookupCallTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, upstreamError(authorizeGateway, "authenticate_test", resp, "")
	}

	var body struct {
		Messages authorizeMessages `json:"messages"`
	}
	if err := resp.decode(&body); err != nil {
		return nil, internalError(authorizeGateway, "authenticate_test", fmt.Errorf("decode response: %w", err))
	}
	if body.Messages.ResultCode != "Ok" {
		return nil, s.failure("authenticate_test", resp, body.Messages)
	}

	return &models.ConnectionResult{
		Success: true,
		Gateway: authorizeGateway,
		Message: "Authorize.Net connection test successful",
		Details: map[string]any{
			"mode":         c.Environment,
			"api_login_id": utils.MaskSecret(c.auth.Name),
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

type authorizeCreditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardCode       string `json:"cardCode"`
}

type authorizeAddress struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
}

type authorizeCustomer struct {
	Email string `json:"email"`
}

type authorizeTransactionRequest struct {
	TransactionType string `json:"transactionType"`
	Amount          string `json:"amount"`
	Payment         struct {
		CreditCard authorizeCreditCard `json:"creditCard"`
	} `json:"payment"`
	Order struct {
		InvoiceNumber string `json:"invoiceNumber"`
		Description   string `json:"description"`
	} `json:"order"`
	Customer *authorizeCustomer `json:"customer,omitempty"`
	BillTo   authorizeAddress   `json:"billTo"`
	ShipTo   *authorizeAddress  `json:"shipTo,omitempty"`
}

type authorizeCreateTransaction struct {
	CreateTransactionRequest struct {
		MerchantAuthentication merchantAuthentication      `json:"merchantAuthentication"`
		RefID                  string                      `json:"refId,omitempty"`
		TransactionRequest     authorizeTransactionRequest `json:"transactionRequest"`
	} `json:"createTransactionRequest"`
}

// invoiceNumberMax is the schema limit for order.invoiceNumber and refId.
const invoiceNumberMax = 20

func splitName(name string) (first, last string) {
	first, last, _ = strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(last)
}

func transactionPayload(c authorizeCredentials, req *models.CheckoutRequest) authorizeCreateTransaction {
	pm := req.PaymentMethod
	billing := req.Billing()

	first, last := req.Customer.FirstName, req.Customer.LastName
	if first == "" && last == "" {
		first, last = splitName(pm.NameOnCard)
	}

	var tx authorizeTransactionRequest
	tx.TransactionType = "authCaptureTransaction"
	tx.Amount = FormatAmount(req.TotalAmount)
	tx.Payment.CreditCard = authorizeCreditCard{
		CardNumber:     pm.CardNumber,
		ExpirationDate: pm.ExpiryMonthPadded() + pm.ExpiryYearShort(),
		CardCode:       pm.CVC,
	}
	tx.Order.InvoiceNumber = truncate(req.OrderID, invoiceNumberMax)
	tx.Order.Description = "Order " + req.OrderID
	if req.Customer.Email != "" {
		tx.Customer = &authorizeCustomer{Email: req.Customer.Email}
	}
	tx.BillTo = authorizeAddress{
		FirstName: first,
		LastName:  last,
		Address:   billing.Line1,
		City:      billing.City,
		State:     billing.State,
		Zip:       billing.PostalCode,
		Country:   firstNonEmpty(billing.CountryCode, "US"),
	}
	shipping := req.ShippingAddress
	tx.ShipTo = &authorizeAddress{
		FirstName: req.Customer.FirstName,
		LastName:  req.Customer.LastName,
		Address:   shipping.Line1,
		City:      shipping.City,
		State:     shipping.State,
		Zip:       shipping.PostalCode,
		Country:   shipping.CountryCode,
	}

	var payload authorizeCreateTransaction
	payload.CreateTransactionRequest.MerchantAuthentication = c.auth
	payload.CreateTransactionRequest.RefID = truncate(req.OrderID, invoiceNumberMax)
	payload.CreateTransactionRequest.TransactionRequest = tx
	return payload
}

type authorizeTransactionResponse struct {
	TransactionResponse *struct {
		ResponseCode string `json:"responseCode"`
		AuthCode     string `json:"authCode"`
		TransID      string `json:"transId"`
		AccountType  string `json:"accountType"`
		Messages     []struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"messages"`
		Errors []struct {
			ErrorCode string `json:"errorCode"`
			ErrorText string `json:"errorText"`
		} `json:"errors"`
	} `json:"transactionResponse"`
	Messages authorizeMessages `json:"messages"`
}

// authorizeStatus names Authorize.Net response codes.
func authorizeStatus(code string) string {
	switch code {
	case "1":
		return "approved"
	case "4":
		return "held_for_review"
	case "3":
		return "error"
	default:
		return "declined"
	}
}

// ProcessPayment authorizes and captures a card in one transaction.
// responseCode "1" is the only approved outcome.
func (s *AuthorizeNetService) ProcessPayment(ctx context.Context, req *models.CheckoutRequest, creds Credentials) (*models.PaymentResult, error) {
	c, err := parseAuthorizeCredentials(creds)
	if err != nil {
		return nil, err
	}
	if err := ValidateCheckout(authorizeGateway, req); err != nil {
		return nil, err
	}
	if err := requireCard(authorizeGateway, req.PaymentMethod); err != nil {
		return nil, err
	}

	resp, err := s.client.do(ctx, "create_transaction", requestOpts{
		URL:  s.url(c),
		JSON: transactionPayload(c, req),
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, upstreamError(authorizeGateway, "create_transaction", resp, "")
	}

	var body authorizeTransactionResponse
	if err := resp.decode(&body); err != nil {
		return nil, internalError(authorizeGateway, "create_transaction", fmt.Errorf("decode response: %w", err))
	}
	tr := body.TransactionResponse
	if tr == nil {
		// No transaction was attempted: credentials or request rejected.
		return nil, s.failure("create_transaction", resp, body.Messages)
	}

	_, text := body.Messages.first()
	success := tr.ResponseCode == "1"
	message := text
	switch {
	case success && len(tr.Messages) > 0:
		message = tr.Messages[0].Description
	case !success && len(tr.Errors) > 0:
		message = tr.Errors[0].ErrorText
	}

	s.client.logger.Info("authorize.net transaction",
		zap.String("order_id", req.OrderID),
		zap.String("trans_id", tr.TransID),
		zap.String("response_code", tr.ResponseCode),
	)

	return &models.PaymentResult{
		Success:       success,
		Gateway:       authorizeGateway,
		OrderID:       req.OrderID,
		TransactionID: tr.TransID,
		AuthCode:      tr.AuthCode,
		Status:        authorizeStatus(tr.ResponseCode),
		Message:       message,
		Amount:        req.TotalAmount,
		Currency:      req.Currency,
		Raw:           json.RawMessage(trimBOM(resp.Body)),
		Timestamp:     time.Now().UTC(),
	}, nil
}
