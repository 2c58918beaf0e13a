package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

const (
	paypalCommerceGateway = "paypal-commerce"

	payeeNotEnabledIssue   = "PAYEE_NOT_ENABLED_FOR_CARD_PROCESSING"
	payeeNotEnabledMessage = "Your PayPal account is not enabled for card transactions. " +
		"Please contact PayPal to activate Advanced Credit and Debit Card Payments and try again."
)

// PayPalCommerceService charges cards directly through PayPal Orders with a
// card payment source. It reads the credentials stored for "paypal".
type PayPalCommerceService struct {
	logger *zap.Logger
	opts   []Option
}

// NewPayPalCommerceService creates the PayPal card adapter.
func NewPayPalCommerceService(logger *zap.Logger, opts ...Option) *PayPalCommerceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayPalCommerceService{logger: logger, opts: opts}
}

func (s *PayPalCommerceService) Name() string      { return paypalCommerceGateway }
func (s *PayPalCommerceService) ConfigKey() string { return paypalGateway }

func (s *PayPalCommerceService) client(creds Credentials) (*PayPalClient, error) {
	c, err := ParsePayPalCredentials(paypalCommerceGateway, creds)
	if err != nil {
		return nil, err
	}
	return NewPayPalClient(paypalCommerceGateway, c, s.logger, s.opts...), nil
}

// TestConnection fetches an OAuth token with the given credentials.
func (s *PayPalCommerceService) TestConnection(ctx context.Context, creds Credentials) (*models.ConnectionResult, error) {
	client, err := s.client(creds)
	if err != nil {
		return nil, err
	}
	return client.TestConnection(ctx)
}

type paypalCardSource struct {
	Number         string        `json:"number"`
	Expiry         string        `json:"expiry"`
	SecurityCode   string        `json:"security_code"`
	Name           string        `json:"name"`
	BillingAddress paypalAddress `json:"billing_address"`
}

type paypalCardOrder struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	PaymentSource struct {
		Card paypalCardSource `json:"card"`
	} `json:"payment_source"`
}

func cardOrderPayload(req *models.CheckoutRequest) paypalCardOrder {
	pm := req.PaymentMethod
	order := paypalCardOrder{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.OrderID,
			CustomID:    req.OrderID,
			Description: "Order " + req.OrderID,
			Amount:      paypalAmount{CurrencyCode: req.Currency, Value: FormatAmount(req.TotalAmount)},
		}},
	}
	order.PaymentSource.Card = paypalCardSource{
		Number:         pm.CardNumber,
		Expiry:         pm.ExpiryYearFull() + "-" + pm.ExpiryMonthPadded(),
		SecurityCode:   pm.CVC,
		Name:           pm.NameOnCard,
		BillingAddress: paypalAddressOf(req.Billing()),
	}
	return order
}

// ProcessPayment creates an order with the card as payment source and
// captures it unless PayPal already completed it.
func (s *PayPalCommerceService) ProcessPayment(ctx context.Context, req *models.CheckoutRequest, creds Credentials) (*models.PaymentResult, error) {
	client, err := s.client(creds)
	if err != nil {
		return nil, err
	}
	if err := ValidateCheckout(paypalCommerceGateway, req); err != nil {
		return nil, err
	}
	if err := requireCard(paypalCommerceGateway, req.PaymentMethod); err != nil {
		return nil, err
	}
	if req.PaymentMethod.NameOnCard == "" {
		return nil, missingFieldsError(paypalCommerceGateway, "payment_method fields", []string{"name_on_card"})
	}

	log := s.logger.With(zap.String("gateway", paypalCommerceGateway), zap.String("order_id", req.OrderID))

	order, resp, err := client.CreateOrder(ctx, cardOrderPayload(req), uuid.NewString())
	if err != nil {
		if PayPalIssue(err) == payeeNotEnabledIssue {
			gwErr, _ := AsGatewayError(err)
			gwErr.Kind = KindValidation
			gwErr.Message = payeeNotEnabledMessage
			gwErr.Code = payeeNotEnabledIssue
		}
		return nil, err
	}
	log.Info("paypal card order created", zap.String("paypal_order_id", order.ID), zap.String("status", order.Status))

	raw := resp.Body
	status := order.Status
	captureID := ""
	if status != "COMPLETED" {
		captured, captureResp, err := client.CaptureOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		status = firstNonEmpty(captured.Status, status)
		raw = captureResp.Body
		if c := captured.firstCapture(); c != nil {
			captureID = c.ID
		}
		log.Info("paypal card order captured", zap.String("paypal_order_id", order.ID), zap.String("status", status))
	} else if c := order.firstCapture(); c != nil {
		captureID = c.ID
	}

	success := status == "COMPLETED" || status == "APPROVED"
	message := "PayPal Commerce card payment processed successfully"
	if !success {
		message = "PayPal payment status: " + status
	}

	return &models.PaymentResult{
		Success:       success,
		Gateway:       paypalCommerceGateway,
		OrderID:       req.OrderID,
		TransactionID: captureID,
		PayPalOrderID: order.ID,
		Status:        status,
		Message:       message,
		Amount:        req.TotalAmount,
		Currency:      req.Currency,
		Raw:           json.RawMessage(raw),
		Timestamp:     time.Now().UTC(),
	}, nil
}
