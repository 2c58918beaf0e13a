package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

// CheckoutSettings configures the PayPal redirect flow.
type CheckoutSettings struct {
	FrontendURL string
	BrandName   string
}

// CheckoutService runs the PayPal redirect checkout: create an order the
// buyer approves on PayPal, then capture it.
type CheckoutService struct {
	paypal   *PayPalClient
	settings CheckoutSettings
	notifier *Notifiers
	logger   *zap.Logger
	opts     []Option
}

// NewCheckoutService wraps the process-wide PayPal client. opts are applied
// to request-scoped clients built from payment_config credentials.
func NewCheckoutService(paypal *PayPalClient, settings CheckoutSettings, notifier *Notifiers, logger *zap.Logger, opts ...Option) *CheckoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings.FrontendURL = strings.TrimRight(settings.FrontendURL, "/")
	if settings.BrandName == "" {
		settings.BrandName = "Store"
	}
	return &CheckoutService{
		paypal:   paypal,
		settings: settings,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// Configured reports whether the process-wide PayPal client has credentials.
func (s *CheckoutService) Configured() bool {
	return s.paypal != nil && s.paypal.Configured()
}

// clientFor returns a request-scoped client when creds carry PayPal
// credentials, otherwise the shared one.
func (s *CheckoutService) clientFor(creds Credentials) (*PayPalClient, error) {
	if len(creds) > 0 && !creds.Empty() {
		c, err := ParsePayPalCredentials(paypalGateway, creds.Nested(paypalGateway))
		if err != nil {
			return nil, err
		}
		return NewPayPalClient(paypalGateway, c, s.logger, s.opts...), nil
	}
	if !s.Configured() {
		return nil, &GatewayError{
			Kind:    KindInternal,
			Gateway: paypalGateway,
			Message: "PayPal configuration is incomplete. Please check your environment variables.",
			Code:    "CONFIG_ERROR",
		}
	}
	return s.paypal, nil
}

type paypalApplicationContext struct {
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
	BrandName          string `json:"brand_name"`
	LandingPage        string `json:"landing_page"`
	UserAction         string `json:"user_action"`
	ShippingPreference string `json:"shipping_preference"`
}

type paypalRedirectOrder struct {
	Intent             string                   `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit     `json:"purchase_units"`
	ApplicationContext paypalApplicationContext `json:"application_context"`
}

func money(currency string, amount decimal.Decimal) paypalMoney {
	return paypalMoney{CurrencyCode: currency, Value: FormatAmount(amount)}
}

func optionalMoney(currency string, amount decimal.Decimal) *paypalMoney {
	if !amount.IsPositive() {
		return nil
	}
	m := money(currency, amount)
	return &m
}

func (s *CheckoutService) orderPayload(req *models.CheckoutRequest) paypalRedirectOrder {
	cur := req.Currency
	items := make([]paypalItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, paypalItem{
			Name:        item.Name,
			Description: firstNonEmpty(item.Description, item.Name),
			SKU:         item.SKU,
			Quantity:    strconv.Itoa(item.Quantity),
			UnitAmount:  money(cur, item.UnitPrice),
			Category:    "PHYSICAL_GOODS",
		})
	}

	shipping := &paypalShipping{Address: paypalAddressOf(req.ShippingAddress)}
	shipping.Name.FullName = req.Customer.FullName()

	return paypalRedirectOrder{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.OrderID,
			Description: "Order " + req.OrderID,
			CustomID:    req.OrderID,
			Amount: paypalAmount{
				CurrencyCode: cur,
				Value:        FormatAmount(req.TotalAmount),
				Breakdown: &paypalBreakdown{
					ItemTotal: money(cur, req.Subtotal),
					TaxTotal:  optionalMoney(cur, req.TaxAmount),
					Shipping:  optionalMoney(cur, req.ShippingAmount),
					Discount:  optionalMoney(cur, req.DiscountAmount),
				},
			},
			Items:    items,
			Shipping: shipping,
		}},
		ApplicationContext: paypalApplicationContext{
			ReturnURL:          s.settings.FrontendURL + "/checkout/success",
			CancelURL:          s.settings.FrontendURL + "/checkout/cancel",
			BrandName:          s.settings.BrandName,
			LandingPage:        "LOGIN",
			UserAction:         "PAY_NOW",
			ShippingPreference: "SET_PROVIDED_ADDRESS",
		},
	}
}

// ProcessCheckout validates the order again and creates a PayPal order.
// The reply's redirect_url is where the buyer approves the payment.
func (s *CheckoutService) ProcessCheckout(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutResponse, error) {
	if err := ValidateCheckout(paypalGateway, req); err != nil {
		return nil, err
	}
	client, err := s.clientFor(req.PaymentConfig)
	if err != nil {
		return nil, err
	}

	order, _, err := client.CreateOrder(ctx, s.orderPayload(req), uuid.NewString())
	if err != nil {
		if gwErr, ok := AsGatewayError(err); ok && gwErr.Code == "" {
			gwErr.Code = PayPalIssue(err)
		}
		return nil, err
	}

	s.logger.Info("paypal order created",
		zap.String("order_id", req.OrderID),
		zap.String("paypal_order_id", order.ID),
		zap.String("status", order.Status),
	)

	return &models.CheckoutResponse{
		Success:       true,
		OrderID:       req.OrderID,
		PayPalOrderID: order.ID,
		PaymentID:     order.ID,
		Status:        order.Status,
		RedirectURL:   order.link("approve", "payer-action"),
		Message:       "PayPal order created successfully",
		Timestamp:     time.Now().UTC(),
	}, nil
}

// CapturePayment captures an approved PayPal order.
func (s *CheckoutService) CapturePayment(ctx context.Context, paypalOrderID, orderID string, creds Credentials) (*models.CaptureResponse, error) {
	client, err := s.clientFor(creds)
	if err != nil {
		return nil, err
	}

	order, _, err := client.CaptureOrder(ctx, paypalOrderID)
	if err != nil {
		return nil, err
	}

	res := &models.CaptureResponse{
		Success:   order.Status == "COMPLETED",
		PaymentID: order.ID,
		Status:    order.Status,
		Message:   "Payment captured successfully",
		Timestamp: time.Now().UTC(),
	}
	if capture := order.firstCapture(); capture != nil {
		res.CaptureID = capture.ID
		res.Currency = capture.Amount.CurrencyCode
		if amount, err := decimal.NewFromString(capture.Amount.Value); err == nil {
			res.Amount = amount
		}
		if capture.Status != "" && capture.Status != "COMPLETED" {
			res.Success = capture.Status == "PENDING"
			res.Status = capture.Status
		}
	}
	if !res.Success {
		res.Message = "Payment capture status: " + res.Status
	}

	if orderID == "" && len(order.PurchaseUnits) > 0 {
		orderID = firstNonEmpty(order.PurchaseUnits[0].CustomID, order.PurchaseUnits[0].ReferenceID)
	}
	s.logger.Info("paypal order captured",
		zap.String("order_id", orderID),
		zap.String("paypal_order_id", order.ID),
		zap.String("capture_id", res.CaptureID),
		zap.String("status", res.Status),
	)
	s.notifier.Publish(ctx, models.PaymentEvent{
		Gateway:    paypalGateway,
		Type:       "payment.captured",
		OrderID:    orderID,
		ResourceID: firstNonEmpty(res.CaptureID, order.ID),
		Status:     res.Status,
		Amount:     FormatAmount(res.Amount),
		Currency:   res.Currency,
	})

	return res, nil
}

// GetOrderDetails returns the PayPal order as PayPal reports it.
func (s *CheckoutService) GetOrderDetails(ctx context.Context, paypalOrderID string, creds Credentials) (json.RawMessage, error) {
	client, err := s.clientFor(creds)
	if err != nil {
		return nil, err
	}
	_, resp, err := client.GetOrder(ctx, paypalOrderID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}

// TestConnection checks PayPal credentials, falling back to the shared
// client when creds is empty.
func (s *CheckoutService) TestConnection(ctx context.Context, creds Credentials) (*models.ConnectionResult, error) {
	client, err := s.clientFor(creds)
	if err != nil {
		return nil, err
	}
	return client.TestConnection(ctx)
}
