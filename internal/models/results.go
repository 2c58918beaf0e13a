package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionResult reports the outcome of a credential test.
type ConnectionResult struct {
	Success   bool           `json:"success"`
	Gateway   string         `json:"gateway"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StripePaymentIntent is the subset of a Stripe PaymentIntent returned to callers.
type StripePaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// StripePaymentMethod is the subset of a Stripe PaymentMethod returned to callers.
type StripePaymentMethod struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// SquareMoney mirrors Square's amount_money object.
type SquareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// SquarePayment is the subset of a Square payment returned to callers.
type SquarePayment struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	AmountMoney SquareMoney `json:"amount_money"`
	CreatedAt   string      `json:"created_at,omitempty"`
	UpdatedAt   string      `json:"updated_at,omitempty"`
	ReceiptURL  string      `json:"receipt_url,omitempty"`
	OrderID     string      `json:"order_id,omitempty"`
}

// PaymentResult is the unified reply of every process-payment operation.
// Status keeps the gateway's own vocabulary.
type PaymentResult struct {
	Success        bool                 `json:"success"`
	Gateway        string               `json:"gateway"`
	OrderID        string               `json:"order_id"`
	TransactionID  string               `json:"transaction_id,omitempty"`
	AuthCode       string               `json:"auth_code,omitempty"`
	PayPalOrderID  string               `json:"paypal_order_id,omitempty"`
	PaymentIntent  *StripePaymentIntent `json:"payment_intent,omitempty"`
	PaymentMethod  *StripePaymentMethod `json:"payment_method,omitempty"`
	Payment        *SquarePayment       `json:"payment,omitempty"`
	CardLast4      string               `json:"card_last4,omitempty"`
	SessionID      string               `json:"session_id,omitempty"`
	ClientToken    string               `json:"client_token,omitempty"`
	Status         string               `json:"status"`
	Message        string               `json:"message"`
	Amount         decimal.Decimal      `json:"amount"`
	Currency       string               `json:"currency"`
	RequiresAction bool                 `json:"requires_action,omitempty"`
	NextAction     json.RawMessage      `json:"next_action,omitempty"`
	Raw            json.RawMessage      `json:"raw,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

// CheckoutResponse is returned after creating a PayPal order.
type CheckoutResponse struct {
	Success       bool      `json:"success"`
	OrderID       string    `json:"order_id"`
	PayPalOrderID string    `json:"paypal_order_id,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	Status        string    `json:"status"`
	RedirectURL   string    `json:"redirect_url,omitempty"`
	Message       string    `json:"message"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// CaptureResponse is returned after capturing a PayPal order.
type CaptureResponse struct {
	Success   bool            `json:"success"`
	PaymentID string          `json:"payment_id"`
	CaptureID string          `json:"capture_id,omitempty"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// RefundResult is returned by refund operations.
type RefundResult struct {
	Success   bool            `json:"success"`
	Gateway   string          `json:"gateway"`
	RefundID  string          `json:"refund_id"`
	PaymentID string          `json:"payment_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Message   string          `json:"message"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
