package models

import (
	"encoding/json"
	"time"
)

// StripeEvent is the envelope Stripe posts to webhook endpoints.
type StripeEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Livemode bool   `json:"livemode"`
	Created  int64  `json:"created"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// PayPalWebhookEvent is the envelope PayPal posts to webhook endpoints.
type PayPalWebhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Summary      string          `json:"summary,omitempty"`
	Resource     json.RawMessage `json:"resource"`
	CreateTime   string          `json:"create_time"`
}

// PaymentEvent is the notification emitted for settled payments and handled
// webhook events.
type PaymentEvent struct {
	ID         string    `json:"id"`
	Gateway    string    `json:"gateway"`
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// KlarnaNotification is what Klarna posts to merchant_urls.notification.
type KlarnaNotification struct {
	OrderID   string `json:"order_id"`
	EventType string `json:"event_type"`
}
