package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Address is a postal address in the shape the storefront sends.
type Address struct {
	Line1       string `json:"line1" validate:"required,max=255"`
	Line2       string `json:"line2,omitempty" validate:"max=255"`
	City        string `json:"city" validate:"required,max=100"`
	State       string `json:"state" validate:"max=100"`
	PostalCode  string `json:"postal_code" validate:"required,max=20"`
	CountryCode string `json:"country_code" validate:"required,len=2,alpha"`
}

// Customer identifies the buyer.
type Customer struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone,omitempty" validate:"max=32"`
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// LineItem is one product line of an order.
type LineItem struct {
	ProductID   string          `json:"product_id" validate:"required,max=255"`
	Name        string          `json:"name" validate:"required,max=127"`
	Description string          `json:"description,omitempty" validate:"max=127"`
	SKU         string          `json:"sku,omitempty"`
	Quantity    int             `json:"quantity" validate:"required,min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Currency    string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
}

// Total is quantity times unit price.
func (i LineItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// FlexString accepts a JSON string or number, e.g. expiry_month 7 or "07".
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the raw value.
func (f FlexString) String() string { return string(f) }

// PaymentMethod selects how the buyer pays. It decodes either from a bare
// selector string ("paypal") or from an object with card or token fields.
type PaymentMethod struct {
	Type        string     `json:"type,omitempty"`
	CardNumber  string     `json:"card_number,omitempty"`
	ExpiryMonth FlexString `json:"expiry_month,omitempty"`
	ExpiryYear  FlexString `json:"expiry_year,omitempty"`
	CVC         string     `json:"cvc,omitempty"`
	NameOnCard  string     `json:"name_on_card,omitempty"`
	Nonce       string     `json:"nonce,omitempty"`
	Token       string     `json:"token,omitempty"`
}

type paymentMethodAlias PaymentMethod

// UnmarshalJSON implements json.Unmarshaler.
func (p *PaymentMethod) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var selector string
		if err := json.Unmarshal(data, &selector); err != nil {
			return err
		}
		*p = PaymentMethod{Type: selector}
		return nil
	}
	var alias paymentMethodAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*p = PaymentMethod(alias)
	p.CardNumber = strings.ReplaceAll(strings.ReplaceAll(p.CardNumber, " ", ""), "-", "")
	return nil
}

// ExpiryMonthPadded returns the two digit expiry month.
func (p PaymentMethod) ExpiryMonthPadded() string {
	month := p.ExpiryMonth.String()
	if n, err := strconv.Atoi(month); err == nil {
		return leftPad(strconv.Itoa(n), 2)
	}
	return leftPad(month, 2)
}

// ExpiryYearFull returns the four digit expiry year.
func (p PaymentMethod) ExpiryYearFull() string {
	year := p.ExpiryYear.String()
	if len(year) == 2 {
		return "20" + year
	}
	return year
}

// ExpiryYearShort returns the last two digits of the expiry year.
func (p PaymentMethod) ExpiryYearShort() string {
	year := p.ExpiryYearFull()
	if len(year) >= 2 {
		return year[len(year)-2:]
	}
	return year
}

// LastFour returns the last four digits of the card number.
func (p PaymentMethod) LastFour() string {
	if len(p.CardNumber) <= 4 {
		return p.CardNumber
	}
	return p.CardNumber[len(p.CardNumber)-4:]
}

func leftPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

// CheckoutRequest is the gateway-neutral payment request accepted by every
// process-payment route.
type CheckoutRequest struct {
	OrderID         string            `json:"order_id" validate:"required,max=255"`
	Customer        Customer          `json:"customer"`
	Items           []LineItem        `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingAddress Address           `json:"shipping_address"`
	BillingAddress  *Address          `json:"billing_address,omitempty" validate:"omitempty"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
	TaxAmount       decimal.Decimal   `json:"tax_amount"`
	ShippingAmount  decimal.Decimal   `json:"shipping_amount"`
	DiscountAmount  decimal.Decimal   `json:"discount_amount"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	Currency        string            `json:"currency" validate:"omitempty,len=3,alpha"`
	PaymentMethod   PaymentMethod     `json:"payment_method"`
	PaymentConfig   map[string]any    `json:"payment_config,omitempty"`
	Notes           string            `json:"notes,omitempty" validate:"max=500"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ReturnURL       string            `json:"return_url,omitempty" validate:"omitempty,url"`
	// MerchantURLs overrides the Klarna merchant_urls (confirmation, notification, ...).
	MerchantURLs map[string]string `json:"merchant_urls,omitempty"`
}

// Billing returns the billing address, falling back to shipping.
func (r *CheckoutRequest) Billing() Address {
	if r.BillingAddress != nil {
		return *r.BillingAddress
	}
	return r.ShippingAddress
}

// ComputedTotal is subtotal + tax + shipping - discount.
func (r *CheckoutRequest) ComputedTotal() decimal.Decimal {
	return r.Subtotal.Add(r.TaxAmount).Add(r.ShippingAmount).Sub(r.DiscountAmount)
}
