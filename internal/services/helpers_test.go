package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/example/paygate/internal/models"
)

type recordedCall struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

func (c recordedCall) form(t *testing.T) url.Values {
	t.Helper()
	values, err := url.ParseQuery(string(c.Body))
	require.NoError(t, err)
	return values
}

func (c recordedCall) json(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(c.Body, &out))
	return out
}

// fakeGateway is an httptest server that records every request it gets.
type fakeGateway struct {
	server *httptest.Server

	mu    sync.Mutex
	calls []recordedCall
}

func newFakeGateway(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte)) *fakeGateway {
	t.Helper()
	f := &fakeGateway{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone(), Body: body})
		f.mu.Unlock()
		handler(w, r, body)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGateway) URL() string { return f.server.URL }

func (f *fakeGateway) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeGateway) CallsTo(path string) []recordedCall {
	var out []recordedCall
	for _, c := range f.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func validCheckout() *models.CheckoutRequest {
	return &models.CheckoutRequest{
		OrderID: "ORD-1001",
		Customer: models.Customer{
			Email:     "jane@example.com",
			FirstName: "Jane",
			LastName:  "Doe",
		},
		Items: []models.LineItem{{
			ProductID: "prod-1",
			Name:      "Ceramic Mug",
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("12.50"),
		}},
		ShippingAddress: models.Address{
			Line1:       "1 Main St",
			City:        "Austin",
			State:       "TX",
			PostalCode:  "78701",
			CountryCode: "us",
		},
		Subtotal:       decimal.RequireFromString("25.00"),
		TaxAmount:      decimal.RequireFromString("2.00"),
		ShippingAmount: decimal.RequireFromString("5.00"),
		TotalAmount:    decimal.RequireFromString("32.00"),
		Currency:       "usd",
		PaymentMethod: models.PaymentMethod{
			Type:        "card",
			CardNumber:  "4242424242424242",
			ExpiryMonth: "12",
			ExpiryYear:  "2030",
			CVC:         "123",
			NameOnCard:  "Jane Doe",
		},
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.PaymentEvent
	err    error
}

func (n *recordingNotifier) NotifyPayment(_ context.Context, event models.PaymentEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Events() []models.PaymentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.PaymentEvent(nil), n.events...)
}
