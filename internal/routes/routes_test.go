package routes

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/handlers"
	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/store"
	"github.com/example/paygate/internal/utils"
)

const checkoutBody = `{
	"order_id": "ORD-1001",
	"customer": {"email": "jane@example.com", "first_name": "Jane", "last_name": "Doe"},
	"items": [{"product_id": "prod-1", "name": "Ceramic Mug", "quantity": 2, "unit_price": "12.50"}],
	"shipping_address": {"line1": "1 Main St", "city": "Austin", "state": "TX", "postal_code": "78701", "country_code": "US"},
	"subtotal": "25.00",
	"tax_amount": "2.00",
	"shipping_amount": "5.00",
	"total_amount": "32.00",
	"currency": "USD",
	"payment_method": {"type": "card", "card_number": "4242424242424242", "expiry_month": 12, "expiry_year": 2030, "cvc": "123", "name_on_card": "Jane Doe"}%s
}`

type eventRecorder struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (r *eventRecorder) NotifyPayment(_ context.Context, event models.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Events() []models.PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PaymentEvent(nil), r.events...)
}

type testEnv struct {
	app      *fiber.App
	store    store.GatewayStore
	events   *eventRecorder
	upstream *httptest.Server

	mu    sync.Mutex
	paths []string
}

func (e *testEnv) upstreamPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	env := &testEnv{events: &eventRecorder{}}

	env.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		env.paths = append(env.paths, r.URL.Path)
		env.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/payments":
			_, _ = io.WriteString(w, `{"payment":{"id":"sq_pay_1","status":"COMPLETED","amount_money":{"amount":3200,"currency":"USD"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{}`)
		}
	}))
	t.Cleanup(env.upstream.Close)

	if cfg == nil {
		cfg = &config.Config{AppName: "Paygate", FrontendURL: "https://shop.example.com"}
	}
	env.store = store.NewFileStore(filepath.Join(t.TempDir(), "payment_gateways.json"))
	env.app = fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(zap.NewNop())})

	Register(env.app, Deps{
		Config:         cfg,
		Store:          env.store,
		Logger:         zap.NewNop(),
		Notifiers:      services.NewNotifiers(zap.NewNop(), env.events),
		GatewayOptions: []services.Option{services.WithBaseURL(env.upstream.URL)},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestRootRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Welcome to Paygate server", body["message"])

	_, body = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "healthy", body["status"])

	_, body = env.do(t, http.MethodGet, "/hello", "")
	assert.Equal(t, "Hello, World!", body["message"])

	_, body = env.do(t, http.MethodGet, "/hello/Ann", "")
	assert.Equal(t, "Hello, Ann!", body["message"])

	status, body = env.do(t, http.MethodPost, "/hello", `{"name":"Bea"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hello, Bea!", body["message"])
	assert.Equal(t, "success", body["status"])

	_, body = env.do(t, http.MethodPost, "/hello", "")
	assert.Equal(t, "Hello, World!", body["message"])

	status, _ = env.do(t, http.MethodPost, "/hello", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSquareProcessPayment(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := fmt.Sprintf(checkoutBody, `, "payment_config": {"application_id": "app", "access_token": "tok", "location_id": "L1", "environment": "sandbox"}`)
	status, body := env.do(t, http.MethodPost, "/checkout/credit-card/square/process-payment", payload)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "square", body["gateway"])
	assert.Equal(t, "ORD-1001", body["order_id"])
	assert.Equal(t, "4242", body["card_last4"])
	assert.NotContains(t, fmt.Sprint(body), "4242424242424242")
	assert.Equal(t, []string{"/v2/payments"}, env.upstreamPaths())

	events := env.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "square", events[0].Gateway)
	assert.Equal(t, "ORD-1001", events[0].OrderID)
}

func TestSquareMissingLocationIsRejectedLocally(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := fmt.Sprintf(checkoutBody, `, "payment_config": {"application_id": "app", "access_token": "tok"}`)
	status, body := env.do(t, http.MethodPost, "/checkout/credit-card/square/process-payment", payload)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "validation", body["error_kind"])
	assert.Contains(t, body["fields"], "location_id")
	assert.Empty(t, env.upstreamPaths())
	assert.Empty(t, env.events.Events())
}

func TestProcessPaymentFallsBackToStoredCredentials(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.store.Save(context.Background(), &models.GatewayConfig{
		GatewayName: "square",
		GatewayType: "card",
		DisplayName: "Square",
		IsActive:    true,
		Credentials: datatypes.JSONMap{"application_id": "app", "access_token": "tok", "location_id": "L1"},
	})
	require.NoError(t, err)

	status, body := env.do(t, http.MethodPost, "/checkout/credit-card/square/process-payment", fmt.Sprintf(checkoutBody, ""))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, []string{"/v2/payments"}, env.upstreamPaths())
}

func TestUnsupportedGateway(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/checkout/credit-card/adyen/process-payment", fmt.Sprintf(checkoutBody, ""))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unsupported payment gateway: adyen", body["message"])
}

func signStripe(payload, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeWebhookSignature(t *testing.T) {
	const secret = "whsec_test"
	env := newTestEnv(t, &config.Config{AppName: "Paygate", StripeWebhookSecret: secret})
	event := `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent","status":"succeeded","amount":3200,"currency":"usd","metadata":{"order_id":"ORD-1001"}}}}`
	path := "/checkout/credit-card/stripe/webhook"

	status, body := env.do(t, http.MethodPost, path, event, "Stripe-Signature", signStripe(event, secret, time.Now()))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Webhook received", body["message"])
	require.Len(t, env.events.Events(), 1)
	assert.Equal(t, "pi_123", env.events.Events()[0].ResourceID)

	status, body = env.do(t, http.MethodPost, path, event, "Stripe-Signature", signStripe(event, "whsec_other", time.Now()))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid signature", body["message"])

	status, body = env.do(t, http.MethodPost, path, event)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No signature found", body["message"])
}

func TestPayPalWebhookRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/checkout/paypal/webhook", `{broken`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid JSON", body["message"])

	status, body = env.do(t, http.MethodPost, "/checkout/paypal/webhook", `{"id":"WH-1","event_type":"CHECKOUT.ORDER.APPROVED","resource":{}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Webhook received and processed", body["message"])
}

func TestKlarnaNotification(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/checkout/klarna/notification", `{"order_id":"kl-0042","event_type":"FRAUD_RISK_ACCEPTED"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Notification received", body["message"])

	events := env.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "klarna", events[0].Gateway)
	assert.Equal(t, "klarna.fraud_risk_accepted", events[0].Type)
	assert.Equal(t, "kl-0042", events[0].ResourceID)

	status, body = env.do(t, http.MethodPost, "/checkout/klarna/notification", `{broken`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid JSON", body["message"])
}

func TestPayPalCheckoutRequiresPayPalMethod(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/checkout/paypal/process-paypal", fmt.Sprintf(checkoutBody, ""))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid payment method. Expected 'paypal'", body["message"])
	assert.Empty(t, env.upstreamPaths())
}

func TestAdminRoutesRequireTokenWhenEnabled(t *testing.T) {
	hash, err := utils.HashPassword("s3cret")
	require.NoError(t, err)
	env := newTestEnv(t, &config.Config{
		AppName:           "Paygate",
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		JWTSecret:         "test-secret",
		TokenExpires:      time.Hour,
	})

	status, _ := env.do(t, http.MethodGet, "/admin/payment-gateways", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := env.do(t, http.MethodPost, "/admin/login", `{"username":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, status, body)
	token := body["token"].(string)

	status, body = env.do(t, http.MethodGet, "/admin/payment-gateways", "", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["gateways"], 2)

	status, _ = env.do(t, http.MethodGet, "/admin/health", "", "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminRoutesOpenWhenAuthDisabled(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodGet, "/admin/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "operational", body["status"])
}
