package handlers

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/store"
	"github.com/example/paygate/internal/utils"
)

type stubGateway struct {
	name string
	key  string
	err  error
	seen services.Credentials
}

func (g *stubGateway) Name() string      { return g.name }
func (g *stubGateway) ConfigKey() string { return g.key }

func (g *stubGateway) TestConnection(_ context.Context, creds services.Credentials) (*models.ConnectionResult, error) {
	g.seen = creds
	if g.err != nil {
		return nil, g.err
	}
	return &models.ConnectionResult{Success: true, Gateway: g.name, Message: "Connection successful", Timestamp: time.Now()}, nil
}

func (g *stubGateway) ProcessPayment(context.Context, *models.CheckoutRequest, services.Credentials) (*models.PaymentResult, error) {
	return &models.PaymentResult{Success: true, Gateway: g.name}, nil
}

const squareSaveBody = `{
	"gateway_name": "square",
	"gateway_type": "card",
	"display_name": "Square",
	"is_active": true,
	"environment": "sandbox",
	"credentials": {"application_id": "app", "access_token": "tok", "location_id": "L1"}
}`

func newAdminApp(t *testing.T, gw *stubGateway) (*AdminHandler, store.GatewayStore) {
	t.Helper()
	gateways := store.NewFileStore(filepath.Join(t.TempDir(), "payment_gateways.json"))
	return NewAdminHandler(gateways, services.NewRegistry(gw), zap.NewNop()), gateways
}

func TestAdmin_SaveListGet(t *testing.T) {
	h, _ := newAdminApp(t, &stubGateway{name: "square", key: "square"})
	app := newTestApp()
	app.Get("/admin/payment-gateways", h.ListGateways)
	app.Post("/admin/payment-gateways", h.SaveGateway)
	app.Get("/admin/payment-gateways/:name", h.GetGateway)

	status, body := doJSON(t, app, http.MethodGet, "/admin/payment-gateways", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["gateways"], 2)

	status, body = doJSON(t, app, http.MethodPost, "/admin/payment-gateways", squareSaveBody)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Square credentials saved successfully", body["message"])
	saved := body["gateway"].(map[string]any)
	assert.EqualValues(t, 1, saved["version"])
	assert.Equal(t, models.ConnectionNotConnected, saved["connection_status"])

	status, body = doJSON(t, app, http.MethodGet, "/admin/payment-gateways", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["gateways"], 3)

	status, body = doJSON(t, app, http.MethodGet, "/admin/payment-gateways/square", "")
	require.Equal(t, http.StatusOK, status)
	creds := body["gateway"].(map[string]any)["credentials"].(map[string]any)
	assert.Equal(t, "L1", creds["location_id"])

	status, body = doJSON(t, app, http.MethodGet, "/admin/payment-gateways/adyen", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Payment gateway 'adyen' not found", body["message"])
}

func TestAdmin_SaveValidation(t *testing.T) {
	h, _ := newAdminApp(t, &stubGateway{name: "square", key: "square"})
	app := newTestApp()
	app.Post("/admin/payment-gateways", h.SaveGateway)

	status, body := doJSON(t, app, http.MethodPost, "/admin/payment-gateways", `{"gateway_name":"square","environment":"staging"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["error_kind"])
	assert.Contains(t, body["fields"], "display_name")

	status, _ = doJSON(t, app, http.MethodPost, "/admin/payment-gateways", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdmin_SaveStaleVersionConflicts(t *testing.T) {
	h, _ := newAdminApp(t, &stubGateway{name: "square", key: "square"})
	app := newTestApp()
	app.Post("/admin/payment-gateways", h.SaveGateway)

	status, _ := doJSON(t, app, http.MethodPost, "/admin/payment-gateways", squareSaveBody)
	require.Equal(t, http.StatusOK, status)

	stale := `{"gateway_name":"square","gateway_type":"card","display_name":"Square","version":7}`
	status, _ = doJSON(t, app, http.MethodPost, "/admin/payment-gateways", stale)
	assert.Equal(t, http.StatusConflict, status)
}

func TestAdmin_TestGatewayRecordsStatus(t *testing.T) {
	gw := &stubGateway{name: "square", key: "square"}
	h, gateways := newAdminApp(t, gw)
	app := newTestApp()
	app.Post("/admin/payment-gateways", h.SaveGateway)
	app.Post("/admin/payment-gateways/:name/test-connection", h.TestGateway)

	status, _ := doJSON(t, app, http.MethodPost, "/admin/payment-gateways", squareSaveBody)
	require.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, app, http.MethodPost, "/admin/payment-gateways/square/test-connection", "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Connection successful", body["message"])
	assert.Equal(t, "tok", gw.seen.Str("access_token"))

	rec, err := gateways.Get(context.Background(), "square")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionConnected, rec.ConnectionStatus)

	gw.err = &services.GatewayError{Kind: services.KindUpstreamAuth, Gateway: "square", Message: "Square connection test failed: unauthorized"}
	status, body = doJSON(t, app, http.MethodPost, "/admin/payment-gateways/square/test-connection", "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "upstream_auth", body["error_kind"])

	rec, err = gateways.Get(context.Background(), "square")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionFailed, rec.ConnectionStatus)
}

func TestAdmin_TestGatewayWithoutAdapter(t *testing.T) {
	h, _ := newAdminApp(t, &stubGateway{name: "square", key: "square"})
	app := newTestApp()
	app.Post("/admin/payment-gateways/:name/test-connection", h.TestGateway)

	// Defaults include paypal, which this registry has no adapter for.
	status, body := doJSON(t, app, http.MethodPost, "/admin/payment-gateways/paypal/test-connection", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No connection test available for 'paypal'", body["message"])
}

func TestAuth_Login(t *testing.T) {
	hash, err := utils.HashPassword("s3cret")
	require.NoError(t, err)
	cfg := &config.Config{
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		JWTSecret:         "test-secret",
		TokenExpires:      time.Hour,
	}
	app := newTestApp()
	app.Post("/admin/login", NewAuthHandler(cfg).Login)

	status, body := doJSON(t, app, http.MethodPost, "/admin/login", `{"username":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3600, body["expires_in"])

	subject, err := utils.ParseToken(cfg.JWTSecret, body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)

	status, body = doJSON(t, app, http.MethodPost, "/admin/login", `{"username":"admin","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid credentials", body["message"])

	status, _ = doJSON(t, app, http.MethodPost, "/admin/login", `{"username":"root","password":"s3cret"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuth_LoginDisabled(t *testing.T) {
	app := newTestApp()
	app.Post("/admin/login", NewAuthHandler(&config.Config{}).Login)

	status, body := doJSON(t, app, http.MethodPost, "/admin/login", `{"username":"admin","password":"x"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "admin authentication is disabled", body["message"])
}
