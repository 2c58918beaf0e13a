package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/paygate/internal/services"
)

func TestPayment_ProcessExposesOnlyCardLastFour(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gw := &stubGateway{name: "square", key: "square"}
	h := NewPaymentHandler(services.NewRegistry(gw), nil, nil, nil, nil, zap.New(core))
	app := newTestApp()
	app.Post("/checkout/credit-card/:gateway/process-payment", h.ProcessPayment)

	payload := `{"order_id":"ORD-7","payment_method":{"type":"card","card_number":"4111 1111 1111 1234"},"payment_config":{"access_token":"tok"}}`
	status, body := doJSON(t, app, http.MethodPost, "/checkout/credit-card/square/process-payment", payload)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "1234", body["card_last4"])

	entries := logs.FilterMessage("processing payment").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "1234", entries[0].ContextMap()["card_last4"])
	assert.Equal(t, "ORD-7", entries[0].ContextMap()["order_id"])

	for _, entry := range logs.All() {
		assert.NotContains(t, fmt.Sprint(entry.ContextMap()), "4111111111111234")
	}
}
