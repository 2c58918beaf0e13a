package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

const webhookSecret = "whsec_test_secret"

func signStripePayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

const succeededEvent = `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent","status":"succeeded","amount":3200,"currency":"usd","metadata":{"order_id":"ORD-1001"}}}}`

func TestVerifyStripeSignature(t *testing.T) {
	svc := NewWebhookService(nil, zap.NewNop())
	payload := []byte(succeededEvent)

	assert.NoError(t, svc.VerifyStripeSignature(payload, signStripePayload(payload, webhookSecret, time.Now()), webhookSecret))

	err := svc.VerifyStripeSignature(payload, signStripePayload(payload, "whsec_other", time.Now()), webhookSecret)
	gwErr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid signature", gwErr.Message)

	stale := signStripePayload(payload, webhookSecret, time.Now().Add(-time.Hour))
	assert.Error(t, svc.VerifyStripeSignature(payload, stale, webhookSecret))
}

func TestVerifyStripeSignature_HeaderAlwaysRequired(t *testing.T) {
	svc := NewWebhookService(nil, zap.NewNop())

	err := svc.VerifyStripeSignature([]byte(succeededEvent), "", "")
	gwErr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, "No signature found", gwErr.Message)

	assert.NoError(t, svc.VerifyStripeSignature([]byte(succeededEvent), "t=1,v1=deadbeef", ""))
}

func TestHandleStripeEvent(t *testing.T) {
	recorder := &recordingNotifier{}
	svc := NewWebhookService(NewNotifiers(zap.NewNop(), recorder), zap.NewNop())

	handled, err := svc.HandleStripeEvent(context.Background(), []byte(succeededEvent))
	require.NoError(t, err)
	assert.True(t, handled)

	events := recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "payment_intent.succeeded", events[0].Type)
	assert.Equal(t, "ORD-1001", events[0].OrderID)
	assert.Equal(t, "pi_123", events[0].ResourceID)
	assert.Equal(t, "32.00", events[0].Amount)
	assert.Equal(t, "USD", events[0].Currency)
}

func TestHandleStripeEvent_Unhandled(t *testing.T) {
	recorder := &recordingNotifier{}
	svc := NewWebhookService(NewNotifiers(zap.NewNop(), recorder), zap.NewNop())

	handled, err := svc.HandleStripeEvent(context.Background(), []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{"id":"cus_1"}}}`))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, recorder.Events())

	_, err = svc.HandleStripeEvent(context.Background(), []byte(`not json`))
	assert.True(t, IsKind(err, KindValidation))
}

func TestHandleStripeEvent_Refund(t *testing.T) {
	recorder := &recordingNotifier{}
	svc := NewWebhookService(NewNotifiers(zap.NewNop(), recorder), zap.NewNop())

	_, err := svc.HandleStripeEvent(context.Background(), []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1","payment_intent":"pi_1","amount":3200,"amount_refunded":1050,"currency":"usd"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "10.50", recorder.Events()[0].Amount)
}

func TestHandlePayPalEvent(t *testing.T) {
	recorder := &recordingNotifier{}
	svc := NewWebhookService(NewNotifiers(zap.NewNop(), recorder), zap.NewNop())

	ok := svc.HandlePayPalEvent(context.Background(), models.PayPalWebhookEvent{
		ID:        "WH-1",
		EventType: "PAYMENT.CAPTURE.COMPLETED",
		Resource:  []byte(`{"id":"CAP-1","status":"COMPLETED","custom_id":"ORD-1001","amount":{"currency_code":"USD","value":"32.00"}}`),
	})
	assert.True(t, ok)
	require.Len(t, recorder.Events(), 1)
	assert.Equal(t, "ORD-1001", recorder.Events()[0].OrderID)
	assert.Equal(t, "32.00", recorder.Events()[0].Amount)

	assert.True(t, svc.HandlePayPalEvent(context.Background(), models.PayPalWebhookEvent{EventType: "BILLING.PLAN.CREATED"}))
	assert.Len(t, recorder.Events(), 1)
}
