package midtrans

import (
	"context"
	"encoding/json"
	"testing"

	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverKey = "SB-Mid-server-test"

func notificationPayload(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	fields["signature_key"] = Signature(
		fields["order_id"].(string),
		fields["status_code"].(string),
		fields["gross_amount"].(string),
		serverKey,
	)
	payload, err := json.Marshal(fields)
	require.NoError(t, err)
	return payload
}

func newAdapter(t *testing.T) paymentdomain.PaymentAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Secret: serverKey})
	require.NoError(t, err)
	return adapter
}

func TestVerifySignature(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t)
	payload := notificationPayload(t, map[string]any{
		"order_id":           "ord_1",
		"status_code":        "200",
		"gross_amount":       "20000.00",
		"transaction_status": "settlement",
		"transaction_id":     "tx-1",
	})
	require.NoError(t, adapter.Verify(ctx, payload, nil))

	var tampered map[string]any
	require.NoError(t, json.Unmarshal(payload, &tampered))
	tampered["gross_amount"] = "1.00"
	raw, err := json.Marshal(tampered)
	require.NoError(t, err)
	assert.ErrorIs(t, adapter.Verify(ctx, raw, nil), paymentdomain.ErrInvalidSignature)
}

func TestParseStatusMapping(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t)

	cases := []struct {
		status string
		fraud  string
		want   string
	}{
		{status: "settlement", want: paymentdomain.EventTypePaymentSucceeded},
		{status: "capture", fraud: "accept", want: paymentdomain.EventTypePaymentSucceeded},
		{status: "capture", fraud: "deny", want: paymentdomain.EventTypePaymentFailed},
		{status: "expire", want: paymentdomain.EventTypePaymentFailed},
		{status: "cancel", want: paymentdomain.EventTypePaymentFailed},
	}
	for _, tc := range cases {
		payload := notificationPayload(t, map[string]any{
			"order_id":           "ord_1",
			"status_code":        "200",
			"gross_amount":       "20000.00",
			"transaction_status": tc.status,
			"fraud_status":       tc.fraud,
			"transaction_id":     "tx-1",
		})
		event, err := adapter.Parse(ctx, payload)
		require.NoError(t, err, tc.status)
		assert.Equal(t, tc.want, event.Type, tc.status)
		assert.Equal(t, "ord_1", event.ChargeRef)
		assert.Equal(t, int64(20000), event.Amount)
		assert.Equal(t, "tx-1:"+tc.status, event.ProviderEventID)
	}
}

func TestParseIgnoresPendingAndChallenge(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t)
	for _, fields := range []map[string]any{
		{"transaction_status": "pending"},
		{"transaction_status": "capture", "fraud_status": "challenge"},
	} {
		fields["order_id"] = "ord_1"
		fields["status_code"] = "201"
		fields["gross_amount"] = "20000.00"
		fields["transaction_id"] = "tx-1"
		_, err := adapter.Parse(ctx, notificationPayload(t, fields))
		assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
	}
}

func TestParsePartialRefundSumsRefunds(t *testing.T) {
	adapter := newAdapter(t)
	payload := notificationPayload(t, map[string]any{
		"order_id":           "ord_1",
		"status_code":        "200",
		"gross_amount":       "20000.00",
		"transaction_status": "partial_refund",
		"transaction_id":     "tx-1",
		"refunds": []map[string]any{
			{"refund_amount": "5000.00", "refund_key": "r1"},
			{"refund_amount": "2500.00", "refund_key": "r2"},
		},
	})
	event, err := adapter.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypeRefunded, event.Type)
	assert.Equal(t, int64(7500), event.AmountRefunded)
	assert.Equal(t, "tx-1:partial_refund:7500", event.ProviderEventID)
}

func TestParseFullRefundDefaultsToGross(t *testing.T) {
	adapter := newAdapter(t)
	payload := notificationPayload(t, map[string]any{
		"order_id":           "ord_1",
		"status_code":        "200",
		"gross_amount":       "20000.00",
		"transaction_status": "refund",
		"transaction_id":     "tx-1",
	})
	event, err := adapter.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), event.AmountRefunded)
}
