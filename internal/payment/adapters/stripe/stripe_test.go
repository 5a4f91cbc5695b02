package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"charge.refunded","data":{"object":{}}}`)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	timestamp := now.Unix()

	header := buildStripeSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := &Adapter{webhookSecret: secret, now: func() time.Time { return now }}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); err == nil {
		t.Fatalf("expected invalid signature error")
	}

	stale := now.Add(-10 * time.Minute).Unix()
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, stale))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected stale signature to be rejected, got %v", err)
	}
}

func TestFactoryRequiresSecret(t *testing.T) {
	if _, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{}); !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestParsePaymentEvent(t *testing.T) {
	created := time.Now().UTC().Unix()

	tests := []struct {
		name          string
		event         any
		wantType      string
		wantRef       string
		amount        int64
		refunded      int64
		wantReasonSet bool
	}{{
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id":      "evt_pi",
			"type":    "payment_intent.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":              "pi_1",
					"amount":          2500,
					"amount_received": 2500,
					"currency":        "usd",
					"created":         created,
					"metadata": map[string]any{
						"order_reference": "ord_01HX",
					},
				},
			},
		},
		wantType: paymentdomain.EventTypePaymentSucceeded,
		wantRef:  "ord_01HX",
		amount:   2500,
	}, {
		name: "payment_intent.payment_failed",
		event: map[string]any{
			"id":      "evt_pf",
			"type":    "payment_intent.payment_failed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":                 "pi_2",
					"amount":             4000,
					"currency":           "usd",
					"last_payment_error": map[string]any{"message": "card declined"},
				},
			},
		},
		wantType:      paymentdomain.EventTypePaymentFailed,
		wantRef:       "pi_2",
		amount:        4000,
		wantReasonSet: true,
	}, {
		name: "charge.refunded",
		event: map[string]any{
			"id":      "evt_charge",
			"type":    "charge.refunded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":              "ch_1",
					"payment_intent":  "pi_3",
					"amount":          5000,
					"amount_refunded": 1200,
					"currency":        "usd",
					"created":         created,
				},
			},
		},
		wantType: paymentdomain.EventTypeRefunded,
		wantRef:  "pi_3",
		amount:   5000,
		refunded: 1200,
	}}

	adapter := &Adapter{webhookSecret: "whsec_test"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.ChargeRef != tt.wantRef {
				t.Fatalf("expected charge ref %s, got %s", tt.wantRef, event.ChargeRef)
			}
			if event.Amount != tt.amount {
				t.Fatalf("expected amount %d, got %d", tt.amount, event.Amount)
			}
			if event.AmountRefunded != tt.refunded {
				t.Fatalf("expected refunded %d, got %d", tt.refunded, event.AmountRefunded)
			}
			if event.Currency != "USD" {
				t.Fatalf("expected currency USD, got %s", event.Currency)
			}
			if tt.wantReasonSet && event.Reason == "" {
				t.Fatalf("expected failure reason")
			}
		})
	}
}

func TestParseIgnoresUnhandledTypes(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	_, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{}}}`))
	if !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored event, got %v", err)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
