// Package midtrans verifies and parses Midtrans HTTP notifications.
package midtrans

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
)

const providerName = "midtrans"

// Midtrans reports local time in transaction_time.
var jakarta = time.FixedZone("WIB", 7*60*60)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	key := strings.TrimSpace(cfg.Secret)
	if key == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{serverKey: key}, nil
}

type Adapter struct {
	serverKey string
}

type notification struct {
	TransactionTime   string        `json:"transaction_time"`
	TransactionStatus string        `json:"transaction_status"`
	TransactionID     string        `json:"transaction_id"`
	StatusCode        string        `json:"status_code"`
	StatusMessage     string        `json:"status_message"`
	SignatureKey      string        `json:"signature_key"`
	OrderID           string        `json:"order_id"`
	GrossAmount       string        `json:"gross_amount"`
	Currency          string        `json:"currency"`
	FraudStatus       string        `json:"fraud_status"`
	RefundAmount      string        `json:"refund_amount"`
	Refunds           []refundEntry `json:"refunds"`
}

type refundEntry struct {
	RefundAmount string `json:"refund_amount"`
	RefundKey    string `json:"refund_key"`
}

// Verify checks SHA512(order_id + status_code + gross_amount + server_key)
// against the signature_key carried in the body.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	want := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	if want == "" {
		return paymentdomain.ErrInvalidSignature
	}
	got := Signature(n.OrderID, n.StatusCode, n.GrossAmount, a.serverKey)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	orderID := strings.TrimSpace(n.OrderID)
	if orderID == "" || strings.TrimSpace(n.TransactionID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	status := strings.ToLower(strings.TrimSpace(n.TransactionStatus))
	eventType, ok := mapStatus(status, strings.ToLower(strings.TrimSpace(n.FraudStatus)))
	if !ok {
		return nil, paymentdomain.ErrEventIgnored
	}

	gross, err := parseAmount(n.GrossAmount)
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	event := &paymentdomain.PaymentEvent{
		Provider:        providerName,
		ProviderEventID: n.TransactionID + ":" + status,
		ChargeRef:       orderID,
		Type:            eventType,
		Amount:          gross,
		Currency:        strings.ToUpper(strings.TrimSpace(n.Currency)),
		OccurredAt:      parseTime(n.TransactionTime),
		RawPayload:      payload,
	}
	if event.Currency == "" {
		event.Currency = "IDR"
	}

	switch eventType {
	case paymentdomain.EventTypePaymentFailed:
		event.Reason = status
		if msg := strings.TrimSpace(n.StatusMessage); msg != "" {
			event.Reason = status + ": " + msg
		}
	case paymentdomain.EventTypeRefunded:
		refunded, err := cumulativeRefund(n, gross, status)
		if err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.AmountRefunded = refunded
		// each cumulative amount is its own delivery
		event.ProviderEventID += ":" + strconv.FormatInt(refunded, 10)
	}
	return event, nil
}

func mapStatus(status, fraud string) (string, bool) {
	switch status {
	case "capture":
		switch fraud {
		case "", "accept":
			return paymentdomain.EventTypePaymentSucceeded, true
		case "deny":
			return paymentdomain.EventTypePaymentFailed, true
		}
		return "", false
	case "settlement":
		return paymentdomain.EventTypePaymentSucceeded, true
	case "deny", "cancel", "expire", "failure":
		return paymentdomain.EventTypePaymentFailed, true
	case "refund", "partial_refund":
		return paymentdomain.EventTypeRefunded, true
	}
	return "", false
}

func cumulativeRefund(n notification, gross int64, status string) (int64, error) {
	if len(n.Refunds) > 0 {
		var total int64
		for _, r := range n.Refunds {
			amount, err := parseAmount(r.RefundAmount)
			if err != nil {
				return 0, err
			}
			total += amount
		}
		return total, nil
	}
	if strings.TrimSpace(n.RefundAmount) != "" {
		return parseAmount(n.RefundAmount)
	}
	if status == "refund" {
		return gross, nil
	}
	return 0, paymentdomain.ErrInvalidPayload
}

// Signature computes the notification signature key.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func parseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(value)), nil
}

func parseTime(raw string) time.Time {
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", strings.TrimSpace(raw), jakarta)
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}
