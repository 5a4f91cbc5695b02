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
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
)

const (
	providerName = "stripe"
	// signatures older than this are rejected as replays.
	signatureTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret, now: time.Now}, nil
}

type Adapter struct {
	webhookSecret string
	now           func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if a.expired(timestamp) {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) expired(timestamp string) bool {
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return true
	}
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	age := now().Sub(time.Unix(seconds, 0))
	if age < 0 {
		age = -age
	}
	return age > signatureTolerance
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentFailed)
	case "charge.refunded":
		return a.parseRefund(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	Created          int64             `json:"created"`
	Metadata         map[string]any    `json:"metadata"`
	LastPaymentError *stripePaymentErr `json:"last_payment_error"`
}

type stripePaymentErr struct {
	Message string `json:"message"`
}

type stripeCharge struct {
	ID             string         `json:"id"`
	PaymentIntent  string         `json:"payment_intent"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	chargeRef := chargeRef(intent.Metadata, intent.ID)
	if chargeRef == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var reason string
	if intent.LastPaymentError != nil {
		reason = strings.TrimSpace(intent.LastPaymentError.Message)
	}
	if eventType == paymentdomain.EventTypePaymentFailed && reason == "" {
		reason = strings.TrimPrefix(event.Type, "payment_intent.")
	}

	return &paymentdomain.PaymentEvent{
		Provider:        providerName,
		ProviderEventID: event.ID,
		ChargeRef:       chargeRef,
		Type:            eventType,
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(intent.Currency)),
		Reason:          reason,
		OccurredAt:      timestamp(intent.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseRefund(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	fallback := charge.PaymentIntent
	if fallback == "" {
		fallback = charge.ID
	}
	chargeRef := chargeRef(charge.Metadata, fallback)
	if chargeRef == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:        providerName,
		ProviderEventID: event.ID,
		ChargeRef:       chargeRef,
		Type:            paymentdomain.EventTypeRefunded,
		Amount:          charge.Amount,
		AmountRefunded:  charge.AmountRefunded,
		Currency:        strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:      timestamp(charge.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

// chargeRef prefers the order reference placed in metadata at charge
// creation and falls back to the provider's object id.
func chargeRef(metadata map[string]any, fallback string) string {
	if ref := readMetadataValue(metadata, "order_reference"); ref != "" {
		return ref
	}
	return strings.TrimSpace(fallback)
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}
