package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

const DefaultTolerance = 5 * time.Minute

// 受け付けるイベントの種類（それ以外は EventIgnored）
type EventKind int

const (
	EventIgnored EventKind = iota
	EventPaymentSucceeded
	EventPaymentFailed
	EventChargeRefunded
)

func (k EventKind) String() string {
	switch k {
	case EventPaymentSucceeded:
		return "payment_intent.succeeded"
	case EventPaymentFailed:
		return "payment_intent.payment_failed"
	case EventChargeRefunded:
		return "charge.refunded"
	default:
		return "ignored"
	}
}

func parseEventKind(typ string) EventKind {
	switch typ {
	case "payment_intent.succeeded":
		return EventPaymentSucceeded
	case "payment_intent.payment_failed":
		return EventPaymentFailed
	case "charge.refunded":
		return EventChargeRefunded
	default:
		return EventIgnored
	}
}

type Event struct {
	ID   string
	Type string
	Kind EventKind
	// charge.refunded の場合は payment_intent だけ埋まる
	Intent Intent
}

type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
}

func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance}
}

// 署名ヘッダ: t=<unix>,v1=<hex>
func (v *WebhookVerifier) VerifyAndParse(payload []byte, header string, now time.Time) (Event, error) {
	if err := v.verify(payload, header, now); err != nil {
		return Event{}, err
	}
	return parseEvent(payload)
}

func (v *WebhookVerifier) verify(payload []byte, header string, now time.Time) error {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return ErrInvalidSignature
	}

	expected := Sign(v.secret, ts, payload)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// HMAC-SHA256("<t>.<payload>")
func Sign(secret []byte, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// テストや疑似ゲートウェイ用
func SignatureHeader(secret string, at time.Time, payload []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(Sign([]byte(secret), ts, payload)))
}

type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type chargeObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Amount        int64             `json:"amount_refunded"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

func parseEvent(payload []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return Event{}, fmt.Errorf("%w: id or type missing", ErrMalformedEvent)
	}

	ev := Event{ID: raw.ID, Type: raw.Type, Kind: parseEventKind(raw.Type)}
	switch ev.Kind {
	case EventPaymentSucceeded, EventPaymentFailed:
		if err := json.Unmarshal(raw.Data.Object, &ev.Intent); err != nil || ev.Intent.ID == "" {
			return Event{}, fmt.Errorf("%w: payment intent object", ErrMalformedEvent)
		}
	case EventChargeRefunded:
		var ch chargeObject
		if err := json.Unmarshal(raw.Data.Object, &ch); err != nil || ch.PaymentIntent == "" {
			return Event{}, fmt.Errorf("%w: charge object", ErrMalformedEvent)
		}
		ev.Intent = Intent{ID: ch.PaymentIntent, Amount: ch.Amount, Currency: ch.Currency, Metadata: ch.Metadata}
	case EventIgnored:
	}
	return ev, nil
}
