package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignatureHeader — заголовок с подписью тела вебхука.
const SignatureHeader = "X-Gateway-Signature"

// EventType описывает тип события вебхука.
type EventType string

const (
	EventPaymentSuccess  EventType = "payment.success"
	EventPaymentFailed   EventType = "payment.failed"
	EventPaymentRefunded EventType = "payment.refunded"
)

// Event описывает уведомление шлюза о платеже.
type Event struct {
	Type         EventType `json:"type"`
	TxID         string    `json:"tx_id"`
	Amount       float64   `json:"amount"`
	RefundAmount float64   `json:"refund_amount,omitempty"`
}

// Sign возвращает hex-подпись HMAC-SHA256 тела вебхука.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет подпись вебхука сравнением за постоянное время.
// Пустой секрет означает отказ: неподписанные уведомления не принимаются.
func VerifySignature(secret, payload []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}

	expected, err := hex.DecodeString(Sign(secret, payload))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	return hmac.Equal(got, expected)
}

// ParseEvent разбирает тело вебхука.
func ParseEvent(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if e.TxID == "" {
		return nil, fmt.Errorf("event without tx_id")
	}
	return &e, nil
}
