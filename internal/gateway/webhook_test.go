package gateway

import "testing"

func TestVerifySignature(t *testing.T) {
	secret := []byte("secret")
	payload := []byte(`{"type":"payment.success","tx_id":"tx-1","amount":9.9}`)

	tests := []struct {
		name      string
		secret    []byte
		payload   []byte
		signature string
		valid     bool
	}{
		{
			name:      "valid signature",
			secret:    secret,
			payload:   payload,
			signature: Sign(secret, payload),
			valid:     true,
		},
		{
			name:      "tampered payload",
			secret:    secret,
			payload:   []byte(`{"type":"payment.success","tx_id":"tx-1","amount":99.9}`),
			signature: Sign(secret, payload),
			valid:     false,
		},
		{
			name:      "wrong secret",
			secret:    []byte("other"),
			payload:   payload,
			signature: Sign(secret, payload),
			valid:     false,
		},
		{
			name:      "empty secret rejects everything",
			secret:    nil,
			payload:   payload,
			signature: Sign(nil, payload),
			valid:     false,
		},
		{
			name:      "missing signature",
			secret:    secret,
			payload:   payload,
			signature: "",
			valid:     false,
		},
		{
			name:      "non-hex signature",
			secret:    secret,
			payload:   payload,
			signature: "not-hex",
			valid:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifySignature(tt.secret, tt.payload, tt.signature)
			if got != tt.valid {
				t.Fatalf("VerifySignature = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	e, err := ParseEvent([]byte(`{"type":"payment.refunded","tx_id":"tx-1","amount":9.9,"refund_amount":4.95}`))
	if err != nil {
		t.Fatalf("ParseEvent error: %v", err)
	}
	if e.Type != EventPaymentRefunded || e.TxID != "tx-1" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.RefundAmount != 4.95 {
		t.Fatalf("RefundAmount = %v, want 4.95", e.RefundAmount)
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
	if _, err := ParseEvent([]byte(`{"type":"payment.success"}`)); err == nil {
		t.Fatalf("expected error for event without tx_id")
	}
}
