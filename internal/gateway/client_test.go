package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateCharge_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/charges" {
			t.Fatalf("path = %s, want /api/charges", r.URL.Path)
		}

		var req createChargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.OrderID != "order-1" || req.Amount != 9.9 || req.Method != "alipay" {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(Charge{
			TxID:   "tx-1",
			PayURL: "https://pay.example/tx-1",
		}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	charge, err := client.CreateCharge(ctx, "order-1", 9.9, "alipay", "points package starter")
	if err != nil {
		t.Fatalf("CreateCharge error: %v", err)
	}
	if charge.TxID != "tx-1" || charge.PayURL != "https://pay.example/tx-1" {
		t.Fatalf("unexpected charge: %+v", charge)
	}
}

func TestCreateCharge_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.CreateCharge(ctx, "order-1", 9.9, "alipay", "subject"); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestGetChargeStatus_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/charges/tx-1" {
			t.Fatalf("path = %s, want /api/charges/tx-1", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ChargeStatus{
			TxID:   "tx-1",
			Status: ChargePaid,
			Amount: 9.9,
		}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	status, err := client.GetChargeStatus(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetChargeStatus error: %v", err)
	}
	if status.Status != ChargePaid || status.Amount != 9.9 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.CreateCharge(ctx, "order-1", 9.9, "alipay", "subject"); err == nil {
		t.Fatalf("expected error for client without base URL")
	}
}
