package mercadopago

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetPayment_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/v1/payments/123" {
			t.Fatalf("path = %s, want /v1/payments/123", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
			t.Fatalf("authorization = %q, want bearer token", auth)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 123,
			"status": "approved",
			"external_reference": "42",
			"transaction_amount": 25.5
		}`))
	}))
	defer ts.Close()

	client := NewClientWithBaseURL(ts.URL, "token")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p, err := client.GetPayment(ctx, "123")
	if err != nil {
		t.Fatalf("GetPayment error: %v", err)
	}
	if p.ID != 123 || p.Status != "approved" {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if p.ExternalReference != "42" {
		t.Fatalf("external_reference = %q, want 42", p.ExternalReference)
	}
	if p.TransactionAmount != 25.5 {
		t.Fatalf("transaction_amount = %v, want 25.5", p.TransactionAmount)
	}
}

func TestGetPayment_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClientWithBaseURL(ts.URL, "token")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.GetPayment(ctx, "999"); err == nil {
		t.Fatalf("expected error for 404")
	}
}

func TestCreatePayment_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/payments" {
			t.Fatalf("path = %s, want /v1/payments", r.URL.Path)
		}

		var req CheckoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.PaymentMethodID != "pix" {
			t.Fatalf("payment_method_id = %q, want pix", req.PaymentMethodID)
		}
		if req.ExternalReference != "42" {
			t.Fatalf("external_reference = %q, want 42", req.ExternalReference)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"id": 555,
			"status": "pending",
			"point_of_interaction": {
				"transaction_data": {"qr_code": "qr-data", "qr_code_base64": "cXItZGF0YQ=="}
			}
		}`))
	}))
	defer ts.Close()

	client := NewClientWithBaseURL(ts.URL, "token")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p, err := client.CreatePayment(ctx, &CheckoutRequest{
		TransactionAmount: 50,
		PaymentMethodID:   "pix",
		Payer: Payer{
			Email:          "user@example.com",
			Identification: Identification{Type: "CPF", Number: "12345678909"},
		},
		ExternalReference: "42",
	})
	if err != nil {
		t.Fatalf("CreatePayment error: %v", err)
	}
	if p.ID != 555 || p.Status != "pending" {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if p.PointOfInteraction == nil || p.PointOfInteraction.TransactionData.QRCode != "qr-data" {
		t.Fatalf("missing qr code: %+v", p.PointOfInteraction)
	}
}
