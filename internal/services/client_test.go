package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
)

func testConfig(baseURL string) *ClientConfig {
	return &ClientConfig{BaseURL: baseURL, Timeout: 5 * time.Second}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr bool
	}{
		{"valid", ClientConfig{BaseURL: "http://localhost:8080", Timeout: time.Second}, false},
		{"missing url", ClientConfig{Timeout: time.Second}, true},
		{"relative url", ClientConfig{BaseURL: "localhost:8080", Timeout: time.Second}, true},
		{"zero timeout", ClientConfig{BaseURL: "http://localhost:8080"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestAnnotatorClientAnalyze(t *testing.T) {
	payload := []byte("jpeg bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/annotate" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		var req annotateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil || string(decoded) != string(payload) {
			t.Errorf("Expected base64 payload, got %q", req.Payload)
		}
		if req.MediaType != "image/jpeg" {
			t.Errorf("Expected media type, got %q", req.MediaType)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"amount":"12.50","merchant":"CAFE","confidence":90}`))
	}))
	defer server.Close()

	client, err := NewAnnotatorClient(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Analyze(context.Background(), payload, "image/jpeg")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if result.Amount == nil || result.Amount.String() != "12.5" {
		t.Errorf("Expected amount 12.5, got %v", result.Amount)
	}
	if result.Merchant != "CAFE" {
		t.Errorf("Expected merchant CAFE, got %q", result.Merchant)
	}
}

func TestAnnotatorClientErrorAnnotation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"not a receipt"}`))
	}))
	defer server.Close()

	client, err := NewAnnotatorClient(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	// An annotation-level error is a successful call.
	result, err := client.Analyze(context.Background(), []byte("x"), "image/png")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.Error != "not a receipt" {
		t.Errorf("Expected annotation error field, got %q", result.Error)
	}
}

func TestAnnotatorClientBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewAnnotatorClient(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Analyze(context.Background(), []byte("x"), "image/png")
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeBadResponse {
		t.Errorf("Expected bad_response transport error, got %v", err)
	}
}

func TestAnnotatorClientMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"amount":`))
	}))
	defer server.Close()

	client, err := NewAnnotatorClient(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Analyze(context.Background(), []byte("x"), "image/png")
	if err == nil {
		t.Fatal("Expected error for malformed response body")
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeBadResponse {
		t.Errorf("Expected bad_response transport error, got %v", err)
	}
}

func TestAnnotatorClientConnectionFailure(t *testing.T) {
	// Closed server: connections are refused.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, err := NewAnnotatorClient(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Analyze(context.Background(), []byte("x"), "image/png")
	if err == nil {
		t.Fatal("Expected connection error")
	}
	if !errors.IsCategory(err, errors.CategoryTransport) {
		t.Errorf("Expected transport category, got %v", err)
	}
}

func TestAnnotatorClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewAnnotatorClient(&ClientConfig{BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Analyze(context.Background(), []byte("x"), "image/png")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeTimeout {
		t.Errorf("Expected timeout transport error, got %v", err)
	}
}

func TestMatcherClientMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/match" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		var req matchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Movements) != 2 || len(req.Receipts) != 1 {
			t.Errorf("Unexpected request sizes: %d movements, %d receipts", len(req.Movements), len(req.Receipts))
		}

		w.Write([]byte(`{
			"matches": [{"movementIndex": 0, "receiptIndex": 0, "score": 95, "reason": "amount match"}],
			"narrative": "one clear match"
		}`))
	}))
	defer server.Close()

	client, err := NewMatcherClient(testConfig(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	movements := []models.MovementSummary{
		{Index: 0, Amount: "12.5", Concept: "COFFEE"},
		{Index: 1, Amount: "30", Concept: "BOOKS"},
	}
	receipts := []models.ReceiptSummary{{Index: 0, Filename: "coffee.jpg", Amount: "12.5"}}

	result, err := client.Match(context.Background(), movements, receipts)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 1 || result.Matches[0].Score != 95 {
		t.Errorf("Unexpected matches: %+v", result.Matches)
	}
	if result.Narrative != "one clear match" {
		t.Errorf("Expected narrative, got %q", result.Narrative)
	}
}

func TestNewClientRequiresValidConfig(t *testing.T) {
	if _, err := NewAnnotatorClient(nil); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := NewMatcherClient(&ClientConfig{}); err == nil {
		t.Error("Expected error for empty config")
	}
}
