package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Config{}
	cfg.Marketplace.BaseURL = server.URL
	cfg.Marketplace.ClientID = "client-1"
	cfg.Marketplace.APIKey = "key-1"
	cfg.Marketplace.Timeout = 5 * time.Second
	cfg.Marketplace.Lookback = 7 * 24 * time.Hour

	return NewClient(cfg, zap.NewNop()), server
}

func TestListPostingsMapsAndFallsBackToUpperBarcode(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/posting/fbs/list" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Client-Id") != "client-1" || r.Header.Get("Api-Key") != "key-1" {
			t.Fatalf("auth headers missing")
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"has_next": true,
				"postings": []map[string]any{
					{
						"posting_number": "A-1",
						"status":         "awaiting_packaging",
						"shipment_date":  "2026-08-12T10:00:00Z",
						"barcodes":       map[string]string{"lower_barcode": "LOW", "upper_barcode": "UP"},
						"products": []map[string]any{
							{"offer_id": "sku-1", "sku": 123456, "name": "Mug", "quantity": 2, "price": "9.90"},
						},
					},
					{
						"posting_number": "A-2",
						"status":         "awaiting_packaging",
						"barcodes":       map[string]string{"upper_barcode": "UP-ONLY"},
					},
				},
			},
		})
	})

	page, err := client.ListPostings(context.Background(), "awaiting_packaging", 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !page.HasNext || len(page.Postings) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}

	first := page.Postings[0]
	if first.LabelBarcode != "LOW" {
		t.Fatalf("expected lower barcode preferred, got %q", first.LabelBarcode)
	}
	if first.ShipmentDate != time.Date(2026, 8, 12, 10, 0, 0, 0, time.UTC) {
		t.Fatalf("shipment date not parsed: %v", first.ShipmentDate)
	}
	if first.Products[0].SKU != "123456" {
		t.Fatalf("sku not stringified: %q", first.Products[0].SKU)
	}

	if page.Postings[1].LabelBarcode != "UP-ONLY" {
		t.Fatalf("expected upper barcode fallback, got %q", page.Postings[1].LabelBarcode)
	}

	filter := gotBody["filter"].(map[string]any)
	if filter["status"] != "awaiting_packaging" || filter["since"] == nil {
		t.Fatalf("lookback filter not sent: %v", filter)
	}
	with := gotBody["with"].(map[string]any)
	if with["barcodes"] != true {
		t.Fatalf("barcodes flag not requested")
	}
}

func TestSubmitShipmentWrapsItemsInPackage(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/posting/fbs/ship" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": []string{"A-1"}})
	})

	err := client.SubmitShipment(context.Background(), "A-1", []ShipItem{{SKU: 123456, Quantity: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	packages := gotBody["packages"].([]any)
	if len(packages) != 1 {
		t.Fatalf("expected a single package, got %v", packages)
	}
	products := packages[0].(map[string]any)["products"].([]any)
	item := products[0].(map[string]any)
	if item["product_id"] != float64(123456) || item["quantity"] != float64(2) {
		t.Fatalf("unexpected ship item: %v", item)
	}
}

func TestPostReturnsAPIErrorWithTruncatedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"posting not ready"}`))
	})

	_, err := client.GetPostingDetail(context.Background(), "A-1")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Body == "" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
