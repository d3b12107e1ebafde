package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/config"
)

var clientTracer = otel.Tracer("github.com/Additional-Code/packline/marketplace")

// Module provides the marketplace client to Fx.
var Module = fx.Provide(NewClient)

// Posting is one shipment unit as listed by the seller API.
type Posting struct {
	PostingNumber string
	Status        string
	ShipmentDate  time.Time
	Warehouse     string
	LabelBarcode  string
	Products      []Product
}

// Product is one line item of a marketplace posting.
type Product struct {
	OfferID  string
	SKU      string
	Name     string
	Quantity int
	Price    string
}

// Page is one page of a posting listing.
type Page struct {
	Postings []Posting
	HasNext  bool
}

// ShipItem names one product of a ship confirmation.
type ShipItem struct {
	SKU      int64 `json:"product_id"`
	Quantity int   `json:"quantity"`
}

// APIError is a non-2xx seller API response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace API %d: %s", e.Status, e.Body)
}

// Client talks to the seller REST API.
type Client struct {
	http     *http.Client
	baseURL  string
	clientID string
	apiKey   string
	lookback time.Duration
	logger   *zap.Logger
}

// NewClient builds a marketplace client from configuration.
func NewClient(cfg config.Config, logger *zap.Logger) *Client {
	return &Client{
		http:     &http.Client{Timeout: cfg.Marketplace.Timeout},
		baseURL:  cfg.Marketplace.BaseURL,
		clientID: cfg.Marketplace.ClientID,
		apiKey:   cfg.Marketplace.APIKey,
		lookback: cfg.Marketplace.Lookback,
		logger:   logger,
	}
}

type rawListResponse struct {
	Result struct {
		Postings []rawPosting `json:"postings"`
		HasNext  bool         `json:"has_next"`
	} `json:"result"`
}

type rawDetailResponse struct {
	Result rawPosting `json:"result"`
}

type rawPosting struct {
	PostingNumber  string `json:"posting_number"`
	Status         string `json:"status"`
	ShipmentDate   string `json:"shipment_date"`
	DeliveryMethod struct {
		Warehouse string `json:"warehouse"`
	} `json:"delivery_method"`
	Barcodes struct {
		LowerBarcode string `json:"lower_barcode"`
		UpperBarcode string `json:"upper_barcode"`
	} `json:"barcodes"`
	Products []struct {
		OfferID  string `json:"offer_id"`
		SKU      int64  `json:"sku"`
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
		Price    string `json:"price"`
	} `json:"products"`
}

func mapRawPosting(raw rawPosting) Posting {
	p := Posting{
		PostingNumber: raw.PostingNumber,
		Status:        raw.Status,
		Warehouse:     raw.DeliveryMethod.Warehouse,
	}

	// The label carries the lower barcode; fall back to the upper one.
	if raw.Barcodes.LowerBarcode != "" {
		p.LabelBarcode = raw.Barcodes.LowerBarcode
	} else {
		p.LabelBarcode = raw.Barcodes.UpperBarcode
	}

	if raw.ShipmentDate != "" {
		if ts, err := time.Parse(time.RFC3339, raw.ShipmentDate); err == nil {
			p.ShipmentDate = ts.UTC()
		}
	}

	for _, rp := range raw.Products {
		p.Products = append(p.Products, Product{
			OfferID:  rp.OfferID,
			SKU:      fmt.Sprintf("%d", rp.SKU),
			Name:     rp.Name,
			Quantity: rp.Quantity,
			Price:    rp.Price,
		})
	}
	return p
}

// ListPostings fetches one page of postings in the given lifecycle status,
// filtered to the configured lookback window.
func (c *Client) ListPostings(ctx context.Context, status string, offset, limit int) (*Page, error) {
	ctx, span := clientTracer.Start(ctx, "Marketplace.ListPostings", trace.WithAttributes(
		attribute.String("posting.status", status),
		attribute.Int("page.offset", offset),
	))
	defer span.End()

	to := time.Now().UTC()
	body := map[string]any{
		"dir": "ASC",
		"filter": map[string]any{
			"since":  to.Add(-c.lookback).Format(time.RFC3339),
			"to":     to.Format(time.RFC3339),
			"status": status,
		},
		"limit":  limit,
		"offset": offset,
		"with":   map[string]any{"barcodes": true},
	}

	var resp rawListResponse
	if err := c.post(ctx, "/v3/posting/fbs/list", body, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, err
	}

	page := &Page{HasNext: resp.Result.HasNext}
	for _, raw := range resp.Result.Postings {
		page.Postings = append(page.Postings, mapRawPosting(raw))
	}
	return page, nil
}

// GetPostingDetail fetches the authoritative current state of one posting.
func (c *Client) GetPostingDetail(ctx context.Context, number string) (*Posting, error) {
	ctx, span := clientTracer.Start(ctx, "Marketplace.GetPostingDetail", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	body := map[string]any{
		"posting_number": number,
		"with":           map[string]any{"barcodes": true},
	}

	var resp rawDetailResponse
	if err := c.post(ctx, "/v3/posting/fbs/get", body, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail failed")
		return nil, err
	}

	posting := mapRawPosting(resp.Result)
	return &posting, nil
}

// SubmitShipment confirms the ship-out of one posting. This is the only
// marketplace write that changes real-world shipment state; callers must
// recheck the authoritative status before submitting.
func (c *Client) SubmitShipment(ctx context.Context, number string, items []ShipItem) error {
	ctx, span := clientTracer.Start(ctx, "Marketplace.SubmitShipment", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	body := map[string]any{
		"posting_number": number,
		"packages": []map[string]any{
			{"products": items},
		},
	}

	if err := c.post(ctx, "/v4/posting/fbs/ship", body, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ship failed")
		return err
	}
	return nil
}

// FetchPackageLabel downloads the label PDF for the given posting numbers.
func (c *Client) FetchPackageLabel(ctx context.Context, numbers []string) ([]byte, error) {
	ctx, span := clientTracer.Start(ctx, "Marketplace.FetchPackageLabel", trace.WithAttributes(attribute.Int("posting.count", len(numbers))))
	defer span.End()

	payload, err := json.Marshal(map[string]any{"posting_number": numbers})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/posting/fbs/package-label", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "label fetch failed")
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: truncate(string(data), 400)}
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: truncate(string(data), 400)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
