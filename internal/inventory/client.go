package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/cache"
	"github.com/Additional-Code/packline/internal/config"
)

var clientTracer = otel.Tracer("github.com/Additional-Code/packline/inventory")

// Module provides the inventory client to Fx.
var Module = fx.Provide(NewClient)

// ErrProductNotFound is returned when no inventory record exists for an
// offer identifier.
var ErrProductNotFound = errors.New("inventory product not found")

// Client reads acceptable scan codes from the stock-keeping API. Code
// sets are cached because assembly rescans the same products repeatedly.
type Client struct {
	http     *http.Client
	baseURL  string
	token    string
	cache    cache.Store
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewClient builds an inventory client from configuration.
func NewClient(cfg config.Config, store cache.Store, logger *zap.Logger) *Client {
	return &Client{
		http:     &http.Client{Timeout: cfg.Inventory.Timeout},
		baseURL:  cfg.Inventory.BaseURL,
		token:    cfg.Inventory.Token,
		cache:    store,
		cacheTTL: cfg.Inventory.CacheTTL,
		logger:   logger,
	}
}

type rawProductResponse struct {
	Rows []rawProduct `json:"rows"`
}

type rawProduct struct {
	Article    string            `json:"article"`
	Code       string            `json:"code"`
	Barcodes   []json.RawMessage `json:"barcodes"`
	Attributes []struct {
		Value any `json:"value"`
	} `json:"attributes"`
}

// AcceptableCodes returns every value a scan may legitimately produce for
// one offer identifier: barcodes, auxiliary attribute values, the article
// itself, and the product code.
func (c *Client) AcceptableCodes(ctx context.Context, offerID string) ([]string, error) {
	ctx, span := clientTracer.Start(ctx, "Inventory.AcceptableCodes", trace.WithAttributes(attribute.String("product.offer_id", offerID)))
	defer span.End()

	key := "inventory:codes:" + offerID
	if cached, err := c.cache.Get(ctx, key); err == nil {
		var codeSet []string
		if err := json.Unmarshal(cached, &codeSet); err == nil {
			return codeSet, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		if c.logger != nil {
			c.logger.Warn("inventory cache read failed", zap.String("offer_id", offerID), zap.Error(err))
		}
	}

	product, err := c.fetchProduct(ctx, offerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, err
	}

	codeSet := collectCodes(product)

	if payload, err := json.Marshal(codeSet); err == nil {
		if err := c.cache.Set(ctx, key, payload, c.cacheTTL); err != nil && c.logger != nil {
			c.logger.Warn("inventory cache write failed", zap.String("offer_id", offerID), zap.Error(err))
		}
	}

	return codeSet, nil
}

func (c *Client) fetchProduct(ctx context.Context, offerID string) (*rawProduct, error) {
	endpoint := fmt.Sprintf("%s/entity/product?filter=article=%s", c.baseURL, url.QueryEscape(offerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json;charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 400))
		return nil, fmt.Errorf("inventory API %d: %s", resp.StatusCode, string(data))
	}

	var parsed rawProductResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Rows) == 0 {
		return nil, ErrProductNotFound
	}
	return &parsed.Rows[0], nil
}

// collectCodes flattens every identifying value of a product record.
// Barcode entries arrive either as plain strings or as objects keyed by
// symbology ({"ean13": "..."}), so both shapes are handled.
func collectCodes(product *rawProduct) []string {
	var out []string
	seen := make(map[string]struct{})

	add := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if _, dup := seen[value]; dup {
			return
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}

	for _, raw := range product.Barcodes {
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			add(asString)
			continue
		}
		var asObject map[string]any
		if err := json.Unmarshal(raw, &asObject); err == nil {
			for _, v := range asObject {
				add(stringify(v))
			}
		}
	}

	for _, attr := range product.Attributes {
		add(stringify(attr.Value))
	}

	add(product.Article)
	add(product.Code)

	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
