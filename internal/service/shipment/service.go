package shipment

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/entity"
	"github.com/Additional-Code/packline/internal/marketplace"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/packline/service/shipment")

// PostingStore is the slice of the posting repository the submitter
// needs.
type PostingStore interface {
	FindByNumber(ctx context.Context, number string) (*entity.Posting, error)
	UpdateStatus(ctx context.Context, number, status string) error
	ListByStatus(ctx context.Context, status string) ([]*entity.Posting, error)
}

// Marketplace is the outbound surface the submitter needs.
type Marketplace interface {
	GetPostingDetail(ctx context.Context, number string) (*marketplace.Posting, error)
	SubmitShipment(ctx context.Context, number string, items []marketplace.ShipItem) error
}

// Failure records why one posting of a batch could not be shipped.
type Failure struct {
	PostingNumber string `json:"posting_number"`
	Reason        string `json:"reason"`
}

// Result summarises one ship batch.
type Result struct {
	Shipped []string  `json:"shipped"`
	Failed  []Failure `json:"failed"`
}

// Service confirms ship-out of assembled postings with the marketplace.
type Service struct {
	postings PostingStore
	market   Marketplace
	logger   *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Postings PostingStore
	Market   Marketplace
	Logger   *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{postings: p.Postings, market: p.Market, logger: p.Logger}
}

// ShipBatch confirms ship-out for each given posting. One posting's
// failure never aborts its siblings; every outcome is reported.
func (s *Service) ShipBatch(ctx context.Context, numbers []string) (*Result, error) {
	ctx, span := serviceTracer.Start(ctx, "ShipmentService.ShipBatch", trace.WithAttributes(attribute.Int("shipment.count", len(numbers))))
	defer span.End()

	if len(numbers) == 0 {
		return nil, errorbank.BadRequest("at least one posting number is required")
	}

	result := &Result{}
	for _, number := range numbers {
		if err := s.shipOne(ctx, number); err != nil {
			result.Failed = append(result.Failed, Failure{PostingNumber: number, Reason: err.Error()})
			s.logger.Warn("ship failed", zap.String("posting_number", number), zap.Error(err))
			continue
		}
		result.Shipped = append(result.Shipped, number)
	}

	s.logger.Info("ship batch finished",
		zap.Int("shipped", len(result.Shipped)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// shipOne checks the authoritative marketplace status before the one
// write that changes real-world shipment state. A posting the
// marketplace already moved past packaging counts as shipped.
func (s *Service) shipOne(ctx context.Context, number string) error {
	local, err := s.postings.FindByNumber(ctx, number)
	if err != nil {
		return errorbank.NotFound("posting not found", errorbank.WithCause(err))
	}
	if entity.StatusRank(local.Status) == 0 {
		return errorbank.Conflict("posting has unexpected local status",
			errorbank.WithDetail("status", local.Status))
	}

	detail, err := s.market.GetPostingDetail(ctx, number)
	if err != nil {
		return errorbank.Unavailable("marketplace status check failed", errorbank.WithCause(err))
	}

	switch detail.Status {
	case entity.StatusAwaitingPackaging:
		// Proceed with the ship confirmation below.
	case entity.StatusAwaitingDeliver:
		// Already confirmed on a previous attempt; just converge local
		// state.
		return s.postings.UpdateStatus(ctx, number, entity.StatusAwaitingDeliver)
	default:
		return errorbank.Conflict("posting is not ready to ship",
			errorbank.WithDetail("status", detail.Status))
	}

	items, err := shipItems(local)
	if err != nil {
		return err
	}

	if err := s.market.SubmitShipment(ctx, number, items); err != nil {
		return errorbank.Unavailable("ship confirmation failed", errorbank.WithCause(err))
	}

	return s.postings.UpdateStatus(ctx, number, entity.StatusAwaitingDeliver)
}

// ListAwaitingDeliver returns the postings whose ship-out has been
// confirmed but not yet handed over.
func (s *Service) ListAwaitingDeliver(ctx context.Context) ([]*entity.Posting, error) {
	postings, err := s.postings.ListByStatus(ctx, entity.StatusAwaitingDeliver)
	if err != nil {
		return nil, errorbank.Internal("failed to list postings", errorbank.WithCause(err))
	}
	return postings, nil
}

func shipItems(posting *entity.Posting) ([]marketplace.ShipItem, error) {
	items := make([]marketplace.ShipItem, 0, len(posting.Products))
	for _, product := range posting.Products {
		sku, err := strconv.ParseInt(product.SKU, 10, 64)
		if err != nil {
			return nil, errorbank.Unprocessable("product has malformed sku",
				errorbank.WithDetail("offer_id", product.OfferID),
				errorbank.WithDetail("sku", product.SKU))
		}
		items = append(items, marketplace.ShipItem{SKU: sku, Quantity: product.Quantity})
	}
	if len(items) == 0 {
		return nil, errorbank.Unprocessable("posting has no products")
	}
	return items, nil
}
