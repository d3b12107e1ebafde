package shipment

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/packline/internal/dto"
	"github.com/Additional-Code/packline/internal/presentation/http/response"
	service "github.com/Additional-Code/packline/internal/service/shipment"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/packline/transport/http/shipment")

// Handler exposes shipment endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a shipment Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/shipments")
	g.POST("/ship", h.ship)
	g.GET("/awaiting-deliver", h.awaitingDeliver)
}

func (h *Handler) ship(c echo.Context) error {
	b := response.New(c)

	var payload struct {
		PostingNumbers []string `json:"posting_numbers"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "shipments.ship", trace.WithAttributes(attribute.Int("shipment.count", len(payload.PostingNumbers))))
	defer span.End()

	result, err := h.svc.ShipBatch(ctx, payload.PostingNumbers)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(result).Build()
}

func (h *Handler) awaitingDeliver(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "shipments.awaitingDeliver")
	defer span.End()

	postings, err := h.svc.ListAwaitingDeliver(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewPostingResponses(postings)).WithMeta("count", len(postings)).Build()
}
