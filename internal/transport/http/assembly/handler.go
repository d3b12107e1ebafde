package assembly

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/packline/internal/presentation/http/response"
	service "github.com/Additional-Code/packline/internal/service/assembly"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/packline/transport/http/assembly")

// Handler exposes assembly session endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an assembly Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/assembly")
	g.POST("/sessions/:number", h.open)
	g.GET("/sessions/:number", h.get)
	g.DELETE("/sessions/:number", h.close)
	g.POST("/sessions/:number/scan", h.scanProduct)
	g.POST("/sessions/:number/label/open", h.openLabel)
	g.POST("/sessions/:number/label/scan", h.scanLabel)
	g.POST("/labels/upload", h.uploadLabels)
}

func (h *Handler) open(c echo.Context) error {
	b := response.New(c)
	number := c.Param("number")

	ctx, span := httpTracer.Start(c.Request().Context(), "assembly.open", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	snapshot, err := h.svc.Open(ctx, number)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(snapshot).Build()
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)

	snapshot, err := h.svc.Get(c.Param("number"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(snapshot).Build()
}

func (h *Handler) close(c echo.Context) error {
	h.svc.Close(c.Param("number"))
	return response.New(c).WithData(map[string]any{"closed": true}).Build()
}

func (h *Handler) scanProduct(c echo.Context) error {
	b := response.New(c)
	number := c.Param("number")

	var payload struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "assembly.scanProduct", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	result, err := h.svc.ScanProduct(ctx, number, payload.Code)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(result).Build()
}

func (h *Handler) openLabel(c echo.Context) error {
	b := response.New(c)
	number := c.Param("number")

	ctx, span := httpTracer.Start(c.Request().Context(), "assembly.openLabel", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	url, err := h.svc.OpenLabel(ctx, number)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(map[string]any{"url": url}).Build()
}

func (h *Handler) scanLabel(c echo.Context) error {
	b := response.New(c)
	number := c.Param("number")

	var payload struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "assembly.scanLabel", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	result, err := h.svc.ScanLabel(ctx, number, payload.Code)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(result).Build()
}

func (h *Handler) uploadLabels(c echo.Context) error {
	b := response.New(c)

	var payload struct {
		ShipmentDate   string   `json:"shipment_date"`
		ShipmentNumber string   `json:"shipment_number"`
		PostingNumbers []string `json:"posting_numbers"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	date, err := parseShipmentDate(payload.ShipmentDate)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "assembly.uploadLabels", trace.WithAttributes(attribute.Int("label.count", len(payload.PostingNumbers))))
	defer span.End()

	outcomes, err := h.svc.UploadLabels(ctx, date, payload.ShipmentNumber, payload.PostingNumbers)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(outcomes).Build()
}

func parseShipmentDate(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, errorbank.BadRequest("invalid shipment date",
		errorbank.WithDetail("date", raw))
}
