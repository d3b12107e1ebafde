package assignment

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/packline/internal/presentation/http/response"
	service "github.com/Additional-Code/packline/internal/service/assignment"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/packline/transport/http/assignment")

// Handler exposes assignment endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an assignment Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/groups/:date")
	g.GET("/assignments", h.get)
	g.POST("/assignments", h.apply)
	g.POST("/lock", h.lock)
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)

	date, err := parseShipmentDate(c.Param("date"))
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "assignments.get")
	defer span.End()

	out, err := h.svc.GroupAssignments(ctx, date)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(out).Build()
}

func (h *Handler) apply(c echo.Context) error {
	b := response.New(c)

	date, err := parseShipmentDate(c.Param("date"))
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		Mode        string               `json:"mode"`
		WorkerIDs   []int64              `json:"worker_ids"`
		Assignments []service.Assignment `json:"assignments"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "assignments.apply", trace.WithAttributes(attribute.String("assignment.mode", payload.Mode)))
	defer span.End()

	var result *service.ApplyResult
	switch payload.Mode {
	case "equal":
		result, err = h.svc.ApplyEqual(ctx, date, payload.WorkerIDs)
	case "manual", "":
		result, err = h.svc.Apply(ctx, date, payload.Assignments)
	default:
		err = errorbank.BadRequest("unknown assignment mode",
			errorbank.WithDetail("mode", payload.Mode))
	}
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(result).Build()
}

func (h *Handler) lock(c echo.Context) error {
	b := response.New(c)

	date, err := parseShipmentDate(c.Param("date"))
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "assignments.lock")
	defer span.End()

	if err := h.svc.Lock(ctx, date); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(map[string]any{"locked": true}).Build()
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
