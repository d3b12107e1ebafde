package posting

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/packline/internal/dto"
	"github.com/Additional-Code/packline/internal/presentation/http/response"
	service "github.com/Additional-Code/packline/internal/service/posting"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/packline/transport/http/posting")

// Handler exposes posting read endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a posting Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/postings")
	g.GET("", h.list)
	g.GET("/groups", h.groups)
	g.GET("/groups/:date", h.group)
	g.GET("/workers", h.workers)
	g.GET("/workers/:id", h.workerPostings)
	g.GET("/workers/:id/groups", h.workerGroups)
	g.GET("/:number", h.getByNumber)
}

func (h *Handler) getByNumber(c echo.Context) error {
	b := response.New(c)
	number := c.Param("number")

	ctx, span := httpTracer.Start(c.Request().Context(), "postings.getByNumber", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	posting, err := h.svc.Get(ctx, number)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewPostingResponse(posting)).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	status := c.QueryParam("status")
	if status == "" {
		return b.WithError(errorbank.BadRequest("status query parameter is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "postings.list", trace.WithAttributes(attribute.String("posting.status", status)))
	defer span.End()

	postings, err := h.svc.ListByStatus(ctx, status)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewPostingResponses(postings)).WithMeta("count", len(postings)).Build()
}

func (h *Handler) groups(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "postings.groups")
	defer span.End()

	groups, err := h.svc.Groups(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.GroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, dto.GroupResponse{
			ShipmentDate: g.ShipmentDate,
			Total:        g.Total,
			Assembled:    g.Assembled,
			Locked:       g.Locked,
		})
	}
	return b.WithData(out).Build()
}

func (h *Handler) group(c echo.Context) error {
	b := response.New(c)

	date, err := parseShipmentDate(c.Param("date"))
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "postings.group")
	defer span.End()

	postings, err := h.svc.ListByShipmentDate(ctx, date)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewPostingResponses(postings)).WithMeta("count", len(postings)).Build()
}

func (h *Handler) workers(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "postings.workers")
	defer span.End()

	workers, err := h.svc.Workers(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.UserResponse, 0, len(workers))
	for _, w := range workers {
		out = append(out, dto.UserResponse{ID: w.ID, Login: w.Login, Name: w.Name})
	}
	return b.WithData(out).Build()
}

func (h *Handler) workerPostings(c echo.Context) error {
	b := response.New(c)

	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid worker id", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "postings.workerPostings", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	postings, err := h.svc.WorkerPostings(ctx, userID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewPostingResponses(postings)).WithMeta("count", len(postings)).Build()
}

func (h *Handler) workerGroups(c echo.Context) error {
	b := response.New(c)

	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid worker id", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "postings.workerGroups", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	groups, err := h.svc.WorkerGroups(ctx, userID)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.GroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, dto.GroupResponse{
			ShipmentDate: g.ShipmentDate,
			Total:        g.Total,
			Assembled:    g.Assembled,
		})
	}
	return b.WithData(out).Build()
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
