package sync

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"

	"github.com/Additional-Code/packline/internal/presentation/http/response"
	service "github.com/Additional-Code/packline/internal/service/sync"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/packline/transport/http/sync")

// Handler exposes sync control endpoints over HTTP.
type Handler struct {
	reconciler *service.Reconciler
}

// NewHandler constructs a sync Handler.
func NewHandler(reconciler *service.Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/sync")
	g.POST("/run", h.run)
	g.GET("/status", h.status)
}

func (h *Handler) run(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "sync.run")
	defer span.End()

	result, err := h.reconciler.Run(ctx)
	if err != nil {
		// A run is already in flight; hand back its status instead of
		// making the caller treat the trigger as a failure.
		if errors.Is(err, service.ErrAlreadyRunning) {
			return b.WithData(h.reconciler.Status()).Build()
		}
		return b.WithError(err).Build()
	}
	return b.WithData(result).Build()
}

func (h *Handler) status(c echo.Context) error {
	return response.New(c).WithData(h.reconciler.Status()).Build()
}
