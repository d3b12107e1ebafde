package assembly

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/config"
	"github.com/Additional-Code/packline/internal/messaging"
	assemblysvc "github.com/Additional-Code/packline/internal/service/assembly"
	syncsvc "github.com/Additional-Code/packline/internal/service/sync"
	"github.com/Additional-Code/packline/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/packline/worker/assembly")

// Module registers fulfillment event worker handlers.
var Module = fx.Module("worker_assembly",
	fx.Provide(
		fx.Annotate(
			NewFulfillmentEventHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewFulfillmentEventHandler sets up a worker handler that records
// assembly and sync events for downstream visibility. Events share one
// topic and are dispatched on the message key.
func NewFulfillmentEventHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.fulfillment.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.String("messaging.key", string(msg.Key)),
		))
		defer span.End()

		switch string(msg.Key) {
		case assemblysvc.EventPostingAssembled:
			var event struct {
				PostingNumber string `json:"posting_number"`
				ShipmentDate  string `json:"shipment_date"`
				AssembledAt   string `json:"assembled_at"`
			}
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				logger.Error("failed to decode assembled event", zap.Error(err))

				span.RecordError(err)
				span.SetStatus(codes.Error, "decode error")
				return err
			}
			logger.Info("posting assembled event processed",
				zap.String("posting_number", event.PostingNumber),
				zap.String("shipment_date", event.ShipmentDate),
				zap.String("assembled_at", event.AssembledAt),
			)

		case syncsvc.EventSyncCompleted:
			var event struct {
				Created int    `json:"created"`
				Updated int    `json:"updated"`
				Total   int    `json:"total"`
				At      string `json:"at"`
			}
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				logger.Error("failed to decode sync event", zap.Error(err))

				span.RecordError(err)
				span.SetStatus(codes.Error, "decode error")
				return err
			}
			logger.Info("sync completed event processed",
				zap.Int("created", event.Created),
				zap.Int("updated", event.Updated),
				zap.Int("total", event.Total),
			)

		default:
			logger.Debug("unhandled event key", zap.String("key", string(msg.Key)))
		}

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
