package assignment

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/entity"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/packline/service/assignment")

// PostingStore is the slice of the posting repository the partitioner
// needs.
type PostingStore interface {
	ListIDsByShipmentDate(ctx context.Context, date time.Time) ([]int64, error)
	ListByShipmentDate(ctx context.Context, date time.Time) ([]*entity.Posting, error)
	AssignWorker(ctx context.Context, ids []int64, userID *int64) error
	LockShipmentDate(ctx context.Context, date time.Time) error
	IsLocked(ctx context.Context, date time.Time) (bool, error)
}

// Assignment pairs one worker with the number of postings they take.
type Assignment struct {
	UserID int64 `json:"user_id"`
	Count  int   `json:"count"`
}

// ApplyResult reports how a partition landed.
type ApplyResult struct {
	Assigned int `json:"assigned"`
	Cleared  int `json:"cleared"`
}

// WorkerLoad is the read-back view of one worker's share of a batch.
type WorkerLoad struct {
	UserID int64  `json:"user_id"`
	Login  string `json:"login,omitempty"`
	Name   string `json:"name,omitempty"`
	Count  int    `json:"count"`
}

// GroupAssignments summarises the current distribution of one shipment
// date.
type GroupAssignments struct {
	Total      int          `json:"total"`
	Unassigned int          `json:"unassigned"`
	Locked     bool         `json:"locked"`
	Workers    []WorkerLoad `json:"workers"`
}

// EqualSplit distributes total postings across the given workers: each
// gets floor(total/n), and the first total%n workers in presented order
// get one extra. The returned counts always sum to total.
func EqualSplit(total int, userIDs []int64) []Assignment {
	if len(userIDs) == 0 {
		return nil
	}
	base := total / len(userIDs)
	remainder := total % len(userIDs)

	out := make([]Assignment, len(userIDs))
	for i, id := range userIDs {
		count := base
		if i < remainder {
			count++
		}
		out[i] = Assignment{UserID: id, Count: count}
	}
	return out
}

// Service partitions a shipment date's postings across workers.
type Service struct {
	postings PostingStore
	logger   *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Postings PostingStore
	Logger   *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{postings: p.Postings, logger: p.Logger}
}

// Apply persists a manual distribution: the first count postings of the
// shipment date (in stable creation order) go to the first worker, the
// next batch to the second, and so on. Any remainder is explicitly
// cleared so re-assignment never leaves stale worker references.
func (s *Service) Apply(ctx context.Context, shipmentDate time.Time, assignments []Assignment) (*ApplyResult, error) {
	ctx, span := serviceTracer.Start(ctx, "AssignmentService.Apply", trace.WithAttributes(attribute.Int("assignment.workers", len(assignments))))
	defer span.End()

	if len(assignments) == 0 {
		return nil, errorbank.BadRequest("at least one assignment is required")
	}

	seen := make(map[int64]struct{}, len(assignments))
	requested := 0
	for _, a := range assignments {
		if a.Count < 0 {
			return nil, errorbank.BadRequest("assignment count must not be negative",
				errorbank.WithDetail("user_id", a.UserID))
		}
		if _, dup := seen[a.UserID]; dup {
			return nil, errorbank.BadRequest("worker assigned twice",
				errorbank.WithDetail("user_id", a.UserID))
		}
		seen[a.UserID] = struct{}{}
		requested += a.Count
	}

	locked, err := s.postings.IsLocked(ctx, shipmentDate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock check failed")
		return nil, errorbank.Internal("failed to check shipment lock", errorbank.WithCause(err))
	}
	if locked {
		return nil, errorbank.Conflict("shipment date is locked",
			errorbank.WithDetail("shipment_date", shipmentDate))
	}

	ids, err := s.postings.ListIDsByShipmentDate(ctx, shipmentDate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing failed")
		return nil, errorbank.Internal("failed to list postings", errorbank.WithCause(err))
	}
	if len(ids) == 0 {
		return nil, errorbank.NotFound("no postings for shipment date",
			errorbank.WithDetail("shipment_date", shipmentDate))
	}
	if requested > len(ids) {
		return nil, errorbank.Unprocessable("assigned count exceeds batch total",
			errorbank.WithDetail("total", len(ids)),
			errorbank.WithDetail("excess", requested-len(ids)))
	}

	offset := 0
	for _, a := range assignments {
		slice := ids[offset : offset+a.Count]
		if len(slice) > 0 {
			userID := a.UserID
			if err := s.postings.AssignWorker(ctx, slice, &userID); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "assign failed")
				return nil, errorbank.Internal("failed to persist assignment", errorbank.WithCause(err))
			}
		}
		offset += a.Count
	}

	remainder := ids[offset:]
	if len(remainder) > 0 {
		if err := s.postings.AssignWorker(ctx, remainder, nil); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "clear failed")
			return nil, errorbank.Internal("failed to clear remainder", errorbank.WithCause(err))
		}
	}

	if s.logger != nil {
		s.logger.Info("assignment applied",
			zap.Time("shipment_date", shipmentDate),
			zap.Int("assigned", offset),
			zap.Int("cleared", len(remainder)),
		)
	}

	return &ApplyResult{Assigned: offset, Cleared: len(remainder)}, nil
}

// ApplyEqual splits the shipment date's postings evenly across the given
// workers and persists the result.
func (s *Service) ApplyEqual(ctx context.Context, shipmentDate time.Time, userIDs []int64) (*ApplyResult, error) {
	if len(userIDs) == 0 {
		return nil, errorbank.BadRequest("at least one worker is required")
	}

	ids, err := s.postings.ListIDsByShipmentDate(ctx, shipmentDate)
	if err != nil {
		return nil, errorbank.Internal("failed to list postings", errorbank.WithCause(err))
	}
	if len(ids) == 0 {
		return nil, errorbank.NotFound("no postings for shipment date",
			errorbank.WithDetail("shipment_date", shipmentDate))
	}

	return s.Apply(ctx, shipmentDate, EqualSplit(len(ids), userIDs))
}

// GroupAssignments reads back the current distribution for one shipment
// date.
func (s *Service) GroupAssignments(ctx context.Context, shipmentDate time.Time) (*GroupAssignments, error) {
	ctx, span := serviceTracer.Start(ctx, "AssignmentService.GroupAssignments")
	defer span.End()

	postings, err := s.postings.ListByShipmentDate(ctx, shipmentDate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing failed")
		return nil, errorbank.Internal("failed to list postings", errorbank.WithCause(err))
	}

	locked, err := s.postings.IsLocked(ctx, shipmentDate)
	if err != nil {
		return nil, errorbank.Internal("failed to check shipment lock", errorbank.WithCause(err))
	}

	out := &GroupAssignments{Total: len(postings), Locked: locked}
	byUser := make(map[int64]*WorkerLoad)
	var order []int64
	for _, p := range postings {
		if p.AssignedUserID == nil {
			out.Unassigned++
			continue
		}
		load, ok := byUser[*p.AssignedUserID]
		if !ok {
			load = &WorkerLoad{UserID: *p.AssignedUserID}
			if p.AssignedUser != nil {
				load.Login = p.AssignedUser.Login
				load.Name = p.AssignedUser.Name
			}
			byUser[*p.AssignedUserID] = load
			order = append(order, *p.AssignedUserID)
		}
		load.Count++
	}
	for _, id := range order {
		out.Workers = append(out.Workers, *byUser[id])
	}

	return out, nil
}

// Lock freezes assignment mutation for a shipment date. Called once the
// batch's labels have been committed for distribution; locking twice is
// a no-op.
func (s *Service) Lock(ctx context.Context, shipmentDate time.Time) error {
	ctx, span := serviceTracer.Start(ctx, "AssignmentService.Lock")
	defer span.End()

	if err := s.postings.LockShipmentDate(ctx, shipmentDate); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock failed")
		return errorbank.Internal("failed to lock shipment date", errorbank.WithCause(err))
	}
	if s.logger != nil {
		s.logger.Info("shipment date locked", zap.Time("shipment_date", shipmentDate))
	}
	return nil
}
