package posting

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/entity"
	postingrepo "github.com/Additional-Code/packline/internal/repository/posting"
	userrepo "github.com/Additional-Code/packline/internal/repository/user"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/packline/service/posting")

// GroupSummary is the aggregate view of one shipment date.
type GroupSummary struct {
	ShipmentDate time.Time `json:"shipment_date"`
	Total        int       `json:"total"`
	Assembled    int       `json:"assembled"`
	Locked       bool      `json:"locked"`
}

// Service answers read queries over the local posting store.
type Service struct {
	postings *postingrepo.Repository
	users    *userrepo.Repository
	logger   *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Postings *postingrepo.Repository
	Users    *userrepo.Repository
	Logger   *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{postings: p.Postings, users: p.Users, logger: p.Logger}
}

// Get loads one posting with its products and assignee.
func (s *Service) Get(ctx context.Context, number string) (*entity.Posting, error) {
	ctx, span := serviceTracer.Start(ctx, "PostingService.Get", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	posting, err := s.postings.FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, postingrepo.ErrNotFound) {
			return nil, errorbank.NotFound("posting not found",
				errorbank.WithDetail("posting_number", number))
		}
		span.RecordError(err)
		return nil, errorbank.Internal("failed to load posting", errorbank.WithCause(err))
	}
	return posting, nil
}

// ListByStatus returns every posting in one lifecycle status.
func (s *Service) ListByStatus(ctx context.Context, status string) ([]*entity.Posting, error) {
	if entity.StatusRank(status) == 0 {
		return nil, errorbank.BadRequest("unknown status", errorbank.WithDetail("status", status))
	}
	postings, err := s.postings.ListByStatus(ctx, status)
	if err != nil {
		return nil, errorbank.Internal("failed to list postings", errorbank.WithCause(err))
	}
	return postings, nil
}

// ListByShipmentDate returns one shipment date's batch in stable order.
func (s *Service) ListByShipmentDate(ctx context.Context, date time.Time) ([]*entity.Posting, error) {
	postings, err := s.postings.ListByShipmentDate(ctx, date)
	if err != nil {
		return nil, errorbank.Internal("failed to list postings", errorbank.WithCause(err))
	}
	return postings, nil
}

// Groups summarises every shipment date with open work.
func (s *Service) Groups(ctx context.Context) ([]GroupSummary, error) {
	ctx, span := serviceTracer.Start(ctx, "PostingService.Groups")
	defer span.End()

	counts, err := s.postings.GroupCounts(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to aggregate groups", errorbank.WithCause(err))
	}

	out := make([]GroupSummary, 0, len(counts))
	for _, count := range counts {
		locked, err := s.postings.IsLocked(ctx, count.ShipmentDate)
		if err != nil {
			return nil, errorbank.Internal("failed to check shipment lock", errorbank.WithCause(err))
		}
		out = append(out, GroupSummary{
			ShipmentDate: count.ShipmentDate,
			Total:        count.Total,
			Assembled:    count.Assembled,
			Locked:       locked,
		})
	}
	return out, nil
}

// WorkerGroups summarises one worker's share, grouped by shipment date.
func (s *Service) WorkerGroups(ctx context.Context, userID int64) ([]GroupSummary, error) {
	postings, err := s.postings.ListByAssignedWorker(ctx, userID)
	if err != nil {
		return nil, errorbank.Internal("failed to list postings", errorbank.WithCause(err))
	}

	byDate := make(map[time.Time]*GroupSummary)
	var order []time.Time
	for _, p := range postings {
		summary, ok := byDate[p.ShipmentDate]
		if !ok {
			summary = &GroupSummary{ShipmentDate: p.ShipmentDate}
			byDate[p.ShipmentDate] = summary
			order = append(order, p.ShipmentDate)
		}
		summary.Total++
		if p.AssembledAt != nil {
			summary.Assembled++
		}
	}

	out := make([]GroupSummary, 0, len(order))
	for _, date := range order {
		out = append(out, *byDate[date])
	}
	return out, nil
}

// WorkerPostings returns one worker's assigned postings.
func (s *Service) WorkerPostings(ctx context.Context, userID int64) ([]*entity.Posting, error) {
	postings, err := s.postings.ListByAssignedWorker(ctx, userID)
	if err != nil {
		return nil, errorbank.Internal("failed to list postings", errorbank.WithCause(err))
	}
	return postings, nil
}

// Workers lists the users postings can be assigned to.
func (s *Service) Workers(ctx context.Context) ([]*entity.User, error) {
	workers, err := s.users.ListWorkers(ctx)
	if err != nil {
		return nil, errorbank.Internal("failed to list workers", errorbank.WithCause(err))
	}
	return workers, nil
}
