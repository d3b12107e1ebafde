package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/config"
	"github.com/Additional-Code/packline/internal/entity"
	"github.com/Additional-Code/packline/internal/marketplace"
	"github.com/Additional-Code/packline/internal/messaging"
	postingrepo "github.com/Additional-Code/packline/internal/repository/posting"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

var syncTracer = otel.Tracer("github.com/Additional-Code/packline/service/sync")

// EventSyncCompleted keys the event published after every successful
// sync run.
const EventSyncCompleted = "sync.completed"

// ErrAlreadyRunning is returned when a run is requested while one is in
// flight.
var ErrAlreadyRunning = errors.New("sync already running")

// syncedStatuses are the lifecycle statuses the reconciler pages through.
var syncedStatuses = []string{
	entity.StatusAwaitingPackaging,
	entity.StatusAwaitingDeliver,
}

// PostingStore is the slice of the posting repository the reconciler
// writes through.
type PostingStore interface {
	FindByNumber(ctx context.Context, number string) (*entity.Posting, error)
	Create(ctx context.Context, posting *entity.Posting) error
	ApplySync(ctx context.Context, number string, update postingrepo.SyncUpdate) error
}

// Lister pages postings out of the marketplace.
type Lister interface {
	ListPostings(ctx context.Context, status string, offset, limit int) (*marketplace.Page, error)
}

// Result summarises one reconciliation run.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// Status is the externally visible state of the reconciler.
type Status struct {
	State      string    `json:"state"`
	LastSyncAt time.Time `json:"last_sync_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

const (
	stateIdle    = "idle"
	stateRunning = "running"
	stateError   = "error"
)

// Reconciler pulls open postings from the marketplace and folds them into
// local storage. The marketplace owns status and label barcode; local
// assignment and assembly columns are never touched by a sync.
type Reconciler struct {
	store     PostingStore
	market    Lister
	publisher messaging.Client
	logger    *zap.Logger
	pageLimit int

	mu     sync.Mutex
	status Status

	now func() time.Time
}

// Params defines dependencies for constructing Reconciler.
type Params struct {
	fx.In

	Store     PostingStore
	Market    Lister
	Publisher messaging.Client `optional:"true"`
	Logger    *zap.Logger
	Config    config.Config
}

// NewReconciler wires a new Reconciler instance.
func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		store:     p.Store,
		market:    p.Market,
		publisher: p.Publisher,
		logger:    p.Logger,
		pageLimit: p.Config.Marketplace.PageLimit,
		status:    Status{State: stateIdle},
		now:       time.Now,
	}
}

// Status returns a snapshot of the reconciler state.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Reconciler) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.State == stateRunning {
		return ErrAlreadyRunning
	}
	r.status = Status{State: stateRunning, LastSyncAt: r.status.LastSyncAt}
	return nil
}

func (r *Reconciler) finish(runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if runErr != nil {
		r.status = Status{State: stateError, LastSyncAt: r.status.LastSyncAt, Error: runErr.Error()}
		return
	}
	r.status = Status{State: stateIdle, LastSyncAt: r.now().UTC()}
}

// Run executes one full reconciliation pass over every synced status.
// A concurrent call while a run is in flight fails with ErrAlreadyRunning.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	if err := r.begin(); err != nil {
		return nil, errorbank.Conflict("sync already running", errorbank.WithCause(ErrAlreadyRunning))
	}

	ctx, span := syncTracer.Start(ctx, "Reconciler.Run")
	defer span.End()

	result, err := r.reconcile(ctx)
	r.finish(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("sync.created", result.Created),
		attribute.Int("sync.updated", result.Updated),
		attribute.Int("sync.total", result.Total),
	)

	r.logger.Info("sync completed",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("total", result.Total),
	)

	r.publishCompleted(ctx, result)
	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context) (*Result, error) {
	result := &Result{}

	for _, status := range syncedStatuses {
		offset := 0
		for {
			page, err := r.market.ListPostings(ctx, status, offset, r.pageLimit)
			if err != nil {
				return nil, errorbank.Unavailable("marketplace listing failed",
					errorbank.WithCause(err),
					errorbank.WithDetail("status", status))
			}

			for i := range page.Postings {
				created, updated, err := r.merge(ctx, &page.Postings[i])
				if err != nil {
					// One bad posting must not sink its siblings.
					r.logger.Error("posting merge failed",
						zap.String("posting_number", page.Postings[i].PostingNumber),
						zap.Error(err),
					)
					continue
				}
				if created {
					result.Created++
				}
				if updated {
					result.Updated++
				}
				result.Total++
			}

			if !page.HasNext {
				break
			}
			offset += r.pageLimit
		}
	}

	return result, nil
}

// merge folds one fetched posting into storage. First sight stores the
// posting verbatim. On revisit only forward status transitions are
// applied, and the label barcode is written once and then kept.
func (r *Reconciler) merge(ctx context.Context, fetched *marketplace.Posting) (created, updated bool, err error) {
	existing, err := r.store.FindByNumber(ctx, fetched.PostingNumber)
	if err != nil {
		if !errors.Is(err, postingrepo.ErrNotFound) {
			return false, false, err
		}
		if err := r.store.Create(ctx, newPosting(fetched, r.now().UTC())); err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	update := postingrepo.SyncUpdate{SyncedAt: r.now().UTC()}
	changed := false

	if entity.StatusRank(fetched.Status) > entity.StatusRank(existing.Status) {
		status := fetched.Status
		update.Status = &status
		changed = true
	}
	if existing.LabelBarcode == "" && fetched.LabelBarcode != "" {
		barcode := fetched.LabelBarcode
		update.LabelBarcode = &barcode
		changed = true
	}

	if !changed {
		return false, false, nil
	}
	if err := r.store.ApplySync(ctx, fetched.PostingNumber, update); err != nil {
		return false, false, err
	}
	return false, true, nil
}

func newPosting(fetched *marketplace.Posting, now time.Time) *entity.Posting {
	posting := &entity.Posting{
		PostingNumber: fetched.PostingNumber,
		Status:        fetched.Status,
		ShipmentDate:  fetched.ShipmentDate,
		LabelBarcode:  fetched.LabelBarcode,
		Warehouse:     fetched.Warehouse,
		SyncedAt:      now,
	}
	for _, product := range fetched.Products {
		posting.Products = append(posting.Products, &entity.PostingProduct{
			OfferID:  product.OfferID,
			SKU:      product.SKU,
			Name:     product.Name,
			Quantity: product.Quantity,
			Price:    product.Price,
		})
	}
	return posting
}

func (r *Reconciler) publishCompleted(ctx context.Context, result *Result) {
	if r.publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"created": result.Created,
		"updated": result.Updated,
		"total":   result.Total,
		"at":      r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := r.publisher.Publish(ctx, []byte(EventSyncCompleted), payload); err != nil {
		r.logger.Warn("sync event publish failed", zap.Error(err))
	}
}
