package posting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/packline/internal/database"
	"github.com/Additional-Code/packline/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/packline/repository/posting")

// ErrNotFound is returned when a posting is missing.
var ErrNotFound = errors.New("posting not found")

// Repository encapsulates read/write access for postings.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// FindByNumber fetches a posting with its line items by posting number.
func (r *Repository) FindByNumber(ctx context.Context, number string) (*entity.Posting, error) {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.FindByNumber", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	posting := new(entity.Posting)
	err := r.reader.NewSelect().Model(posting).
		Relation("Products").
		Relation("AssignedUser").
		Where("posting_number = ?", number).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return posting, nil
}

// Create persists a new posting together with its line items in one
// transaction. The posting number must not exist yet.
func (r *Repository) Create(ctx context.Context, posting *entity.Posting) error {
	if posting == nil {
		return errors.New("nil posting")
	}
	ctx, span := repoTracer.Start(ctx, "PostingRepository.Create", trace.WithAttributes(attribute.String("posting.number", posting.PostingNumber)))
	defer span.End()

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(posting).Exec(ctx); err != nil {
			return err
		}
		for _, product := range posting.Products {
			product.PostingID = posting.ID
		}
		if len(posting.Products) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&posting.Products).Exec(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// SyncUpdate holds the fields the reconciler may change on an existing
// posting. Nil pointers leave the column untouched.
type SyncUpdate struct {
	Status       *string
	LabelBarcode *string
	SyncedAt     time.Time
}

// ApplySync updates reconciler-owned columns of one posting. Assignment
// and assembly columns are never touched here.
func (r *Repository) ApplySync(ctx context.Context, number string, update SyncUpdate) error {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.ApplySync", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	q := r.writer.NewUpdate().Model((*entity.Posting)(nil)).
		Set("synced_at = ?", update.SyncedAt).
		Set("updated_at = ?", update.SyncedAt).
		Where("posting_number = ?", number)
	if update.Status != nil {
		q = q.Set("status = ?", *update.Status)
	}
	if update.LabelBarcode != nil {
		q = q.Set("label_barcode = ?", *update.LabelBarcode)
	}

	if _, err := q.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	return nil
}

// UpdateStatus sets the lifecycle status of one posting.
func (r *Repository) UpdateStatus(ctx context.Context, number, status string) error {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.UpdateStatus", trace.WithAttributes(
		attribute.String("posting.number", number),
		attribute.String("posting.status", status),
	))
	defer span.End()

	now := time.Now().UTC()
	_, err := r.writer.NewUpdate().Model((*entity.Posting)(nil)).
		Set("status = ?", status).
		Set("synced_at = ?", now).
		Set("updated_at = ?", now).
		Where("posting_number = ?", number).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
	}
	return err
}

// SetLabelBarcode stores the label barcode fetched from the marketplace
// detail endpoint. First write wins; an existing value is kept.
func (r *Repository) SetLabelBarcode(ctx context.Context, number, barcode string) error {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.SetLabelBarcode", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	_, err := r.writer.NewUpdate().Model((*entity.Posting)(nil)).
		Set("label_barcode = ?", barcode).
		Set("updated_at = ?", time.Now().UTC()).
		Where("posting_number = ?", number).
		Where("label_barcode IS NULL OR label_barcode = ''").
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
	}
	return err
}

// MarkAssembled sets the assembly-completion timestamp. The write is
// conditional: it only succeeds while the posting is still awaiting
// packaging and has not been marked before. Returns false when the
// condition did not hold.
func (r *Repository) MarkAssembled(ctx context.Context, number string, at time.Time) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.MarkAssembled", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.Posting)(nil)).
		Set("assembled_at = ?", at).
		Set("updated_at = ?", at).
		Where("posting_number = ?", number).
		Where("assembled_at IS NULL").
		Where("status = ?", entity.StatusAwaitingPackaging).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AssignWorker sets (or clears, when userID is nil) the assigned worker
// for the given posting ids.
func (r *Repository) AssignWorker(ctx context.Context, ids []int64, userID *int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := repoTracer.Start(ctx, "PostingRepository.AssignWorker", trace.WithAttributes(attribute.Int("posting.count", len(ids))))
	defer span.End()

	_, err := r.writer.NewUpdate().Model((*entity.Posting)(nil)).
		Set("assigned_user_id = ?", userID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
	}
	return err
}

// ListIDsByShipmentDate returns posting ids for one shipment date in
// stable creation order. Assignment slicing relies on this ordering.
func (r *Repository) ListIDsByShipmentDate(ctx context.Context, date time.Time) ([]int64, error) {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.ListIDsByShipmentDate")
	defer span.End()

	var ids []int64
	err := r.reader.NewSelect().Model((*entity.Posting)(nil)).
		Column("id").
		Where("shipment_date = ?", date).
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return ids, nil
}

// ListByShipmentDate returns all postings of one shipment date with line
// items and assigned workers loaded.
func (r *Repository) ListByShipmentDate(ctx context.Context, date time.Time) ([]*entity.Posting, error) {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.ListByShipmentDate")
	defer span.End()

	var postings []*entity.Posting
	err := r.reader.NewSelect().Model(&postings).
		Relation("Products").
		Relation("AssignedUser").
		Where("shipment_date = ?", date).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return postings, nil
}

// ListByStatus returns all postings in one lifecycle status.
func (r *Repository) ListByStatus(ctx context.Context, status string) ([]*entity.Posting, error) {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.ListByStatus", trace.WithAttributes(attribute.String("posting.status", status)))
	defer span.End()

	var postings []*entity.Posting
	err := r.reader.NewSelect().Model(&postings).
		Relation("Products").
		Relation("AssignedUser").
		Where("status = ?", status).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return postings, nil
}

// ListByAssignedWorker returns the postings currently assigned to one
// worker, newest shipment dates first.
func (r *Repository) ListByAssignedWorker(ctx context.Context, userID int64) ([]*entity.Posting, error) {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.ListByAssignedWorker", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	var postings []*entity.Posting
	err := r.reader.NewSelect().Model(&postings).
		Relation("Products").
		Where("assigned_user_id = ?", userID).
		Order("shipment_date DESC").
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return postings, nil
}

// GroupCount summarises one shipment date.
type GroupCount struct {
	ShipmentDate time.Time `bun:"shipment_date"`
	Total        int       `bun:"total"`
	Assembled    int       `bun:"assembled"`
}

// GroupCounts aggregates postings per shipment date. Shipment batches are
// derived, not stored.
func (r *Repository) GroupCounts(ctx context.Context) ([]GroupCount, error) {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.GroupCounts")
	defer span.End()

	var counts []GroupCount
	err := r.reader.NewSelect().Model((*entity.Posting)(nil)).
		ColumnExpr("shipment_date").
		ColumnExpr("count(*) AS total").
		ColumnExpr("count(assembled_at) AS assembled").
		Where("shipment_date IS NOT NULL").
		GroupExpr("shipment_date").
		OrderExpr("shipment_date DESC").
		Scan(ctx, &counts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return counts, nil
}

// LockShipmentDate freezes assignment mutation for a shipment date.
// Locking an already locked date is a no-op.
func (r *Repository) LockShipmentDate(ctx context.Context, date time.Time) error {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.LockShipmentDate")
	defer span.End()

	lock := &entity.ShipmentLock{ShipmentDate: date, LockedAt: time.Now().UTC()}
	_, err := r.writer.NewInsert().Model(lock).
		On("CONFLICT (shipment_date) DO NOTHING").
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// IsLocked reports whether a shipment date has been locked.
func (r *Repository) IsLocked(ctx context.Context, date time.Time) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "PostingRepository.IsLocked")
	defer span.End()

	exists, err := r.reader.NewSelect().Model((*entity.ShipmentLock)(nil)).
		Where("shipment_date = ?", date).
		Exists(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return false, err
	}
	return exists, nil
}
