package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/config"
	"github.com/Additional-Code/packline/internal/entity"
	"github.com/Additional-Code/packline/internal/marketplace"
	postingrepo "github.com/Additional-Code/packline/internal/repository/posting"
)

type fakeStore struct {
	postings   map[string]*entity.Posting
	syncCalls  int
	createErrs map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{postings: make(map[string]*entity.Posting), createErrs: make(map[string]error)}
}

func (f *fakeStore) FindByNumber(ctx context.Context, number string) (*entity.Posting, error) {
	posting, ok := f.postings[number]
	if !ok {
		return nil, postingrepo.ErrNotFound
	}
	return posting, nil
}

func (f *fakeStore) Create(ctx context.Context, posting *entity.Posting) error {
	if err := f.createErrs[posting.PostingNumber]; err != nil {
		return err
	}
	f.postings[posting.PostingNumber] = posting
	return nil
}

func (f *fakeStore) ApplySync(ctx context.Context, number string, update postingrepo.SyncUpdate) error {
	f.syncCalls++
	posting := f.postings[number]
	if update.Status != nil {
		posting.Status = *update.Status
	}
	if update.LabelBarcode != nil {
		posting.LabelBarcode = *update.LabelBarcode
	}
	posting.SyncedAt = update.SyncedAt
	return nil
}

type fakeLister struct {
	pages   map[string][]*marketplace.Page
	calls   map[string]int
	offsets map[string][]int
	err     error
}

func (f *fakeLister) ListPostings(ctx context.Context, status string, offset, limit int) (*marketplace.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	if f.offsets == nil {
		f.offsets = make(map[string][]int)
	}
	f.offsets[status] = append(f.offsets[status], offset)
	pages := f.pages[status]
	idx := f.calls[status]
	f.calls[status]++
	if idx >= len(pages) {
		return &marketplace.Page{}, nil
	}
	return pages[idx], nil
}

func newTestReconciler(store *fakeStore, lister *fakeLister) *Reconciler {
	cfg := config.Config{}
	cfg.Marketplace.PageLimit = 100
	return NewReconciler(Params{
		Store:  store,
		Market: lister,
		Logger: zap.NewNop(),
		Config: cfg,
	})
}

func singlePage(status string, postings ...marketplace.Posting) map[string][]*marketplace.Page {
	return map[string][]*marketplace.Page{
		status: {{Postings: postings}},
	}
}

func TestRunCreatesUnseenPostings(t *testing.T) {
	store := newFakeStore()
	lister := &fakeLister{pages: singlePage(entity.StatusAwaitingPackaging, marketplace.Posting{
		PostingNumber: "A-1",
		Status:        entity.StatusAwaitingPackaging,
		LabelBarcode:  "BC1",
		Products:      []marketplace.Product{{OfferID: "sku-1", SKU: "100", Quantity: 2}},
	})}

	r := newTestReconciler(store, lister)
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Created != 1 || result.Updated != 0 {
		t.Fatalf("expected 1 created, got %+v", result)
	}

	stored := store.postings["A-1"]
	if stored == nil || stored.LabelBarcode != "BC1" || len(stored.Products) != 1 {
		t.Fatalf("posting not stored verbatim: %+v", stored)
	}
	if r.Status().State != "idle" {
		t.Fatalf("expected idle after run, got %q", r.Status().State)
	}
}

func TestRunPagesUntilListingExhausted(t *testing.T) {
	store := newFakeStore()
	lister := &fakeLister{pages: map[string][]*marketplace.Page{
		entity.StatusAwaitingPackaging: {
			{Postings: []marketplace.Posting{{PostingNumber: "A-1", Status: entity.StatusAwaitingPackaging}}, HasNext: true},
			{Postings: []marketplace.Posting{{PostingNumber: "A-2", Status: entity.StatusAwaitingPackaging}}, HasNext: true},
			{Postings: []marketplace.Posting{{PostingNumber: "A-3", Status: entity.StatusAwaitingPackaging}}},
		},
	}}

	r := newTestReconciler(store, lister)
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Created != 3 || result.Total != 3 {
		t.Fatalf("expected all pages merged, got %+v", result)
	}
	for _, number := range []string{"A-1", "A-2", "A-3"} {
		if store.postings[number] == nil {
			t.Fatalf("posting %s missing after run", number)
		}
	}

	if got := lister.calls[entity.StatusAwaitingPackaging]; got != 3 {
		t.Fatalf("expected 3 page fetches, got %d", got)
	}
	offsets := lister.offsets[entity.StatusAwaitingPackaging]
	if len(offsets) != 3 || offsets[0] != 0 || offsets[1] != 100 || offsets[2] != 200 {
		t.Fatalf("offsets did not advance by page limit: %v", offsets)
	}
}

func TestRunNeverDowngradesStatus(t *testing.T) {
	store := newFakeStore()
	store.postings["A-1"] = &entity.Posting{
		PostingNumber: "A-1",
		Status:        entity.StatusAwaitingDeliver,
	}
	lister := &fakeLister{pages: singlePage(entity.StatusAwaitingPackaging, marketplace.Posting{
		PostingNumber: "A-1",
		Status:        entity.StatusAwaitingPackaging,
	})}

	r := newTestReconciler(store, lister)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.postings["A-1"].Status; got != entity.StatusAwaitingDeliver {
		t.Fatalf("status downgraded to %q", got)
	}
}

func TestRunKeepsFirstLabelBarcode(t *testing.T) {
	store := newFakeStore()
	store.postings["A-1"] = &entity.Posting{
		PostingNumber: "A-1",
		Status:        entity.StatusAwaitingPackaging,
		LabelBarcode:  "FIRST",
	}
	lister := &fakeLister{pages: singlePage(entity.StatusAwaitingPackaging, marketplace.Posting{
		PostingNumber: "A-1",
		Status:        entity.StatusAwaitingPackaging,
		LabelBarcode:  "SECOND",
	})}

	r := newTestReconciler(store, lister)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.postings["A-1"].LabelBarcode; got != "FIRST" {
		t.Fatalf("label barcode overwritten: %q", got)
	}
}

func TestRunIsIdempotentOnUnchangedListing(t *testing.T) {
	store := newFakeStore()
	posting := marketplace.Posting{
		PostingNumber: "A-1",
		Status:        entity.StatusAwaitingPackaging,
		LabelBarcode:  "BC1",
	}
	lister := &fakeLister{pages: map[string][]*marketplace.Page{
		entity.StatusAwaitingPackaging: {
			{Postings: []marketplace.Posting{posting}},
			{Postings: []marketplace.Posting{posting}},
		},
	}}

	r := newTestReconciler(store, lister)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Created != 0 || result.Updated != 0 {
		t.Fatalf("second run changed data: %+v", result)
	}
	if store.syncCalls != 0 {
		t.Fatalf("expected no sync writes on unchanged listing, got %d", store.syncCalls)
	}
}

func TestRunContinuesPastFailingPosting(t *testing.T) {
	store := newFakeStore()
	store.createErrs["BAD-1"] = errors.New("insert failed")
	lister := &fakeLister{pages: singlePage(entity.StatusAwaitingPackaging,
		marketplace.Posting{PostingNumber: "BAD-1", Status: entity.StatusAwaitingPackaging},
		marketplace.Posting{PostingNumber: "OK-1", Status: entity.StatusAwaitingPackaging},
	)}

	r := newTestReconciler(store, lister)
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected sibling to survive, got %+v", result)
	}
	if store.postings["OK-1"] == nil {
		t.Fatalf("sibling posting missing")
	}
}

func TestRunRecordsErrorState(t *testing.T) {
	lister := &fakeLister{err: errors.New("boom")}
	r := newTestReconciler(newFakeStore(), lister)

	if _, err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	status := r.Status()
	if status.State != "error" || status.Error == "" {
		t.Fatalf("expected error state, got %+v", status)
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	r := newTestReconciler(newFakeStore(), &fakeLister{})
	if err := r.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected conflict while running")
	}
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning cause, got %v", err)
	}
	r.finish(nil)

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("run after finish: %v", err)
	}
}

func TestStatusTracksLastSyncTime(t *testing.T) {
	r := newTestReconciler(newFakeStore(), &fakeLister{})
	fixed := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.Status().LastSyncAt; !got.Equal(fixed) {
		t.Fatalf("expected last sync at %v, got %v", fixed, got)
	}
}
