package assembly

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/entity"
	"github.com/Additional-Code/packline/internal/labelstore"
	"github.com/Additional-Code/packline/internal/marketplace"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

type fakePostingStore struct {
	posting      *entity.Posting
	batch        []*entity.Posting
	markCalls    int
	markStale    bool
	barcodeWrite string
}

func (f *fakePostingStore) FindByNumber(ctx context.Context, number string) (*entity.Posting, error) {
	if f.posting == nil || f.posting.PostingNumber != number {
		return nil, errorbank.NotFound("posting not found")
	}
	return f.posting, nil
}

func (f *fakePostingStore) MarkAssembled(ctx context.Context, number string, at time.Time) (bool, error) {
	f.markCalls++
	if f.markStale || f.posting.AssembledAt != nil {
		return false, nil
	}
	f.posting.AssembledAt = &at
	return true, nil
}

func (f *fakePostingStore) SetLabelBarcode(ctx context.Context, number, barcode string) error {
	f.barcodeWrite = barcode
	if f.posting.LabelBarcode == "" {
		f.posting.LabelBarcode = barcode
	}
	return nil
}

func (f *fakePostingStore) ListByShipmentDate(ctx context.Context, date time.Time) ([]*entity.Posting, error) {
	return f.batch, nil
}

type fakeLabelSource struct {
	detail     *marketplace.Posting
	label      []byte
	fetchCalls int
}

func (f *fakeLabelSource) GetPostingDetail(ctx context.Context, number string) (*marketplace.Posting, error) {
	if f.detail == nil {
		return nil, errorbank.Unavailable("marketplace down")
	}
	return f.detail, nil
}

func (f *fakeLabelSource) FetchPackageLabel(ctx context.Context, numbers []string) ([]byte, error) {
	f.fetchCalls++
	return f.label, nil
}

type fakeLabelStore struct {
	objects map[string][]byte
}

func newFakeLabelStore() *fakeLabelStore {
	return &fakeLabelStore{objects: make(map[string][]byte)}
}

func (f *fakeLabelStore) Put(ctx context.Context, path string, data []byte) error {
	f.objects[path] = data
	return nil
}

func (f *fakeLabelStore) SignedURL(ctx context.Context, path string) (string, error) {
	if _, ok := f.objects[path]; !ok {
		return "", labelstore.ErrNotFound
	}
	return "https://labels.local/" + path, nil
}

func testPosting() *entity.Posting {
	return &entity.Posting{
		ID:            1,
		PostingNumber: "0001-0001-1",
		Status:        entity.StatusAwaitingPackaging,
		ShipmentDate:  time.Date(2026, 8, 12, 10, 0, 0, 0, time.UTC),
		LabelBarcode:  "LBL-123",
		Products: []*entity.PostingProduct{
			{OfferID: "sku-1", SKU: "100", Name: "Mug", Quantity: 2},
			{OfferID: "sku-2", SKU: "200", Name: "Plate", Quantity: 1},
		},
	}
}

func newTestAssembly(store *fakePostingStore, source *fakeCodeSource, market *fakeLabelSource, labels *fakeLabelStore) *Service {
	return NewService(Params{
		Store:   store,
		Matcher: NewMatcher(source, zap.NewNop()),
		Market:  market,
		Labels:  labels,
		Logger:  zap.NewNop(),
	})
}

func defaultCodes() *fakeCodeSource {
	return &fakeCodeSource{codes: map[string][]string{
		"sku-1": {"111000"},
		"sku-2": {"222000"},
	}}
}

func TestAssemblyHappyPath(t *testing.T) {
	store := &fakePostingStore{posting: testPosting()}
	market := &fakeLabelSource{label: []byte("%PDF")}
	labels := newFakeLabelStore()
	svc := newTestAssembly(store, defaultCodes(), market, labels)
	ctx := context.Background()

	snap, err := svc.Open(ctx, "0001-0001-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if snap.State != StateScanningProducts || snap.Required != 3 {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}

	// Label scan must be refused while products remain.
	if _, err := svc.ScanLabel(ctx, "0001-0001-1", "LBL-123"); !errorbank.IsKind(err, errorbank.KindConflict) {
		t.Fatalf("expected conflict for early label scan, got %v", err)
	}

	for _, code := range []string{"111000", "111000", "222000"} {
		if _, err := svc.ScanProduct(ctx, "0001-0001-1", code); err != nil {
			t.Fatalf("scan %s: %v", code, err)
		}
	}

	snap, _ = svc.Get("0001-0001-1")
	if snap.State != StateAwaitingLabelOpen {
		t.Fatalf("expected awaiting_label_open, got %q", snap.State)
	}

	url, err := svc.OpenLabel(ctx, "0001-0001-1")
	if err != nil {
		t.Fatalf("open label: %v", err)
	}
	if !strings.HasPrefix(url, "https://labels.local/labels/2026-08-12/") {
		t.Fatalf("unexpected label url %q", url)
	}
	if market.fetchCalls != 1 {
		t.Fatalf("expected one label fetch, got %d", market.fetchCalls)
	}

	// Reopening the label must reuse the stored artifact.
	if _, err := svc.OpenLabel(ctx, "0001-0001-1"); err != nil {
		t.Fatalf("reopen label: %v", err)
	}
	if market.fetchCalls != 1 {
		t.Fatalf("label refetched on reopen")
	}

	result, err := svc.ScanLabel(ctx, "0001-0001-1", " LBL-1 23 ")
	if err != nil {
		t.Fatalf("scan label: %v", err)
	}
	if result.MatchedBy != "label_barcode" {
		t.Fatalf("expected label_barcode match, got %+v", result)
	}
	if store.markCalls != 1 || store.posting.AssembledAt == nil {
		t.Fatalf("assembled mark not written")
	}

	snap, _ = svc.Get("0001-0001-1")
	if snap.State != StateAssembled {
		t.Fatalf("expected assembled state, got %q", snap.State)
	}
}

func TestScanProductExcludesCompleteLines(t *testing.T) {
	store := &fakePostingStore{posting: testPosting()}
	svc := newTestAssembly(store, defaultCodes(), &fakeLabelSource{}, newFakeLabelStore())
	ctx := context.Background()

	if _, err := svc.Open(ctx, "0001-0001-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.ScanProduct(ctx, "0001-0001-1", "222000"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// sku-2 is complete; its code must now read as a mismatch.
	_, err := svc.ScanProduct(ctx, "0001-0001-1", "222000")
	if !errorbank.IsKind(err, errorbank.KindNotFound) {
		t.Fatalf("expected not_found on complete line, got %v", err)
	}
}

func TestScanProductRefusedAfterAllScanned(t *testing.T) {
	posting := testPosting()
	posting.Products = posting.Products[:1]
	posting.Products[0].Quantity = 1
	store := &fakePostingStore{posting: posting}
	svc := newTestAssembly(store, defaultCodes(), &fakeLabelSource{}, newFakeLabelStore())
	ctx := context.Background()

	if _, err := svc.Open(ctx, "0001-0001-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.ScanProduct(ctx, "0001-0001-1", "111000"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := svc.ScanProduct(ctx, "0001-0001-1", "111000"); !errorbank.IsKind(err, errorbank.KindConflict) {
		t.Fatalf("expected conflict after completion, got %v", err)
	}
}

func TestScanLabelFetchesMissingBarcode(t *testing.T) {
	posting := testPosting()
	posting.LabelBarcode = ""
	posting.Products = posting.Products[:1]
	posting.Products[0].Quantity = 1
	store := &fakePostingStore{posting: posting}
	market := &fakeLabelSource{
		detail: &marketplace.Posting{PostingNumber: posting.PostingNumber, LabelBarcode: "FRESH-1"},
		label:  []byte("%PDF"),
	}
	svc := newTestAssembly(store, defaultCodes(), market, newFakeLabelStore())
	ctx := context.Background()

	if _, err := svc.Open(ctx, posting.PostingNumber); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.ScanProduct(ctx, posting.PostingNumber, "111000"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := svc.OpenLabel(ctx, posting.PostingNumber); err != nil {
		t.Fatalf("open label: %v", err)
	}

	result, err := svc.ScanLabel(ctx, posting.PostingNumber, "FRESH-1")
	if err != nil {
		t.Fatalf("scan label: %v", err)
	}
	if result.MatchedBy != "label_barcode" {
		t.Fatalf("expected label_barcode match, got %+v", result)
	}
	if store.barcodeWrite != "FRESH-1" {
		t.Fatalf("fetched barcode not written through, got %q", store.barcodeWrite)
	}
}

func TestScanLabelConflictsWhenAssemblyWriteLoses(t *testing.T) {
	posting := testPosting()
	posting.Products = posting.Products[:1]
	posting.Products[0].Quantity = 1
	store := &fakePostingStore{posting: posting, markStale: true}
	svc := newTestAssembly(store, defaultCodes(), &fakeLabelSource{label: []byte("%PDF")}, newFakeLabelStore())
	ctx := context.Background()

	if _, err := svc.Open(ctx, posting.PostingNumber); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.ScanProduct(ctx, posting.PostingNumber, "111000"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := svc.OpenLabel(ctx, posting.PostingNumber); err != nil {
		t.Fatalf("open label: %v", err)
	}

	// The conditional update reports zero rows: someone else assembled
	// the posting, or sync moved its status meanwhile.
	_, err := svc.ScanLabel(ctx, posting.PostingNumber, "LBL-123")
	if !errorbank.IsKind(err, errorbank.KindConflict) {
		t.Fatalf("expected conflict on lost assembly write, got %v", err)
	}
	if store.markCalls != 1 {
		t.Fatalf("expected one mark attempt, got %d", store.markCalls)
	}

	snap, err := svc.Get(posting.PostingNumber)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.State == StateAssembled {
		t.Fatalf("session reported assembled after failed write")
	}
}

func TestScanLabelSuggestsNextPending(t *testing.T) {
	posting := testPosting()
	posting.Products = posting.Products[:1]
	posting.Products[0].Quantity = 1
	worker := int64(7)
	posting.AssignedUserID = &worker

	doneAt := time.Now()
	store := &fakePostingStore{
		posting: posting,
		batch: []*entity.Posting{
			{PostingNumber: "0001-0000-9", AssembledAt: &doneAt},
			posting,
			{PostingNumber: "0001-0002-1", AssignedUserID: &worker},
			{PostingNumber: "0001-0003-1"},
		},
	}
	market := &fakeLabelSource{label: []byte("%PDF")}
	svc := newTestAssembly(store, defaultCodes(), market, newFakeLabelStore())
	ctx := context.Background()

	if _, err := svc.Open(ctx, posting.PostingNumber); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.ScanProduct(ctx, posting.PostingNumber, "111000"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := svc.OpenLabel(ctx, posting.PostingNumber); err != nil {
		t.Fatalf("open label: %v", err)
	}

	result, err := svc.ScanLabel(ctx, posting.PostingNumber, "LBL-123")
	if err != nil {
		t.Fatalf("scan label: %v", err)
	}
	if result.NextPostingNumber != "0001-0002-1" {
		t.Fatalf("expected same-worker posting next, got %q", result.NextPostingNumber)
	}
}

func TestOpenRejectsAssembledPosting(t *testing.T) {
	posting := testPosting()
	at := time.Now()
	posting.AssembledAt = &at
	store := &fakePostingStore{posting: posting}
	svc := newTestAssembly(store, defaultCodes(), &fakeLabelSource{}, newFakeLabelStore())

	if _, err := svc.Open(context.Background(), posting.PostingNumber); !errorbank.IsKind(err, errorbank.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReopenResetsProgress(t *testing.T) {
	store := &fakePostingStore{posting: testPosting()}
	svc := newTestAssembly(store, defaultCodes(), &fakeLabelSource{}, newFakeLabelStore())
	ctx := context.Background()

	if _, err := svc.Open(ctx, "0001-0001-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.ScanProduct(ctx, "0001-0001-1", "111000"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	snap, err := svc.Open(ctx, "0001-0001-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if snap.Scanned != 0 {
		t.Fatalf("expected progress reset, got %d scanned", snap.Scanned)
	}
}

func TestGetWithoutSessionIsNotFound(t *testing.T) {
	svc := newTestAssembly(&fakePostingStore{posting: testPosting()}, defaultCodes(), &fakeLabelSource{}, newFakeLabelStore())

	if _, err := svc.Get("0001-0001-1"); !errorbank.IsKind(err, errorbank.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}
