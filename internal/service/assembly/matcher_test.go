package assembly

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/inventory"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

type fakeCodeSource struct {
	codes map[string][]string
	errs  map[string]error
}

func (f *fakeCodeSource) AcceptableCodes(ctx context.Context, offerID string) ([]string, error) {
	if err := f.errs[offerID]; err != nil {
		return nil, err
	}
	codes, ok := f.codes[offerID]
	if !ok {
		return nil, inventory.ErrProductNotFound
	}
	return codes, nil
}

func newTestMatcher(source *fakeCodeSource) *Matcher {
	return NewMatcher(source, zap.NewNop())
}

func TestNormalizeCodeStripsAllWhitespace(t *testing.T) {
	if got := normalizeCode(" 46 09\t87\n654 "); got != "460987654" {
		t.Fatalf("expected 460987654, got %q", got)
	}
}

func TestFindProductByCodeMatchesNormalized(t *testing.T) {
	source := &fakeCodeSource{codes: map[string][]string{
		"sku-1": {"4609 876"},
		"sku-2": {"1112223"},
	}}
	m := newTestMatcher(source)

	got, err := m.FindProductByCode(context.Background(), "46 09876", []string{"sku-1", "sku-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sku-1" {
		t.Fatalf("expected sku-1, got %q", got)
	}
}

func TestFindProductByCodeSkipsMissingInventoryRecords(t *testing.T) {
	source := &fakeCodeSource{codes: map[string][]string{
		"sku-2": {"777"},
	}}
	m := newTestMatcher(source)

	got, err := m.FindProductByCode(context.Background(), "777", []string{"sku-1", "sku-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sku-2" {
		t.Fatalf("expected sku-2, got %q", got)
	}
}

func TestFindProductByCodeNoMatchIsNotFound(t *testing.T) {
	source := &fakeCodeSource{codes: map[string][]string{"sku-1": {"111"}}}
	m := newTestMatcher(source)

	_, err := m.FindProductByCode(context.Background(), "999", []string{"sku-1"})
	if !errorbank.IsKind(err, errorbank.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestFindProductByCodeLookupFailureIsRetryable(t *testing.T) {
	source := &fakeCodeSource{
		codes: map[string][]string{"sku-1": {"111"}},
		errs:  map[string]error{"sku-2": errors.New("timeout")},
	}
	m := newTestMatcher(source)

	_, err := m.FindProductByCode(context.Background(), "999", []string{"sku-1", "sku-2"})
	if !errorbank.IsKind(err, errorbank.KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestFindProductByCodeEmptyInputs(t *testing.T) {
	m := newTestMatcher(&fakeCodeSource{})

	if _, err := m.FindProductByCode(context.Background(), "  ", []string{"sku-1"}); !errorbank.IsKind(err, errorbank.KindBadRequest) {
		t.Fatalf("expected bad_request for empty code, got %v", err)
	}
	if _, err := m.FindProductByCode(context.Background(), "123", nil); !errorbank.IsKind(err, errorbank.KindBadRequest) {
		t.Fatalf("expected bad_request for no candidates, got %v", err)
	}
}

func TestVerifyLabelCodeMatchesPostingNumberFirst(t *testing.T) {
	source := &fakeCodeSource{errs: map[string]error{"sku-1": errors.New("unreachable")}}
	m := newTestMatcher(source)

	match, err := m.VerifyLabelCode(context.Background(), "0001-0002-1", []string{"sku-1"}, "0001-0002-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match.MatchedBy != "posting_number" {
		t.Fatalf("expected posting_number match, got %+v", match)
	}
}

func TestVerifyLabelCodeFallsBackToProductCodes(t *testing.T) {
	source := &fakeCodeSource{codes: map[string][]string{
		"sku-1": {"ART-42", "4609876"},
	}}
	m := newTestMatcher(source)

	match, err := m.VerifyLabelCode(context.Background(), "ART-42", []string{"sku-1"}, "0001-0002-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match.MatchedBy != "product_code" || match.OfferID != "sku-1" {
		t.Fatalf("expected product_code match on sku-1, got %+v", match)
	}
}

func TestVerifyLabelCodeUnknownIsNotFound(t *testing.T) {
	source := &fakeCodeSource{codes: map[string][]string{"sku-1": {"111"}}}
	m := newTestMatcher(source)

	_, err := m.VerifyLabelCode(context.Background(), "999", []string{"sku-1"}, "0001-0002-1")
	if !errorbank.IsKind(err, errorbank.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}
