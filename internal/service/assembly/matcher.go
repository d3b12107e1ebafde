package assembly

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/inventory"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

// CodeSource resolves offer identifiers to their acceptable scan codes.
type CodeSource interface {
	AcceptableCodes(ctx context.Context, offerID string) ([]string, error)
}

// LabelMatch reports how a label scan was recognised.
type LabelMatch struct {
	MatchedBy string `json:"matched_by"`
	OfferID   string `json:"offer_id,omitempty"`
}

// Matcher resolves raw scanner input against inventory code sets.
type Matcher struct {
	inventory CodeSource
	logger    *zap.Logger
}

// NewMatcher wires a new Matcher instance.
func NewMatcher(source CodeSource, logger *zap.Logger) *Matcher {
	return &Matcher{inventory: source, logger: logger}
}

// normalizeCode strips every whitespace character. Scanners configured
// for keyboard emulation inject spaces and line breaks mid-code.
func normalizeCode(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// FindProductByCode returns the first candidate offer whose acceptable
// code set contains the scanned code. A candidate without an inventory
// record is skipped; a candidate whose lookup failed makes the whole
// scan retryable rather than a definitive mismatch.
func (m *Matcher) FindProductByCode(ctx context.Context, code string, offerIDs []string) (string, error) {
	code = normalizeCode(code)
	if code == "" {
		return "", errorbank.BadRequest("scanned code is empty")
	}
	if len(offerIDs) == 0 {
		return "", errorbank.BadRequest("no candidate products")
	}

	var lookupErr error
	for _, offerID := range offerIDs {
		codeSet, err := m.inventory.AcceptableCodes(ctx, offerID)
		if err != nil {
			if errors.Is(err, inventory.ErrProductNotFound) {
				continue
			}
			m.logger.Warn("inventory lookup failed", zap.String("offer_id", offerID), zap.Error(err))
			lookupErr = err
			continue
		}
		if containsCode(codeSet, code) {
			return offerID, nil
		}
	}

	if lookupErr != nil {
		return "", errorbank.Unavailable("inventory lookup failed, rescan",
			errorbank.WithCause(lookupErr))
	}
	return "", errorbank.NotFound("code does not match any expected product",
		errorbank.WithDetail("code", code))
}

// VerifyLabelCode checks a scanned label code against the posting number
// first, then against every candidate's full acceptable code set.
func (m *Matcher) VerifyLabelCode(ctx context.Context, code string, offerIDs []string, postingNumber string) (*LabelMatch, error) {
	normalized := normalizeCode(code)
	if normalized == "" {
		return nil, errorbank.BadRequest("scanned code is empty")
	}

	if normalized == normalizeCode(postingNumber) {
		return &LabelMatch{MatchedBy: "posting_number"}, nil
	}

	var lookupErr error
	for _, offerID := range offerIDs {
		codeSet, err := m.inventory.AcceptableCodes(ctx, offerID)
		if err != nil {
			if errors.Is(err, inventory.ErrProductNotFound) {
				continue
			}
			lookupErr = err
			continue
		}
		if containsCode(codeSet, normalized) {
			return &LabelMatch{MatchedBy: "product_code", OfferID: offerID}, nil
		}
	}

	if lookupErr != nil {
		return nil, errorbank.Unavailable("inventory lookup failed, rescan",
			errorbank.WithCause(lookupErr))
	}
	return nil, errorbank.NotFound("label code not recognised, rescan",
		errorbank.WithDetail("code", normalized))
}

func containsCode(codeSet []string, normalized string) bool {
	for _, candidate := range codeSet {
		if normalizeCode(candidate) == normalized {
			return true
		}
	}
	return false
}
