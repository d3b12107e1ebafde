package assembly

import (
	"sync"
	"time"

	"github.com/Additional-Code/packline/internal/entity"
)

// State names one phase of an assembly session.
type State string

const (
	StateScanningProducts  State = "scanning_products"
	StateAwaitingLabelOpen State = "awaiting_label_open"
	StateAwaitingLabelScan State = "awaiting_label_scan"
	StateAssembled         State = "assembled"
)

// LineProgress tracks one product line inside a session.
type LineProgress struct {
	OfferID  string `json:"offer_id"`
	Name     string `json:"name"`
	Scanned  int    `json:"scanned"`
	Required int    `json:"required"`
}

// Snapshot is a read-only copy of session state for responses.
type Snapshot struct {
	PostingNumber string         `json:"posting_number"`
	State         State          `json:"state"`
	Lines         []LineProgress `json:"lines"`
	Scanned       int            `json:"scanned"`
	Required      int            `json:"required"`
	AssembledAt   *time.Time     `json:"assembled_at,omitempty"`
}

// Session is the in-memory scan tracker for one posting. It exists only
// while an operator has the posting open; reopening starts over from
// zero. The durable outcome is the assembled mark in storage, not the
// session itself.
type Session struct {
	mu sync.Mutex

	postingNumber  string
	shipmentDate   time.Time
	shipmentNumber string
	labelBarcode   string
	assignedUserID *int64

	lines       []*LineProgress
	labelOpened bool
	assembledAt *time.Time
}

func newSession(posting *entity.Posting) *Session {
	s := &Session{
		postingNumber:  posting.PostingNumber,
		shipmentDate:   posting.ShipmentDate,
		shipmentNumber: posting.ShipmentNumber,
		labelBarcode:   posting.LabelBarcode,
		assignedUserID: posting.AssignedUserID,
	}
	for _, product := range posting.Products {
		s.lines = append(s.lines, &LineProgress{
			OfferID:  product.OfferID,
			Name:     product.Name,
			Required: product.Quantity,
		})
	}
	return s
}

// labelDir names the storage directory of this posting's label. Batches
// without a shipment number yet file under the posting number itself.
func (s *Session) labelDir() string {
	if s.shipmentNumber != "" {
		return s.shipmentNumber
	}
	return s.postingNumber
}

// state derives the phase from progress. Callers hold s.mu.
func (s *Session) state() State {
	if s.assembledAt != nil {
		return StateAssembled
	}
	for _, line := range s.lines {
		if line.Scanned < line.Required {
			return StateScanningProducts
		}
	}
	if !s.labelOpened {
		return StateAwaitingLabelOpen
	}
	return StateAwaitingLabelScan
}

// pendingOffers lists offer identifiers of lines that still need scans.
// Complete lines are excluded so a duplicate scan of a finished product
// reads as a mismatch instead of silently over-counting. Callers hold
// s.mu.
func (s *Session) pendingOffers() []string {
	var out []string
	for _, line := range s.lines {
		if line.Scanned < line.Required {
			out = append(out, line.OfferID)
		}
	}
	return out
}

// allOffers lists every offer identifier of the posting. Callers hold
// s.mu.
func (s *Session) allOffers() []string {
	out := make([]string, 0, len(s.lines))
	for _, line := range s.lines {
		out = append(out, line.OfferID)
	}
	return out
}

// record increments the scan count of one line. Callers hold s.mu.
func (s *Session) record(offerID string) *LineProgress {
	for _, line := range s.lines {
		if line.OfferID == offerID && line.Scanned < line.Required {
			line.Scanned++
			return line
		}
	}
	return nil
}

// snapshot copies the session for external consumption. Callers hold
// s.mu.
func (s *Session) snapshot() *Snapshot {
	snap := &Snapshot{
		PostingNumber: s.postingNumber,
		State:         s.state(),
		AssembledAt:   s.assembledAt,
	}
	for _, line := range s.lines {
		snap.Lines = append(snap.Lines, *line)
		snap.Scanned += line.Scanned
		snap.Required += line.Required
	}
	return snap
}
