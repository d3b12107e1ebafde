package assembly

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/entity"
	"github.com/Additional-Code/packline/internal/labelstore"
	"github.com/Additional-Code/packline/internal/marketplace"
	"github.com/Additional-Code/packline/internal/messaging"
	"github.com/Additional-Code/packline/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/packline/service/assembly")

// EventPostingAssembled keys the event published when a posting is
// confirmed assembled.
const EventPostingAssembled = "posting.assembled"

// PostingStore is the slice of the posting repository assembly needs.
type PostingStore interface {
	FindByNumber(ctx context.Context, number string) (*entity.Posting, error)
	MarkAssembled(ctx context.Context, number string, at time.Time) (bool, error)
	SetLabelBarcode(ctx context.Context, number, barcode string) error
	ListByShipmentDate(ctx context.Context, date time.Time) ([]*entity.Posting, error)
}

// LabelSource is the outbound marketplace surface assembly needs.
type LabelSource interface {
	GetPostingDetail(ctx context.Context, number string) (*marketplace.Posting, error)
	FetchPackageLabel(ctx context.Context, numbers []string) ([]byte, error)
}

// LabelStore keeps label PDFs and hands out viewing URLs.
type LabelStore interface {
	Put(ctx context.Context, path string, data []byte) error
	SignedURL(ctx context.Context, path string) (string, error)
}

// ScanResult reports the outcome of one product scan.
type ScanResult struct {
	OfferID    string `json:"offer_id"`
	Name       string `json:"name"`
	Scanned    int    `json:"scanned"`
	Required   int    `json:"required"`
	AllScanned bool   `json:"all_scanned"`
	State      State  `json:"state"`
}

// LabelResult reports a successful label scan.
type LabelResult struct {
	MatchedBy         string    `json:"matched_by"`
	AssembledAt       time.Time `json:"assembled_at"`
	NextPostingNumber string    `json:"next_posting_number,omitempty"`
}

// UploadOutcome reports the label upload of one posting.
type UploadOutcome struct {
	PostingNumber string `json:"posting_number"`
	Error         string `json:"error,omitempty"`
}

// Service drives the per-posting assembly workflow: open a session,
// scan every product, open the label, scan the label, done.
type Service struct {
	store     PostingStore
	matcher   *Matcher
	market    LabelSource
	labels    LabelStore
	publisher messaging.Client
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	now func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store     PostingStore
	Matcher   *Matcher
	Market    LabelSource
	Labels    LabelStore
	Publisher messaging.Client `optional:"true"`
	Logger    *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:     p.Store,
		matcher:   p.Matcher,
		market:    p.Market,
		labels:    p.Labels,
		publisher: p.Publisher,
		logger:    p.Logger,
		sessions:  make(map[string]*Session),
		now:       time.Now,
	}
}

// Open starts (or restarts) an assembly session for one posting. Scan
// progress is not durable; reopening begins from zero.
func (s *Service) Open(ctx context.Context, number string) (*Snapshot, error) {
	ctx, span := serviceTracer.Start(ctx, "AssemblyService.Open", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	posting, err := s.store.FindByNumber(ctx, number)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "posting lookup failed")
		return nil, errorbank.NotFound("posting not found", errorbank.WithCause(err))
	}
	if posting.AssembledAt != nil {
		return nil, errorbank.Conflict("posting already assembled",
			errorbank.WithDetail("assembled_at", posting.AssembledAt))
	}
	if posting.Status != entity.StatusAwaitingPackaging {
		return nil, errorbank.Conflict("posting is not in packaging",
			errorbank.WithDetail("status", posting.Status))
	}

	session := newSession(posting)

	s.mu.Lock()
	s.sessions[number] = session
	s.mu.Unlock()

	session.mu.Lock()
	defer session.mu.Unlock()
	return session.snapshot(), nil
}

// Get returns the current state of an open session.
func (s *Service) Get(number string) (*Snapshot, error) {
	session, err := s.session(number)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.snapshot(), nil
}

// Close discards an open session. Progress is lost on purpose.
func (s *Service) Close(number string) {
	s.mu.Lock()
	delete(s.sessions, number)
	s.mu.Unlock()
}

func (s *Service) session(number string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[number]
	if !ok {
		return nil, errorbank.NotFound("no open assembly session",
			errorbank.WithDetail("posting_number", number))
	}
	return session, nil
}

// ScanProduct matches one scanned code against the posting's still-open
// product lines and advances the matched line by one unit.
func (s *Service) ScanProduct(ctx context.Context, number, code string) (*ScanResult, error) {
	ctx, span := serviceTracer.Start(ctx, "AssemblyService.ScanProduct", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	session, err := s.session(number)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	switch session.state() {
	case StateScanningProducts:
	case StateAssembled:
		return nil, errorbank.Conflict("posting already assembled")
	default:
		return nil, errorbank.Conflict("all products already scanned")
	}

	offerID, err := s.matcher.FindProductByCode(ctx, code, session.pendingOffers())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	line := session.record(offerID)
	if line == nil {
		return nil, errorbank.Conflict("product line already complete",
			errorbank.WithDetail("offer_id", offerID))
	}

	state := session.state()
	return &ScanResult{
		OfferID:    line.OfferID,
		Name:       line.Name,
		Scanned:    line.Scanned,
		Required:   line.Required,
		AllScanned: state != StateScanningProducts,
		State:      state,
	}, nil
}

// OpenLabel returns a short-lived viewing URL for the posting's label,
// fetching and storing the PDF on first access. Allowed only after every
// product has been scanned; retrying is harmless.
func (s *Service) OpenLabel(ctx context.Context, number string) (string, error) {
	ctx, span := serviceTracer.Start(ctx, "AssemblyService.OpenLabel", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	session, err := s.session(number)
	if err != nil {
		return "", err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	switch session.state() {
	case StateAwaitingLabelOpen, StateAwaitingLabelScan:
	case StateAssembled:
		return "", errorbank.Conflict("posting already assembled")
	default:
		return "", errorbank.Conflict("products not fully scanned yet")
	}

	url, err := s.labelURL(ctx, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "label open failed")
		return "", err
	}

	session.labelOpened = true
	return url, nil
}

func (s *Service) labelURL(ctx context.Context, session *Session) (string, error) {
	path := labelstore.ObjectPath(session.shipmentDate, session.labelDir(), session.postingNumber)

	url, err := s.labels.SignedURL(ctx, path)
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, labelstore.ErrNotFound) {
		return "", errorbank.Unavailable("label store unavailable", errorbank.WithCause(err))
	}

	data, err := s.market.FetchPackageLabel(ctx, []string{session.postingNumber})
	if err != nil {
		return "", errorbank.Unavailable("label download failed", errorbank.WithCause(err))
	}
	if err := s.labels.Put(ctx, path, data); err != nil {
		return "", errorbank.Unavailable("label upload failed", errorbank.WithCause(err))
	}

	url, err = s.labels.SignedURL(ctx, path)
	if err != nil {
		return "", errorbank.Unavailable("label store unavailable", errorbank.WithCause(err))
	}
	return url, nil
}

// ScanLabel verifies the scanned label and, on match, durably marks the
// posting assembled before the session reports success.
func (s *Service) ScanLabel(ctx context.Context, number, code string) (*LabelResult, error) {
	ctx, span := serviceTracer.Start(ctx, "AssemblyService.ScanLabel", trace.WithAttributes(attribute.String("posting.number", number)))
	defer span.End()

	session, err := s.session(number)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	switch session.state() {
	case StateAwaitingLabelScan:
	case StateAssembled:
		return nil, errorbank.Conflict("posting already assembled")
	case StateAwaitingLabelOpen:
		return nil, errorbank.Conflict("label must be opened first")
	default:
		return nil, errorbank.Conflict("products not fully scanned yet")
	}

	match, err := s.verifyLabel(ctx, session, code)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	assembledAt := s.now().UTC()
	ok, err := s.store.MarkAssembled(ctx, session.postingNumber, assembledAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark assembled failed")
		return nil, errorbank.Internal("failed to record assembly, rescan", errorbank.WithCause(err))
	}
	if !ok {
		// Someone else finished it, or sync moved the status meanwhile.
		return nil, errorbank.Conflict("posting can no longer be assembled")
	}

	session.assembledAt = &assembledAt
	s.publishAssembled(ctx, session, assembledAt)

	result := &LabelResult{MatchedBy: match.MatchedBy, AssembledAt: assembledAt}
	if next, err := s.nextPending(ctx, session); err == nil {
		result.NextPostingNumber = next
	}

	s.logger.Info("posting assembled",
		zap.String("posting_number", session.postingNumber),
		zap.String("matched_by", match.MatchedBy),
	)
	return result, nil
}

// verifyLabel checks the scan against the known label barcode. When no
// barcode is stored yet it refreshes one from the marketplace (writing
// it through first-write-wins), then falls back to full code matching.
func (s *Service) verifyLabel(ctx context.Context, session *Session, code string) (*LabelMatch, error) {
	if session.labelBarcode == "" {
		detail, err := s.market.GetPostingDetail(ctx, session.postingNumber)
		if err != nil {
			return nil, errorbank.Unavailable("label barcode lookup failed, rescan",
				errorbank.WithCause(err))
		}
		if detail.LabelBarcode != "" {
			session.labelBarcode = detail.LabelBarcode
			if err := s.store.SetLabelBarcode(ctx, session.postingNumber, detail.LabelBarcode); err != nil {
				s.logger.Warn("label barcode write failed",
					zap.String("posting_number", session.postingNumber), zap.Error(err))
			}
		}
	}

	if session.labelBarcode != "" && normalizeCode(code) == normalizeCode(session.labelBarcode) {
		return &LabelMatch{MatchedBy: "label_barcode"}, nil
	}

	return s.matcher.VerifyLabelCode(ctx, code, session.allOffers(), session.postingNumber)
}

// nextPending suggests the next unassembled posting of the same batch,
// preferring the same worker's share.
func (s *Service) nextPending(ctx context.Context, session *Session) (string, error) {
	postings, err := s.store.ListByShipmentDate(ctx, session.shipmentDate)
	if err != nil {
		return "", err
	}
	var fallback string
	for _, p := range postings {
		if p.AssembledAt != nil || p.PostingNumber == session.postingNumber {
			continue
		}
		if session.assignedUserID != nil && p.AssignedUserID != nil && *p.AssignedUserID == *session.assignedUserID {
			return p.PostingNumber, nil
		}
		if fallback == "" {
			fallback = p.PostingNumber
		}
	}
	return fallback, nil
}

// UploadLabels fetches and stores label PDFs for a batch ahead of
// distribution. Failures are reported per posting.
func (s *Service) UploadLabels(ctx context.Context, shipmentDate time.Time, shipmentNumber string, numbers []string) ([]UploadOutcome, error) {
	ctx, span := serviceTracer.Start(ctx, "AssemblyService.UploadLabels", trace.WithAttributes(attribute.Int("label.count", len(numbers))))
	defer span.End()

	if len(numbers) == 0 {
		return nil, errorbank.BadRequest("at least one posting number is required")
	}

	outcomes := make([]UploadOutcome, 0, len(numbers))
	for _, number := range numbers {
		outcome := UploadOutcome{PostingNumber: number}

		data, err := s.market.FetchPackageLabel(ctx, []string{number})
		if err == nil {
			err = s.labels.Put(ctx, labelstore.ObjectPath(shipmentDate, shipmentNumber, number), data)
		}
		if err != nil {
			outcome.Error = err.Error()
			s.logger.Warn("label upload failed", zap.String("posting_number", number), zap.Error(err))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Service) publishAssembled(ctx context.Context, session *Session, at time.Time) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"posting_number": session.postingNumber,
		"shipment_date":  session.shipmentDate.Format(time.RFC3339),
		"assembled_at":   at.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, []byte(EventPostingAssembled), payload); err != nil {
		s.logger.Warn("assembled event publish failed", zap.Error(err))
	}
}
