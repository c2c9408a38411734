package stocktake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stocklane/stocklane/internal/adjustment"
	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/shared"
)

// DocumentRepository abstracts document persistence for the service.
type DocumentRepository interface {
	CreateHeader(ctx context.Context, h Header) error
	GetHeader(ctx context.Context, docNo string) (Header, error)
	ListHeaders(ctx context.Context, siteCode string, status Status, limit, offset int) ([]Header, error)
	UpdateRemark(ctx context.Context, docNo, remark string) error
	Delete(ctx context.Context, docNo string) error
	ReplaceLines(ctx context.Context, docNo string, lines []Line) error
	LoadLines(ctx context.Context, docNo string) ([]Line, error)
	MarkPosted(ctx context.Context, docNo string, at time.Time, by int64) error
}

// CatalogPort is the item/site directory lookup this engine consumes.
type CatalogPort interface {
	SearchItems(ctx context.Context, filter catalog.Filter) ([]catalog.Item, error)
	GetItem(ctx context.Context, code, uom string) (catalog.Item, error)
	GetSite(ctx context.Context, code string) (catalog.Site, error)
}

// SessionPort abstracts counting session persistence.
type SessionPort interface {
	Save(ctx context.Context, sess *Session) error
	Load(ctx context.Context, docNo string) (*Session, error)
	Delete(ctx context.Context, docNo string) error
}

// MetricsPort records posting outcomes; nil-safe at the call sites.
type MetricsPort interface {
	ObservePosting(outcome string)
}

// ItemRef identifies one selectable catalog row.
type ItemRef struct {
	ItemCode string
	UOM      string
}

// CreateInput starts a new document.
type CreateInput struct {
	SiteCode string
	DocDate  time.Time
	Remark   string
}

// UpdateLineInput mutates one session line; nil fields are untouched.
type UpdateLineInput struct {
	CountedQty *float64
	Breakdown  *Breakdown
	Remark     *string
	Confirmed  *bool
}

// Service coordinates stock take documents, the counting workflow, posting,
// and adjustment generation.
type Service struct {
	repo         DocumentRepository
	sessions     SessionPort
	catalog      CatalogPort
	ledger       LedgerPort
	orchestrator *Orchestrator
	generator    *AdjustmentGenerator
	numbers      NumberPort
	audit        shared.AuditPort
	integration  IntegrationHandler
	metrics      MetricsPort
	logger       *slog.Logger
	cfg          Config
}

// ServiceParams groups the service dependencies.
type ServiceParams struct {
	Repo         DocumentRepository
	Sessions     SessionPort
	Catalog      CatalogPort
	Ledger       LedgerPort
	Orchestrator *Orchestrator
	Generator    *AdjustmentGenerator
	Numbers      NumberPort
	Audit        shared.AuditPort
	Integration  IntegrationHandler
	Metrics      MetricsPort
	Logger       *slog.Logger
	Config       Config
}

// NewService builds Service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         p.Repo,
		sessions:     p.Sessions,
		catalog:      p.Catalog,
		ledger:       p.Ledger,
		orchestrator: p.Orchestrator,
		generator:    p.Generator,
		numbers:      p.Numbers,
		audit:        p.Audit,
		integration:  p.Integration,
		metrics:      p.Metrics,
		logger:       logger,
		cfg:          p.Config.Normalize(),
	}
}

// Create allocates a document number and stores a new open header.
func (s *Service) Create(ctx context.Context, input CreateInput, actorID int64) (Header, error) {
	site, err := s.catalog.GetSite(ctx, input.SiteCode)
	if err != nil {
		return Header{}, err
	}
	docNo, err := s.numbers.Next(ctx, "STK", site.Code)
	if err != nil {
		return Header{}, err
	}
	header := Header{
		DocNo:     docNo,
		DocDate:   defaultDate(input.DocDate),
		SiteCode:  site.Code,
		Status:    StatusOpen,
		Remark:    input.Remark,
		CreatedBy: actorID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateHeader(ctx, header); err != nil {
		return Header{}, err
	}
	s.recordAudit(ctx, actorID, "stocktake:create", docNo, map[string]any{"site": site.Code})
	return header, nil
}

// Get returns a document with canonical lines and aggregate totals.
func (s *Service) Get(ctx context.Context, docNo string) (Header, []Line, Totals, error) {
	header, err := s.repo.GetHeader(ctx, docNo)
	if err != nil {
		return Header{}, nil, Totals{}, err
	}
	lines, err := s.repo.LoadLines(ctx, docNo)
	if err != nil {
		return Header{}, nil, Totals{}, err
	}
	return header, lines, Aggregate(lines), nil
}

// List returns document headers.
func (s *Service) List(ctx context.Context, siteCode string, status Status, limit, offset int) ([]Header, error) {
	return s.repo.ListHeaders(ctx, siteCode, status, limit, offset)
}

// UpdateRemark edits the remark of an open document.
func (s *Service) UpdateRemark(ctx context.Context, docNo, remark string, actorID int64) error {
	if err := s.requireOpen(ctx, docNo); err != nil {
		return err
	}
	if err := s.repo.UpdateRemark(ctx, docNo, remark); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "stocktake:remark", docNo, nil)
	return nil
}

// Delete removes an open document and any counting session.
func (s *Service) Delete(ctx context.Context, docNo string, actorID int64) error {
	if err := s.requireOpen(ctx, docNo); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, docNo); err != nil {
		return err
	}
	_ = s.sessions.Delete(ctx, docNo)
	s.recordAudit(ctx, actorID, "stocktake:delete", docNo, nil)
	return nil
}

// BeginSession starts (or restarts) a counting session in the selection
// phase and returns the matching catalog page.
func (s *Service) BeginSession(ctx context.Context, docNo string, filter catalog.Filter) (*Session, []catalog.Item, error) {
	header, err := s.repo.GetHeader(ctx, docNo)
	if err != nil {
		return nil, nil, err
	}
	if header.Status != StatusOpen {
		return nil, nil, ErrAlreadyPosted
	}
	sess := NewSession(docNo, header.SiteCode, filter.Fingerprint())
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, nil, err
	}
	items, err := s.catalog.SearchItems(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	return sess, items, nil
}

// ApplyFilter records changed search criteria. In the quantity phase this
// resets the session back to selection.
func (s *Service) ApplyFilter(ctx context.Context, docNo string, filter catalog.Filter) (*Session, []catalog.Item, error) {
	sess, err := s.sessions.Load(ctx, docNo)
	if err != nil {
		return nil, nil, err
	}
	sess.SetFilter(filter.Fingerprint())
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, nil, err
	}
	items, err := s.catalog.SearchItems(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	return sess, items, nil
}

// SelectItems replaces the selection with snapshots of the referenced
// catalog rows, in the order given.
func (s *Service) SelectItems(ctx context.Context, docNo string, refs []ItemRef) (*Session, error) {
	sess, err := s.sessions.Load(ctx, docNo)
	if err != nil {
		return nil, err
	}
	selected := make([]SelectedItem, 0, len(refs))
	for _, ref := range refs {
		item, err := s.catalog.GetItem(ctx, ref.ItemCode, ref.UOM)
		if err != nil {
			return nil, err
		}
		onHand, err := s.onHandQty(ctx, item.Code, sess.SiteCode, item.UOM)
		if err != nil {
			return nil, err
		}
		selected = append(selected, SelectedItem{
			ItemCode:    item.Code,
			Description: item.Description,
			UOM:         item.UOM,
			UnitPrice:   item.UnitPrice,
			OnHandQty:   onHand,
		})
	}
	if err := sess.Select(selected); err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Proceed moves the session into quantity entry, reconstructing previously
// saved quantities and breakdowns.
func (s *Service) Proceed(ctx context.Context, docNo string) (*Session, error) {
	sess, err := s.sessions.Load(ctx, docNo)
	if err != nil {
		return nil, err
	}
	prior, err := s.repo.LoadLines(ctx, docNo)
	if err != nil {
		return nil, err
	}
	if err := sess.Proceed(prior); err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Back returns the session to the selection phase.
func (s *Service) Back(ctx context.Context, docNo string) (*Session, error) {
	sess, err := s.sessions.Load(ctx, docNo)
	if err != nil {
		return nil, err
	}
	sess.Back()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateLine applies quantity/breakdown/remark/confirm edits to one line.
func (s *Service) UpdateLine(ctx context.Context, docNo, itemCode, uom string, input UpdateLineInput) (*Session, error) {
	sess, err := s.sessions.Load(ctx, docNo)
	if err != nil {
		return nil, err
	}
	if input.CountedQty != nil {
		if err := sess.SetQuantity(itemCode, uom, *input.CountedQty, s.cfg.Tolerance); err != nil {
			return nil, err
		}
	}
	if input.Breakdown != nil {
		b := *input.Breakdown
		for i := range b.Entries {
			b.Entries[i].Expiry = NormalizeExpiry(b.Entries[i].Expiry)
		}
		if err := sess.SetBreakdown(itemCode, uom, b); err != nil {
			return nil, err
		}
	}
	if input.Remark != nil {
		if err := sess.SetRemark(itemCode, uom, *input.Remark); err != nil {
			return nil, err
		}
	}
	if input.Confirmed != nil {
		if err := sess.Confirm(itemCode, uom, *input.Confirmed); err != nil {
			return nil, err
		}
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Save persists the confirmed session lines. System quantities come from the
// session, which preserved previously saved values; a re-save never
// refreshes them.
func (s *Service) Save(ctx context.Context, docNo string, actorID int64) ([]Line, error) {
	if err := s.requireOpen(ctx, docNo); err != nil {
		return nil, err
	}
	sess, err := s.sessions.Load(ctx, docNo)
	if err != nil {
		return nil, err
	}
	lines := sess.ConfirmedLines()
	if err := s.repo.ReplaceLines(ctx, docNo, lines); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "stocktake:save", docNo, map[string]any{"lines": len(lines)})
	return lines, nil
}

// Post runs the posting orchestrator and, on success, hands the document to
// the adjustment pipeline.
func (s *Service) Post(ctx context.Context, docNo string, actorID int64) (PostResult, error) {
	header, err := s.repo.GetHeader(ctx, docNo)
	if err != nil {
		return PostResult{}, err
	}
	lines, err := s.repo.LoadLines(ctx, docNo)
	if err != nil {
		return PostResult{}, err
	}

	result, err := s.orchestrator.Post(ctx, header, lines, actorID)
	s.observePosting(result, err)
	if err != nil {
		return result, err
	}

	_ = s.sessions.Delete(ctx, docNo)
	if s.integration != nil && !result.AlreadyPosted {
		evt := PostedEvent{
			DocNo:    docNo,
			SiteCode: header.SiteCode,
			ActorID:  actorID,
			Warnings: len(result.Warnings),
			PostedAt: time.Now().UTC(),
		}
		if err := s.integration.HandleStockTakePosted(ctx, evt); err != nil {
			// The post itself succeeded; a failed enqueue is a warning, the
			// adjustment can be generated manually.
			s.logger.Warn("queue adjustment generation failed", slog.String("doc_no", docNo), slog.Any("error", err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("adjustment generation not queued: %v", err))
		}
	}
	return result, nil
}

// GenerateAdjustment derives the compensating adjustment for a posted
// document. Exposed for the background task and for manual retries.
func (s *Service) GenerateAdjustment(ctx context.Context, docNo string, actorID int64) (*adjustment.Document, error) {
	header, err := s.repo.GetHeader(ctx, docNo)
	if err != nil {
		return nil, err
	}
	if header.Status != StatusPosted {
		return nil, fmt.Errorf("stocktake: %s is not posted", docNo)
	}
	return s.generator.Generate(ctx, docNo, header.SiteCode, actorID)
}

func (s *Service) requireOpen(ctx context.Context, docNo string) error {
	header, err := s.repo.GetHeader(ctx, docNo)
	if err != nil {
		return err
	}
	if header.Status != StatusOpen {
		return ErrAlreadyPosted
	}
	return nil
}

// onHandQty sums every ledger batch row for the item at the site.
func (s *Service) onHandQty(ctx context.Context, itemCode, siteCode, uom string) (float64, error) {
	records, err := s.ledger.FindBatches(ctx, itemCode, siteCode, uom)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, rec := range records {
		total += rec.Qty
	}
	return total, nil
}

func (s *Service) observePosting(result PostResult, err error) {
	if s.metrics == nil {
		return
	}
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		s.metrics.ObservePosting("validation_failed")
	case err != nil:
		s.metrics.ObservePosting("failed")
	case result.AlreadyPosted:
		s.metrics.ObservePosting("duplicate")
	case len(result.Warnings) > 0:
		s.metrics.ObservePosting("partial")
	default:
		s.metrics.ObservePosting("posted")
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, docNo string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OperatorID: actorID,
		Action:     action,
		Entity:     "stock_take",
		EntityID:   docNo,
		Meta:       meta,
	})
}

func defaultDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
