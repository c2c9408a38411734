package stocktake

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/shared"
)

// HeaderPort updates document status during posting.
type HeaderPort interface {
	MarkPosted(ctx context.Context, docNo string, at time.Time, by int64) error
}

// StepOutcome reports one posting sub-step for one batch or record.
type StepOutcome struct {
	Step    string `json:"step"`
	BatchNo string `json:"batch_no,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// ItemResult is the per-item slice of a PostResult.
type ItemResult struct {
	ItemCode string        `json:"item_code"`
	UOM      string        `json:"uom"`
	Variance float64       `json:"variance"`
	Balance  float64       `json:"balance"`
	Steps    []StepOutcome `json:"steps"`
}

// PostResult is the structured outcome of a posting run. Ledger calls are
// not transactional across services, so partial progress is reported per
// sub-step instead of rolled back.
type PostResult struct {
	DocNo         string       `json:"doc_no"`
	SiteCode      string       `json:"site_code"`
	AlreadyPosted bool         `json:"already_posted"`
	HeaderPosted  bool         `json:"header_posted"`
	Items         []ItemResult `json:"items,omitempty"`
	Warnings      []string     `json:"warnings,omitempty"`
}

// Failed reports whether any sub-step failed.
func (r PostResult) Failed() bool {
	return len(r.Warnings) > 0
}

// Orchestrator turns confirmed stock take lines into ledger side effects:
// transaction records, per-batch transaction records, batch quantity
// updates, and finally the header status flip.
type Orchestrator struct {
	ledger  LedgerPort
	matcher *Matcher
	headers HeaderPort
	audit   shared.AuditPort
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewOrchestrator constructs the Orchestrator.
func NewOrchestrator(port LedgerPort, matcher *Matcher, headers HeaderPort, audit shared.AuditPort, logger *slog.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger:  port,
		matcher: matcher,
		headers: headers,
		audit:   audit,
		logger:  logger,
		cfg:     cfg.Normalize(),
		now:     time.Now,
	}
}

// itemGroup is one logical (item, UOM) with merged legacy rows.
type itemGroup struct {
	ItemCode    string
	UOM         string
	Description string
	UnitPrice   float64
	CountedQty  float64
	SystemQty   float64
	Entries     []BatchEntry
}

// resolvedGroup carries the group after ledger matching.
type resolvedGroup struct {
	itemGroup
	Matches []BatchMatch
	Err     error
}

// Post runs the posting sequence for a document. Validation failures abort
// before any write. Later sub-step failures are logged with item and batch
// context and surfaced as warnings; independent writes continue and the
// header update is attempted regardless.
func (o *Orchestrator) Post(ctx context.Context, header Header, lines []Line, actorID int64) (PostResult, error) {
	result := PostResult{DocNo: header.DocNo, SiteCode: header.SiteCode}

	confirmed := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.Confirmed {
			confirmed = append(confirmed, line)
		}
	}
	if err := o.validate(confirmed); err != nil {
		return result, err
	}

	existing, err := o.listTransactions(ctx, header.DocNo, header.SiteCode)
	if err != nil {
		return result, fmt.Errorf("stocktake: idempotency check: %w", err)
	}
	if len(existing) > 0 {
		// Already posted: skip every ledger write, but still flip the header
		// so a retried post can never leave the document un-postable.
		result.AlreadyPosted = true
		return o.finish(ctx, header, actorID, result)
	}

	groups := o.group(confirmed)
	resolved := o.resolve(ctx, header.SiteCode, groups)

	records := make([]ledger.TransactionRecord, 0, len(resolved))
	postedAt := o.now().UTC()
	for i := range resolved {
		g := &resolved[i]
		if g.Err != nil {
			o.warn(&result, g.ItemCode, g.UOM, "", "resolve", g.Err)
			continue
		}
		records = append(records, ledger.TransactionRecord{
			DocNo:        header.DocNo,
			SiteCode:     header.SiteCode,
			ItemCode:     g.ItemCode,
			UOM:          g.UOM,
			Variance:     Variance(g.CountedQty, g.SystemQty),
			Balance:      o.ledgerBalance(g.Matches),
			BatchSummary: batchSummary(g.Matches),
			PostedAt:     postedAt,
			PostedBy:     actorID,
		})
	}

	created, err := o.createTransactions(ctx, records)
	if err != nil {
		o.warn(&result, "", "", "", "transactions", err)
	}
	// The creation call returns a batch, not one-to-one echoes; assigned ids
	// are resolved back by (item, UOM).
	txIDs := make(map[string]int64, len(created))
	for _, rec := range created {
		txIDs[rec.ItemCode+"|"+rec.UOM] = rec.ID
	}

	for i := range resolved {
		g := &resolved[i]
		if g.Err != nil {
			continue
		}
		item := ItemResult{
			ItemCode: g.ItemCode,
			UOM:      g.UOM,
			Variance: Variance(g.CountedQty, g.SystemQty),
			Balance:  o.ledgerBalance(g.Matches),
		}
		txID, ok := txIDs[g.ItemCode+"|"+g.UOM]
		if !ok {
			o.warn(&result, g.ItemCode, g.UOM, "", "transaction", fmt.Errorf("transaction record was not created"))
			result.Items = append(result.Items, item)
			continue
		}
		item.Steps = append(item.Steps, StepOutcome{Step: "transaction", OK: true})
		o.postBatches(ctx, g, txID, &item, &result)
		result.Items = append(result.Items, item)
	}

	return o.finish(ctx, header, actorID, result)
}

// validate collects every violation so the operator fixes all in one pass.
func (o *Orchestrator) validate(confirmed []Line) error {
	if len(confirmed) == 0 {
		return &ValidationError{Violations: []string{"no confirmed lines to post"}}
	}
	var violations []string
	if o.cfg.BatchTracking {
		for _, line := range confirmed {
			if len(line.Breakdown.Entries) == 0 {
				continue
			}
			sum := line.Breakdown.Sum()
			if o.cfg.Exceeds(sum - line.CountedQty) {
				violations = append(violations, fmt.Sprintf(
					"item %s (%s): breakdown total %.2f does not match counted quantity %.2f",
					line.ItemCode, line.UOM, sum, line.CountedQty))
			}
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// group merges confirmed lines by (item, UOM). Legacy documents may contain
// several stored rows per item; totals are computed on the merged group.
func (o *Orchestrator) group(confirmed []Line) []itemGroup {
	index := make(map[string]int)
	var groups []itemGroup
	for _, line := range confirmed {
		key := line.ItemCode + "|" + line.UOM
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, itemGroup{
				ItemCode:    line.ItemCode,
				UOM:         line.UOM,
				Description: line.Description,
				UnitPrice:   line.UnitPrice,
			})
		}
		g := &groups[i]
		g.CountedQty += line.CountedQty
		g.SystemQty += line.SystemQty
		if len(line.Breakdown.Entries) > 0 {
			g.Entries = append(g.Entries, line.Breakdown.Entries...)
		}
	}
	for i := range groups {
		// Lines without batch tracking reconcile through the reserved
		// "no batch" bucket.
		if len(groups[i].Entries) == 0 {
			groups[i].Entries = []BatchEntry{{CountedQty: groups[i].CountedQty}}
		}
	}
	return groups
}

// resolve looks up per-batch system quantities for every group. Lookups are
// independent of each other and run concurrently.
func (o *Orchestrator) resolve(ctx context.Context, siteCode string, groups []itemGroup) []resolvedGroup {
	resolved := make([]resolvedGroup, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range groups {
		i := i
		g.Go(func() error {
			matches, err := o.matcher.Resolve(gctx, groups[i].ItemCode, siteCode, groups[i].UOM, groups[i].Entries)
			resolved[i] = resolvedGroup{itemGroup: groups[i], Matches: matches, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return resolved
}

// postBatches creates the per-batch audit rows and applies quantity updates.
// Every entry gets a TransactionBatchRecord, zero-variance ones included;
// the batch ledger itself is only touched when the variance is real.
func (o *Orchestrator) postBatches(ctx context.Context, g *resolvedGroup, txID int64, item *ItemResult, result *PostResult) {
	for _, match := range g.Matches {
		entry := match.Entry
		batchVariance := Variance(entry.CountedQty, entry.SystemQty)

		rec := ledger.TransactionBatchRecord{
			TransactionID: txID,
			BatchNo:       entry.BatchNo,
			Expiry:        entry.Expiry,
			CountedQty:    entry.CountedQty,
			SystemQty:     entry.SystemQty,
			Variance:      batchVariance,
		}
		if err := o.write(ctx, func(c context.Context) error { return o.ledger.CreateTransactionBatch(c, rec) }); err != nil {
			o.warn(result, g.ItemCode, g.UOM, entry.BatchNo, "transaction_batch", err)
			item.Steps = append(item.Steps, StepOutcome{Step: "transaction_batch", BatchNo: entry.BatchNo, Error: err.Error()})
		} else {
			item.Steps = append(item.Steps, StepOutcome{Step: "transaction_batch", BatchNo: entry.BatchNo, OK: true})
		}

		if !o.cfg.Exceeds(batchVariance) {
			continue
		}
		if len(match.Rows) > 0 {
			// Adjust the first matched row so the summed on-hand quantity
			// equals the counted quantity.
			row := match.Rows[0]
			newQty := entry.CountedQty - (entry.SystemQty - row.Qty)
			err := o.write(ctx, func(c context.Context) error { return o.ledger.UpdateBatchQty(c, row.ID, newQty) })
			o.stepOutcome(item, result, g, entry.BatchNo, "batch_update", err)
			continue
		}
		newBatch := ledger.BatchRecord{
			Key: ledger.BatchKey{
				ItemCode: g.ItemCode,
				SiteCode: result.SiteCode,
				UOM:      g.UOM,
				BatchNo:  entry.BatchNo,
				Expiry:   entry.Expiry,
			},
			Qty: entry.CountedQty,
			// First count of an unknown batch opens the row; its cost is
			// derived from the line's unit price.
			Cost: g.UnitPrice * entry.CountedQty,
		}
		err := o.write(ctx, func(c context.Context) error { return o.ledger.CreateBatch(c, newBatch) })
		o.stepOutcome(item, result, g, entry.BatchNo, "batch_create", err)
	}
}

func (o *Orchestrator) stepOutcome(item *ItemResult, result *PostResult, g *resolvedGroup, batchNo, step string, err error) {
	if err != nil {
		o.warn(result, g.ItemCode, g.UOM, batchNo, step, err)
		item.Steps = append(item.Steps, StepOutcome{Step: step, BatchNo: batchNo, Error: err.Error()})
		return
	}
	item.Steps = append(item.Steps, StepOutcome{Step: step, BatchNo: batchNo, OK: true})
}

// finish attempts the header status update and records the audit trail.
func (o *Orchestrator) finish(ctx context.Context, header Header, actorID int64, result PostResult) (PostResult, error) {
	if err := o.headers.MarkPosted(ctx, header.DocNo, o.now().UTC(), actorID); err != nil {
		return result, fmt.Errorf("stocktake: mark posted: %w", err)
	}
	result.HeaderPosted = true
	if o.audit != nil {
		_ = o.audit.Record(ctx, shared.AuditLog{
			OperatorID: actorID,
			Action:     "stocktake:post",
			Entity:     "stock_take",
			EntityID:   header.DocNo,
			Meta: map[string]any{
				"site":           header.SiteCode,
				"already_posted": result.AlreadyPosted,
				"warnings":       len(result.Warnings),
			},
		})
	}
	return result, nil
}

func (o *Orchestrator) listTransactions(ctx context.Context, docNo, siteCode string) ([]ledger.TransactionRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LedgerTimeout)
	defer cancel()
	return o.ledger.ListTransactions(callCtx, docNo, siteCode)
}

func (o *Orchestrator) createTransactions(ctx context.Context, records []ledger.TransactionRecord) ([]ledger.TransactionRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LedgerTimeout)
	defer cancel()
	return o.ledger.CreateTransactions(callCtx, records)
}

// write runs a ledger write under the per-call timeout. Write timeouts are
// fatal for the sub-step and never retried, to avoid double-posting.
func (o *Orchestrator) write(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LedgerTimeout)
	defer cancel()
	return fn(callCtx)
}

func (o *Orchestrator) warn(result *PostResult, itemCode, uom, batchNo, step string, err error) {
	msg := fmt.Sprintf("%s failed", step)
	if itemCode != "" {
		msg = fmt.Sprintf("item %s (%s): %s", itemCode, uom, msg)
	}
	if batchNo != "" {
		msg = fmt.Sprintf("%s, batch %q", msg, batchNo)
	}
	msg = fmt.Sprintf("%s: %v", msg, err)
	result.Warnings = append(result.Warnings, msg)
	o.logger.Warn("posting sub-step failed",
		slog.String("doc_no", result.DocNo),
		slog.String("item", itemCode),
		slog.String("batch", batchNo),
		slog.String("step", step),
		slog.Any("error", err))
	if o.audit != nil {
		_ = o.audit.Record(context.Background(), shared.AuditLog{
			Action:   "stocktake:post:warning",
			Entity:   "stock_take",
			EntityID: result.DocNo,
			Meta:     map[string]any{"item": itemCode, "uom": uom, "batch": batchNo, "step": step, "error": err.Error()},
		})
	}
}

func (o *Orchestrator) ledgerBalance(matches []BatchMatch) float64 {
	var total float64
	for _, m := range matches {
		total += m.Entry.SystemQty
	}
	return total
}

// batchSummary builds the human-readable list of batch numbers involved.
func batchSummary(matches []BatchMatch) string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range matches {
		no := m.Entry.BatchNo
		if no == "" || seen[no] {
			continue
		}
		seen[no] = true
		names = append(names, no)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
