package stocktake

import (
	"context"
	"errors"
	"time"

	"github.com/stocklane/stocklane/internal/ledger"
)

// LedgerReader is the read side of the external batch ledger.
type LedgerReader interface {
	FindBatches(ctx context.Context, itemCode, siteCode, uom string) ([]ledger.BatchRecord, error)
	ListTransactions(ctx context.Context, docNo, siteCode string) ([]ledger.TransactionRecord, error)
}

// LedgerWriter is the write side of the external batch ledger.
type LedgerWriter interface {
	CreateTransactions(ctx context.Context, records []ledger.TransactionRecord) ([]ledger.TransactionRecord, error)
	CreateTransactionBatch(ctx context.Context, rec ledger.TransactionBatchRecord) error
	UpdateBatchQty(ctx context.Context, id int64, qty float64) error
	CreateBatch(ctx context.Context, rec ledger.BatchRecord) error
}

// LedgerPort combines both sides, as the posting orchestrator needs them.
type LedgerPort interface {
	LedgerReader
	LedgerWriter
}

// BatchMatch pairs a counted entry with the ledger rows backing it. Rows may
// be empty: counting a brand-new batch is not an error, its available
// quantity is simply zero.
type BatchMatch struct {
	Entry BatchEntry
	Rows  []ledger.BatchRecord
}

// SystemQty returns the summed on-hand quantity across matched rows.
func (m BatchMatch) SystemQty() float64 {
	var total float64
	for _, row := range m.Rows {
		total += row.Qty
	}
	return total
}

// Matcher resolves batch breakdowns against the authoritative ledger using
// the composite key (item, site, UOM, batch number, expiry date).
type Matcher struct {
	ledger LedgerReader
	cfg    Config
}

// NewMatcher constructs a Matcher.
func NewMatcher(reader LedgerReader, cfg Config) *Matcher {
	return &Matcher{ledger: reader, cfg: cfg.Normalize()}
}

// Resolve fetches authoritative on-hand quantities for every entry. Matching
// is by batch number; the expiry date participates only when expiry tracking
// is enabled for the deployment. Multiple ledger rows for the same key are
// summed. The "no batch" bucket matches rows with an empty batch number.
func (m *Matcher) Resolve(ctx context.Context, itemCode, siteCode, uom string, entries []BatchEntry) ([]BatchMatch, error) {
	records, err := m.findBatches(ctx, itemCode, siteCode, uom)
	if err != nil {
		return nil, err
	}

	matches := make([]BatchMatch, 0, len(entries))
	for _, entry := range entries {
		match := BatchMatch{Entry: entry}
		for _, rec := range records {
			if rec.Key.BatchNo != entry.BatchNo {
				continue
			}
			if m.cfg.ExpiryTracking && !sameExpiry(rec.Key.Expiry, entry.Expiry) {
				continue
			}
			match.Rows = append(match.Rows, rec)
		}
		match.Entry.Expiry = NormalizeExpiry(entry.Expiry)
		match.Entry.SystemQty = match.SystemQty()
		matches = append(matches, match)
	}
	return matches, nil
}

// findBatches runs the lookup under the configured per-call timeout. A
// timed-out read is retried once; it is a read-only call, so a duplicate
// attempt is harmless.
func (m *Matcher) findBatches(ctx context.Context, itemCode, siteCode, uom string) ([]ledger.BatchRecord, error) {
	lookup := func() ([]ledger.BatchRecord, error) {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.LedgerTimeout)
		defer cancel()
		return m.ledger.FindBatches(callCtx, itemCode, siteCode, uom)
	}
	records, err := lookup()
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		records, err = lookup()
	}
	return records, err
}

func sameExpiry(a, b *time.Time) bool {
	na, nb := NormalizeExpiry(a), NormalizeExpiry(b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	return na.Equal(*nb)
}
