package stocktake

import (
	"context"

	"github.com/stocklane/stocklane/internal/ledger"
)

// WriteObserver receives per-write telemetry from the ledger adapter.
type WriteObserver interface {
	ObserveLedgerWrite(kind, result string)
}

// LedgerAdapter decorates a LedgerPort with write telemetry. Reads pass
// through untouched.
type LedgerAdapter struct {
	port     LedgerPort
	observer WriteObserver
}

// NewLedgerAdapter wraps port; observer may be nil.
func NewLedgerAdapter(port LedgerPort, observer WriteObserver) *LedgerAdapter {
	return &LedgerAdapter{port: port, observer: observer}
}

func (a *LedgerAdapter) FindBatches(ctx context.Context, itemCode, siteCode, uom string) ([]ledger.BatchRecord, error) {
	return a.port.FindBatches(ctx, itemCode, siteCode, uom)
}

func (a *LedgerAdapter) ListTransactions(ctx context.Context, docNo, siteCode string) ([]ledger.TransactionRecord, error) {
	return a.port.ListTransactions(ctx, docNo, siteCode)
}

func (a *LedgerAdapter) CreateTransactions(ctx context.Context, records []ledger.TransactionRecord) ([]ledger.TransactionRecord, error) {
	created, err := a.port.CreateTransactions(ctx, records)
	a.observe("transaction", err)
	return created, err
}

func (a *LedgerAdapter) CreateTransactionBatch(ctx context.Context, rec ledger.TransactionBatchRecord) error {
	err := a.port.CreateTransactionBatch(ctx, rec)
	a.observe("transaction_batch", err)
	return err
}

func (a *LedgerAdapter) UpdateBatchQty(ctx context.Context, id int64, qty float64) error {
	err := a.port.UpdateBatchQty(ctx, id, qty)
	a.observe("batch_update", err)
	return err
}

func (a *LedgerAdapter) CreateBatch(ctx context.Context, rec ledger.BatchRecord) error {
	err := a.port.CreateBatch(ctx, rec)
	a.observe("batch_create", err)
	return err
}

func (a *LedgerAdapter) observe(kind string, err error) {
	if a.observer == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	a.observer.ObserveLedgerWrite(kind, result)
}
