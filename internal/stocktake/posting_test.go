package stocktake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/shared"
)

type memHeaders struct {
	mu     sync.Mutex
	posted map[string]int64
	err    error
}

func newMemHeaders() *memHeaders { return &memHeaders{posted: make(map[string]int64)} }

func (h *memHeaders) MarkPosted(ctx context.Context, docNo string, at time.Time, by int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.posted[docNo] = by
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *memAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}

func (a *memAudit) has(action string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, got := range a.actions {
		if got == action {
			return true
		}
	}
	return false
}

func newTestOrchestrator(l *memLedger, headers *memHeaders, audit *memAudit, cfg Config) *Orchestrator {
	return NewOrchestrator(l, NewMatcher(l, cfg), headers, audit, nil, cfg)
}

func postHeader() Header {
	return Header{DocNo: "STK-S01-000001", SiteCode: "S01", Status: StatusOpen}
}

func TestPostValidationCollectsAllViolations(t *testing.T) {
	l := newMemLedger()
	orch := newTestOrchestrator(l, newMemHeaders(), &memAudit{}, Config{BatchTracking: true})

	lines := []Line{
		{ItemCode: "A", UOM: "EA", CountedQty: 10, Confirmed: true,
			Breakdown: Breakdown{Specific: true, Entries: []BatchEntry{{BatchNo: "B1", CountedQty: 7}}}},
		{ItemCode: "B", UOM: "EA", CountedQty: 5, Confirmed: true,
			Breakdown: Breakdown{Specific: true, Entries: []BatchEntry{{BatchNo: "B2", CountedQty: 9}}}},
	}

	_, err := orch.Post(context.Background(), postHeader(), lines, 1)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Len(t, vErr.Violations, 2)
	require.Contains(t, vErr.Violations[0], "item A")
	require.Contains(t, vErr.Violations[1], "item B")

	// Nothing was written.
	require.Empty(t, l.txs)
	require.Empty(t, l.txRows)
}

func TestPostRejectsWithoutConfirmedLines(t *testing.T) {
	orch := newTestOrchestrator(newMemLedger(), newMemHeaders(), &memAudit{}, Config{})

	_, err := orch.Post(context.Background(), postHeader(), []Line{{ItemCode: "A", Confirmed: false}}, 1)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Violations[0], "no confirmed lines")
}

func TestPostHappyPathWithBatchBreakdown(t *testing.T) {
	l := newMemLedger(
		batchRow("SKU-1", "S01", "EA", "B1", nil, 24),
		batchRow("SKU-1", "S01", "EA", "B2", nil, 21),
	)
	headers := newMemHeaders()
	audit := &memAudit{}
	orch := newTestOrchestrator(l, headers, audit, Config{BatchTracking: true})

	lines := []Line{{
		ItemCode: "SKU-1", UOM: "EA", UnitPrice: 3,
		CountedQty: 45, SystemQty: 45, Confirmed: true,
		Breakdown: Breakdown{Specific: true, Entries: []BatchEntry{
			{BatchNo: "B1", CountedQty: 25},
			{BatchNo: "B2", CountedQty: 20},
		}},
	}}

	result, err := orch.Post(context.Background(), postHeader(), lines, 7)
	require.NoError(t, err)
	require.False(t, result.AlreadyPosted)
	require.True(t, result.HeaderPosted)
	require.Empty(t, result.Warnings)

	require.Len(t, l.txs, 1)
	require.InDelta(t, 0, l.txs[0].Variance, 1e-9)
	require.InDelta(t, 45, l.txs[0].Balance, 1e-9)
	require.Equal(t, "B1,B2", l.txs[0].BatchSummary)
	require.Equal(t, int64(7), l.txs[0].PostedBy)

	// One per-batch audit row per entry, zero-variance ones included.
	require.Len(t, l.txRows, 2)
	require.InDelta(t, 1, l.txRows[0].Variance, 1e-9)
	require.InDelta(t, -1, l.txRows[1].Variance, 1e-9)

	// Batch quantities now equal the counted quantities.
	require.InDelta(t, 25, l.batches[0].Qty, 1e-9)
	require.InDelta(t, 20, l.batches[1].Qty, 1e-9)

	require.Equal(t, int64(7), headers.posted["STK-S01-000001"])
	require.True(t, audit.has("stocktake:post"))

	require.Len(t, result.Items, 1)
	require.Len(t, result.Items[0].Steps, 5)
}

func TestPostSkipsLedgerUpdateWithinTolerance(t *testing.T) {
	l := newMemLedger(batchRow("SKU-1", "S01", "EA", "B1", nil, 25))
	orch := newTestOrchestrator(l, newMemHeaders(), &memAudit{}, Config{BatchTracking: true})

	lines := []Line{{
		ItemCode: "SKU-1", UOM: "EA", CountedQty: 25, SystemQty: 25, Confirmed: true,
		Breakdown: Breakdown{Specific: true, Entries: []BatchEntry{{BatchNo: "B1", CountedQty: 25}}},
	}}

	result, err := orch.Post(context.Background(), postHeader(), lines, 1)
	require.NoError(t, err)
	require.Empty(t, result.Warnings)

	// The transaction trail exists even when no quantity moved.
	require.Len(t, l.txs, 1)
	require.Len(t, l.txRows, 1)
	require.InDelta(t, 25, l.batches[0].Qty, 1e-9)
	for _, step := range result.Items[0].Steps {
		require.NotEqual(t, "batch_update", step.Step)
	}
}

func TestPostCreatesUnknownBatch(t *testing.T) {
	l := newMemLedger()
	orch := newTestOrchestrator(l, newMemHeaders(), &memAudit{}, Config{BatchTracking: true})

	lines := []Line{{
		ItemCode: "SKU-1", UOM: "EA", UnitPrice: 2.5,
		CountedQty: 5, SystemQty: 0, Confirmed: true,
		Breakdown: Breakdown{Specific: true, Entries: []BatchEntry{{BatchNo: "NEW-1", Expiry: dateRef(2027, 1, 1), CountedQty: 5}}},
	}}

	result, err := orch.Post(context.Background(), postHeader(), lines, 1)
	require.NoError(t, err)
	require.Empty(t, result.Warnings)

	require.Len(t, l.batches, 1)
	created := l.batches[0]
	require.Equal(t, "NEW-1", created.Key.BatchNo)
	require.Equal(t, "S01", created.Key.SiteCode)
	require.InDelta(t, 5, created.Qty, 1e-9)
	require.InDelta(t, 12.5, created.Cost, 1e-9)
}

func TestPostDuplicateConvergesWithoutWrites(t *testing.T) {
	l := newMemLedger()
	l.txs = append(l.txs, ledger.TransactionRecord{ID: 1, DocNo: "STK-S01-000001", SiteCode: "S01"})
	headers := newMemHeaders()
	orch := newTestOrchestrator(l, headers, &memAudit{}, Config{})

	lines := []Line{{ItemCode: "SKU-1", UOM: "EA", CountedQty: 9, Confirmed: true}}
	result, err := orch.Post(context.Background(), postHeader(), lines, 1)
	require.NoError(t, err)
	require.True(t, result.AlreadyPosted)
	require.True(t, result.HeaderPosted)
	require.Empty(t, result.Items)
	require.Len(t, l.txs, 1)
	require.Empty(t, l.txRows)
	require.Contains(t, headers.posted, "STK-S01-000001")
}

func TestPostPartialFailureContinuesAndWarns(t *testing.T) {
	l := newMemLedger(
		batchRow("SKU-1", "S01", "EA", "B1", nil, 10),
		batchRow("SKU-1", "S01", "EA", "B2", nil, 10),
	)
	l.fail("create_tx_batch:B1", errors.New("write rejected"))
	headers := newMemHeaders()
	audit := &memAudit{}
	orch := newTestOrchestrator(l, headers, audit, Config{BatchTracking: true})

	lines := []Line{{
		ItemCode: "SKU-1", UOM: "EA", CountedQty: 24, SystemQty: 20, Confirmed: true,
		Breakdown: Breakdown{Specific: true, Entries: []BatchEntry{
			{BatchNo: "B1", CountedQty: 12},
			{BatchNo: "B2", CountedQty: 12},
		}},
	}}

	result, err := orch.Post(context.Background(), postHeader(), lines, 1)
	require.NoError(t, err)
	require.True(t, result.Failed())
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], `batch "B1"`)

	// The independent B2 writes still went through, and the header flipped.
	require.Len(t, l.txRows, 1)
	require.Equal(t, "B2", l.txRows[0].BatchNo)
	require.InDelta(t, 12, l.batches[1].Qty, 1e-9)
	require.True(t, result.HeaderPosted)
	require.Contains(t, headers.posted, "STK-S01-000001")
	require.True(t, audit.has("stocktake:post:warning"))
}

func TestPostHeaderUpdateFailureIsAnError(t *testing.T) {
	l := newMemLedger()
	headers := newMemHeaders()
	headers.err = fmt.Errorf("header locked")
	orch := newTestOrchestrator(l, headers, &memAudit{}, Config{})

	lines := []Line{{ItemCode: "SKU-1", UOM: "EA", CountedQty: 3, Confirmed: true}}
	result, err := orch.Post(context.Background(), postHeader(), lines, 1)
	require.Error(t, err)
	require.False(t, result.HeaderPosted)
	// Ledger writes had already happened before the header step.
	require.Len(t, l.txs, 1)
}
