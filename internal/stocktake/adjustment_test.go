package stocktake

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/adjustment"
	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/shared"
)

type memAdjustments struct {
	created []adjustment.Document
	err     error
}

func (a *memAdjustments) Create(ctx context.Context, doc adjustment.Document) (adjustment.Document, error) {
	if a.err != nil {
		return adjustment.Document{}, a.err
	}
	a.created = append(a.created, doc)
	return doc, nil
}

type memNumbers struct{ next int }

func (n *memNumbers) Next(ctx context.Context, docType, siteCode string) (string, error) {
	n.next++
	return fmt.Sprintf("%s-%s-%06d", docType, siteCode, n.next), nil
}

type memIdempotency struct {
	keys map[string]bool
}

func newMemIdempotency() *memIdempotency { return &memIdempotency{keys: make(map[string]bool)} }

func (m *memIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type memLines struct{ lines []Line }

func (m *memLines) LoadLines(ctx context.Context, docNo string) ([]Line, error) {
	return m.lines, nil
}

func postedTransactions(variances ...float64) *memLedger {
	l := newMemLedger()
	for i, v := range variances {
		l.txs = append(l.txs, ledger.TransactionRecord{
			ID: int64(i + 1), DocNo: "STK-S01-000001", SiteCode: "S01",
			ItemCode: fmt.Sprintf("SKU-%d", i+1), UOM: "EA", Variance: v,
		})
	}
	return l
}

func TestGenerateAdjustmentKeepsRealVariances(t *testing.T) {
	l := postedTransactions(3, -2, 0)
	adj := &memAdjustments{}
	lines := &memLines{lines: []Line{
		{ItemCode: "SKU-1", UOM: "EA", Description: "Widget", UnitPrice: 1.5},
		{ItemCode: "SKU-2", UOM: "EA", Description: "Gadget", UnitPrice: 4},
	}}
	gen := NewAdjustmentGenerator(l, lines, adj, &memNumbers{}, newMemIdempotency(), nil, Config{})

	doc, err := gen.Generate(context.Background(), "STK-S01-000001", "S01", 9)
	require.NoError(t, err)
	require.NotNil(t, doc)

	require.Equal(t, "ADJ-S01-000001", doc.DocNo)
	require.Equal(t, adjustment.StatusOpen, doc.Status)
	require.True(t, doc.SystemGenerated)
	require.Equal(t, "STK-S01-000001", doc.SourceDocNo)
	require.Equal(t, int64(9), doc.CreatedBy)

	// The zero-variance item is excluded; quantities are absolute with the
	// signed variance retained.
	require.Len(t, doc.Lines, 2)
	require.InDelta(t, 3, doc.Lines[0].Qty, 1e-9)
	require.InDelta(t, 3, doc.Lines[0].SignedVariance, 1e-9)
	require.Equal(t, "Widget", doc.Lines[0].Description)
	require.InDelta(t, 1.5, doc.Lines[0].UnitPrice, 1e-9)
	require.InDelta(t, 2, doc.Lines[1].Qty, 1e-9)
	require.InDelta(t, -2, doc.Lines[1].SignedVariance, 1e-9)
}

func TestGenerateAdjustmentNoVariances(t *testing.T) {
	l := postedTransactions(0, 0.01, -0.005)
	adj := &memAdjustments{}
	gen := NewAdjustmentGenerator(l, &memLines{}, adj, &memNumbers{}, newMemIdempotency(), nil, Config{})

	doc, err := gen.Generate(context.Background(), "STK-S01-000001", "S01", 1)
	require.NoError(t, err)
	require.Nil(t, doc)
	require.Empty(t, adj.created)
}

func TestGenerateAdjustmentIdempotentRetry(t *testing.T) {
	l := postedTransactions(5)
	adj := &memAdjustments{}
	gen := NewAdjustmentGenerator(l, &memLines{}, adj, &memNumbers{}, newMemIdempotency(), nil, Config{})

	first, err := gen.Generate(context.Background(), "STK-S01-000001", "S01", 1)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Redelivered task: same document, no duplicate adjustment.
	second, err := gen.Generate(context.Background(), "STK-S01-000001", "S01", 1)
	require.NoError(t, err)
	require.Nil(t, second)
	require.Len(t, adj.created, 1)
}

func TestGenerateAdjustmentReleasesKeyOnFailure(t *testing.T) {
	l := postedTransactions(5)
	adj := &memAdjustments{err: errors.New("insert failed")}
	idem := newMemIdempotency()
	gen := NewAdjustmentGenerator(l, &memLines{}, adj, &memNumbers{}, idem, nil, Config{})

	_, err := gen.Generate(context.Background(), "STK-S01-000001", "S01", 1)
	require.Error(t, err)
	require.Empty(t, idem.keys)

	// The key was released, so the retry can succeed.
	adj.err = nil
	doc, err := gen.Generate(context.Background(), "STK-S01-000001", "S01", 1)
	require.NoError(t, err)
	require.NotNil(t, doc)
}
