package stocktake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/stocklane/stocklane/internal/adjustment"
	"github.com/stocklane/stocklane/internal/shared"
)

// AdjustmentPort creates compensating adjustment documents.
type AdjustmentPort interface {
	Create(ctx context.Context, doc adjustment.Document) (adjustment.Document, error)
}

// NumberPort allocates document numbers.
type NumberPort interface {
	Next(ctx context.Context, docType, siteCode string) (string, error)
}

// IdempotencyPort guards operations that may be retried.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// LineLoader loads the canonical lines of a stored document.
type LineLoader interface {
	LoadLines(ctx context.Context, docNo string) ([]Line, error)
}

// AdjustmentGenerator derives a compensating adjustment document from the
// variances a posted stock take produced. It runs after a successful post,
// typically from a background task, so it must tolerate retries.
type AdjustmentGenerator struct {
	ledger      LedgerReader
	lines       LineLoader
	adjustments AdjustmentPort
	numbers     NumberPort
	idempotency IdempotencyPort
	logger      *slog.Logger
	cfg         Config
}

// NewAdjustmentGenerator constructs the generator.
func NewAdjustmentGenerator(reader LedgerReader, lines LineLoader, adjustments AdjustmentPort, numbers NumberPort, idem IdempotencyPort, logger *slog.Logger, cfg Config) *AdjustmentGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdjustmentGenerator{
		ledger:      reader,
		lines:       lines,
		adjustments: adjustments,
		numbers:     numbers,
		idempotency: idem,
		logger:      logger,
		cfg:         cfg.Normalize(),
	}
}

// Generate re-reads the posted transaction records, keeps real variances,
// and creates one adjustment document cross-referenced to the stock take.
// "No variances found" returns (nil, nil): a normal, non-error outcome. A
// repeated call for the same document is a no-op.
func (g *AdjustmentGenerator) Generate(ctx context.Context, docNo, siteCode string, actorID int64) (*adjustment.Document, error) {
	key := shared.AdjustmentKey(docNo, siteCode)
	if g.idempotency != nil {
		if err := g.idempotency.CheckAndInsert(ctx, key, "stocktake.adjustment"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				g.logger.Info("adjustment already generated", slog.String("doc_no", docNo))
				return nil, nil
			}
			return nil, err
		}
	}
	doc, err := g.generate(ctx, docNo, siteCode, actorID)
	if err != nil && g.idempotency != nil {
		_ = g.idempotency.Delete(ctx, key)
	}
	return doc, err
}

func (g *AdjustmentGenerator) generate(ctx context.Context, docNo, siteCode string, actorID int64) (*adjustment.Document, error) {
	transactions, err := g.ledger.ListTransactions(ctx, docNo, siteCode)
	if err != nil {
		return nil, fmt.Errorf("stocktake: read posted transactions: %w", err)
	}

	lines, err := g.lines.LoadLines(ctx, docNo)
	if err != nil {
		return nil, err
	}
	detail := make(map[string]Line, len(lines))
	for _, line := range lines {
		detail[line.ItemCode+"|"+line.UOM] = line
	}

	var adjLines []adjustment.Line
	for _, tx := range transactions {
		if !g.cfg.Exceeds(tx.Variance) {
			continue
		}
		line := adjustment.Line{
			ItemCode:       tx.ItemCode,
			UOM:            tx.UOM,
			Qty:            math.Abs(tx.Variance),
			SignedVariance: tx.Variance,
		}
		if src, ok := detail[tx.ItemCode+"|"+tx.UOM]; ok {
			line.Description = src.Description
			line.UnitPrice = src.UnitPrice
		}
		adjLines = append(adjLines, line)
	}
	if len(adjLines) == 0 {
		g.logger.Info("no variances found, skipping adjustment", slog.String("doc_no", docNo))
		return nil, nil
	}

	number, err := g.numbers.Next(ctx, "ADJ", siteCode)
	if err != nil {
		return nil, err
	}
	doc := adjustment.Document{
		DocNo:           number,
		SiteCode:        siteCode,
		Status:          adjustment.StatusOpen,
		Remark:          fmt.Sprintf("Auto-generated from stock take %s", docNo),
		SourceDocNo:     docNo,
		SystemGenerated: true,
		CreatedBy:       actorID,
		Lines:           adjLines,
	}
	created, err := g.adjustments.Create(ctx, doc)
	if err != nil {
		return nil, err
	}
	g.logger.Info("adjustment generated",
		slog.String("doc_no", created.DocNo),
		slog.String("source", docNo),
		slog.Int("lines", len(created.Lines)))
	return &created, nil
}
