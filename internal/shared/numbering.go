package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NumberAllocator hands out document numbers from per-(doc type, site)
// sequences, e.g. "STK-HQ-000042".
type NumberAllocator struct {
	pool *pgxpool.Pool
}

// NewNumberAllocator constructs the allocator.
func NewNumberAllocator(pool *pgxpool.Pool) *NumberAllocator {
	return &NumberAllocator{pool: pool}
}

// Next allocates and returns the next document number. The sequence row is
// created on first use.
func (n *NumberAllocator) Next(ctx context.Context, docType, siteCode string) (string, error) {
	if n == nil {
		return "", errors.New("number allocator not initialised")
	}
	if docType == "" || siteCode == "" {
		return "", errors.New("doc type and site required")
	}
	var next int64
	err := n.pool.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, site_code, next_value)
		VALUES ($1, $2, 2)
		ON CONFLICT (doc_type, site_code)
		DO UPDATE SET next_value = document_sequences.next_value + 1
		RETURNING next_value - 1`, docType, siteCode).Scan(&next)
	if err != nil {
		return "", fmt.Errorf("shared: allocate %s number: %w", docType, err)
	}
	return fmt.Sprintf("%s-%s-%06d", docType, siteCode, next), nil
}
