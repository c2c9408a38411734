package adjustment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/platform/db"
)

// Repository persists adjustment documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the document and its lines atomically.
func (r *Repository) Create(ctx context.Context, doc Document) (Document, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO adjustments (doc_no, site_code, status, remark, source_doc_no, system_generated, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			doc.DocNo, doc.SiteCode, doc.Status, doc.Remark, doc.SourceDocNo, doc.SystemGenerated, doc.CreatedBy, doc.CreatedAt)
		if err != nil {
			return err
		}
		for i := range doc.Lines {
			line := &doc.Lines[i]
			line.DocNo = doc.DocNo
			err := tx.QueryRow(ctx, `
				INSERT INTO adjustment_lines (doc_no, item_code, description, uom, qty, signed_variance, unit_price)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id`,
				line.DocNo, line.ItemCode, line.Description, line.UOM, line.Qty, line.SignedVariance, line.UnitPrice).
				Scan(&line.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("adjustment: create %s: %w", doc.DocNo, err)
	}
	return doc, nil
}

// Get fetches one document with lines.
func (r *Repository) Get(ctx context.Context, docNo string) (Document, error) {
	var doc Document
	err := r.pool.QueryRow(ctx, `
		SELECT doc_no, site_code, status, remark, source_doc_no, system_generated, created_by, created_at
		FROM adjustments WHERE doc_no = $1`, docNo).
		Scan(&doc.DocNo, &doc.SiteCode, &doc.Status, &doc.Remark, &doc.SourceDocNo, &doc.SystemGenerated, &doc.CreatedBy, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, doc_no, item_code, description, uom, qty, signed_variance, unit_price
		FROM adjustment_lines WHERE doc_no = $1 ORDER BY id`, docNo)
	if err != nil {
		return Document{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DocNo, &line.ItemCode, &line.Description, &line.UOM,
			&line.Qty, &line.SignedVariance, &line.UnitPrice); err != nil {
			return Document{}, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

// List returns documents for a site, newest first.
func (r *Repository) List(ctx context.Context, siteCode string, limit, offset int) ([]Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT doc_no, site_code, status, remark, source_doc_no, system_generated, created_by, created_at
		FROM adjustments
		WHERE ($1 = '' OR site_code = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, siteCode, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.DocNo, &doc.SiteCode, &doc.Status, &doc.Remark, &doc.SourceDocNo,
			&doc.SystemGenerated, &doc.CreatedBy, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
