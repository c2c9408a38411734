package stocktake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/platform/db"
)

// Repository persists stock take documents in PostgreSQL. New lines are
// written one row per (item, UOM) with the breakdown in memo columns; loads
// also understand the old row-per-batch format.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateHeader inserts a new document header.
func (r *Repository) CreateHeader(ctx context.Context, h Header) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stock_takes (doc_no, doc_date, site_code, status, remark, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.DocNo, h.DocDate, h.SiteCode, h.Status, h.Remark, h.CreatedBy, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("stocktake: create header %s: %w", h.DocNo, err)
	}
	return nil
}

// GetHeader fetches one header by document number.
func (r *Repository) GetHeader(ctx context.Context, docNo string) (Header, error) {
	var h Header
	err := r.pool.QueryRow(ctx, `
		SELECT doc_no, doc_date, site_code, status, remark, created_by, created_at, posted_at, posted_by
		FROM stock_takes WHERE doc_no = $1`, docNo).
		Scan(&h.DocNo, &h.DocDate, &h.SiteCode, &h.Status, &h.Remark, &h.CreatedBy, &h.CreatedAt, &h.PostedAt, &h.PostedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Header{}, ErrNotFound
		}
		return Header{}, err
	}
	return h, nil
}

// ListHeaders returns headers, newest first.
func (r *Repository) ListHeaders(ctx context.Context, siteCode string, status Status, limit, offset int) ([]Header, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT doc_no, doc_date, site_code, status, remark, created_by, created_at, posted_at, posted_by
		FROM stock_takes
		WHERE ($1 = '' OR site_code = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, siteCode, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var headers []Header
	for rows.Next() {
		var h Header
		if err := rows.Scan(&h.DocNo, &h.DocDate, &h.SiteCode, &h.Status, &h.Remark, &h.CreatedBy, &h.CreatedAt, &h.PostedAt, &h.PostedBy); err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// UpdateRemark edits the free-text remark of an open document.
func (r *Repository) UpdateRemark(ctx context.Context, docNo, remark string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE stock_takes SET remark = $2 WHERE doc_no = $1 AND status = $3`, docNo, remark, StatusOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an open document and its lines.
func (r *Repository) Delete(ctx context.Context, docNo string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stock_take_lines WHERE doc_no = $1`, docNo); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM stock_takes WHERE doc_no = $1 AND status = $2`, docNo, StatusOpen)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ReplaceLines swaps the stored lines of a document. Lines are written in
// the current single-row format with the breakdown flattened to memo fields.
func (r *Repository) ReplaceLines(ctx context.Context, docNo string, lines []Line) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stock_take_lines WHERE doc_no = $1`, docNo); err != nil {
			return err
		}
		for _, line := range lines {
			memo := EncodeBreakdown(line.Breakdown)
			_, err := tx.Exec(ctx, `
				INSERT INTO stock_take_lines
					(doc_no, item_code, description, uom, counted_qty, system_qty, unit_price, remark, confirmed,
					 batch_no, expiry_date, memo1, memo2, memo3, memo4)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', NULL, $10, $11, $12, $13)`,
				docNo, line.ItemCode, line.Description, line.UOM, line.CountedQty, line.SystemQty,
				line.UnitPrice, line.Remark, line.Confirmed, memo.M1, memo.M2, memo.M3, memo.M4)
			if err != nil {
				return fmt.Errorf("stocktake: insert line %s: %w", line.ItemCode, err)
			}
		}
		return nil
	})
}

// LoadStoredLines reads the raw rows, both storage generations included.
func (r *Repository) LoadStoredLines(ctx context.Context, docNo string) ([]StoredLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, item_code, description, uom, counted_qty, system_qty, unit_price, remark, confirmed,
		       batch_no, expiry_date, memo1, memo2, memo3, memo4
		FROM stock_take_lines WHERE doc_no = $1 ORDER BY id`, docNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stored []StoredLine
	for rows.Next() {
		var s StoredLine
		if err := rows.Scan(&s.ID, &s.ItemCode, &s.Description, &s.UOM, &s.CountedQty, &s.SystemQty,
			&s.UnitPrice, &s.Remark, &s.Confirmed, &s.BatchNo, &s.Expiry,
			&s.Memo.M1, &s.Memo.M2, &s.Memo.M3, &s.Memo.M4); err != nil {
			return nil, err
		}
		stored = append(stored, s)
	}
	return stored, rows.Err()
}

// LoadLines resolves stored rows to canonical lines. The storage format is
// decided here, once; callers never see memo fields or legacy rows.
func (r *Repository) LoadLines(ctx context.Context, docNo string) ([]Line, error) {
	stored, err := r.LoadStoredLines(ctx, docNo)
	if err != nil {
		return nil, err
	}
	lines := CanonicalLines(GroupSources(stored))
	for i := range lines {
		lines[i].DocNo = docNo
	}
	return lines, nil
}

// MarkPosted flips an open document to Posted, recording timestamp and
// poster. Already-posted documents are left untouched; the call still
// succeeds so retried posts converge.
func (r *Repository) MarkPosted(ctx context.Context, docNo string, at time.Time, by int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE stock_takes SET status = $2, posted_at = $3, posted_by = $4
		WHERE doc_no = $1 AND status = $5`, docNo, StatusPosted, at, by, StatusOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status Status
		if err := r.pool.QueryRow(ctx, `SELECT status FROM stock_takes WHERE doc_no = $1`, docNo).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if status != StatusPosted {
			return fmt.Errorf("stocktake: mark posted %s: unexpected status %s", docNo, status)
		}
	}
	return nil
}
