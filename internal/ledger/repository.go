package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindBatches returns every batch row for the item at the site. A missing
// item yields an empty slice, never an error; brand-new batches are counted
// against zero.
func (r *Repository) FindBatches(ctx context.Context, itemCode, siteCode, uom string) ([]BatchRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, item_code, site_code, uom, batch_no, expiry_date, qty, cost, updated_at
		FROM item_batches
		WHERE item_code = $1 AND site_code = $2 AND uom = $3`, itemCode, siteCode, uom)
	if err != nil {
		return nil, fmt.Errorf("ledger: find batches: %w", err)
	}
	defer rows.Close()

	var records []BatchRecord
	for rows.Next() {
		var rec BatchRecord
		if err := rows.Scan(&rec.ID, &rec.Key.ItemCode, &rec.Key.SiteCode, &rec.Key.UOM,
			&rec.Key.BatchNo, &rec.Key.Expiry, &rec.Qty, &rec.Cost, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListTransactions returns transaction records for (doc number, site). A
// non-empty result means the document already posted.
func (r *Repository) ListTransactions(ctx context.Context, docNo, siteCode string) ([]TransactionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doc_no, site_code, item_code, uom, variance, balance, batch_summary, posted_at, posted_by
		FROM stock_transactions
		WHERE doc_no = $1 AND site_code = $2`, docNo, siteCode)
	if err != nil {
		return nil, fmt.Errorf("ledger: list transactions: %w", err)
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		var rec TransactionRecord
		if err := rows.Scan(&rec.ID, &rec.DocNo, &rec.SiteCode, &rec.ItemCode, &rec.UOM,
			&rec.Variance, &rec.Balance, &rec.BatchSummary, &rec.PostedAt, &rec.PostedBy); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CreateTransactions inserts the records and returns them with assigned ids.
func (r *Repository) CreateTransactions(ctx context.Context, records []TransactionRecord) ([]TransactionRecord, error) {
	out := make([]TransactionRecord, 0, len(records))
	for _, rec := range records {
		err := r.pool.QueryRow(ctx, `
			INSERT INTO stock_transactions (doc_no, site_code, item_code, uom, variance, balance, batch_summary, posted_at, posted_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			rec.DocNo, rec.SiteCode, rec.ItemCode, rec.UOM, rec.Variance, rec.Balance,
			rec.BatchSummary, rec.PostedAt, rec.PostedBy).Scan(&rec.ID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return out, fmt.Errorf("%w: %s/%s", ErrDuplicate, rec.ItemCode, rec.UOM)
			}
			return out, fmt.Errorf("%w: transaction %s/%s: %v", ErrWriteRejected, rec.ItemCode, rec.UOM, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// CreateTransactionBatch inserts one per-batch audit row.
func (r *Repository) CreateTransactionBatch(ctx context.Context, rec TransactionBatchRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stock_transaction_batches (transaction_id, batch_no, expiry_date, counted_qty, system_qty, variance)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TransactionID, rec.BatchNo, rec.Expiry, rec.CountedQty, rec.SystemQty, rec.Variance)
	if err != nil {
		return fmt.Errorf("%w: transaction batch %q: %v", ErrWriteRejected, rec.BatchNo, err)
	}
	return nil
}

// UpdateBatchQty sets the on-hand quantity of an existing batch row.
func (r *Repository) UpdateBatchQty(ctx context.Context, id int64, qty float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE item_batches SET qty = $2, updated_at = $3 WHERE id = $1`, id, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: batch update id=%d: %v", ErrWriteRejected, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: batch update id=%d: no row", ErrWriteRejected, id)
	}
	return nil
}

// CreateBatch inserts a new batch row, used when a counted batch has no prior
// ledger presence.
func (r *Repository) CreateBatch(ctx context.Context, rec BatchRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO item_batches (item_code, site_code, uom, batch_no, expiry_date, qty, cost, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Key.ItemCode, rec.Key.SiteCode, rec.Key.UOM, rec.Key.BatchNo, rec.Key.Expiry,
		rec.Qty, rec.Cost, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: batch create %s/%q: %v", ErrWriteRejected, rec.Key.ItemCode, rec.Key.BatchNo, err)
	}
	return nil
}
