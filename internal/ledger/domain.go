package ledger

import (
	"errors"
	"time"
)

// BatchKey is the composite identity of a batch ledger row.
type BatchKey struct {
	ItemCode string
	SiteCode string
	UOM      string
	BatchNo  string
	Expiry   *time.Time
}

// BatchRecord is one on-hand row in the batch ledger. Multiple rows may share
// a batch number; consumers sum them.
type BatchRecord struct {
	ID        int64
	Key       BatchKey
	Qty       float64
	Cost      float64
	UpdatedAt time.Time
}

// TransactionRecord is the per-item movement created when a stock take posts.
// At most one set exists per (doc number, site); that pair is the idempotency
// key for posting.
type TransactionRecord struct {
	ID           int64
	DocNo        string
	SiteCode     string
	ItemCode     string
	UOM          string
	Variance     float64
	Balance      float64
	BatchSummary string
	PostedAt     time.Time
	PostedBy     int64
}

// TransactionBatchRecord is the per-batch audit row under a TransactionRecord.
// Zero-variance batches get one too.
type TransactionBatchRecord struct {
	ID            int64
	TransactionID int64
	BatchNo       string
	Expiry        *time.Time
	CountedQty    float64
	SystemQty     float64
	Variance      float64
}

var (
	// ErrWriteRejected wraps ledger write failures so callers can
	// distinguish them from lookup errors.
	ErrWriteRejected = errors.New("ledger: write rejected")
	// ErrDuplicate reports a transaction insert that lost a race against
	// a concurrent post of the same document line.
	ErrDuplicate = errors.New("ledger: transaction already exists")
)
