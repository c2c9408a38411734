package adjustment

import (
	"errors"
	"time"
)

// Status enumerates adjustment document lifecycle values.
type Status string

const (
	// StatusOpen indicates the adjustment awaits review/posting.
	StatusOpen Status = "OPEN"
	// StatusPosted indicates the adjustment was applied.
	StatusPosted Status = "POSTED"
)

// Document is a stock adjustment. Documents generated by the stock take
// engine are flagged SystemGenerated and cross-referenced to the originating
// stock take number.
type Document struct {
	DocNo           string    `json:"doc_no"`
	SiteCode        string    `json:"site_code"`
	Status          Status    `json:"status"`
	Remark          string    `json:"remark"`
	SourceDocNo     string    `json:"source_doc_no,omitempty"`
	SystemGenerated bool      `json:"system_generated"`
	CreatedBy       int64     `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	Lines           []Line    `json:"lines,omitempty"`
}

// Line carries the absolute adjustment quantity; the signed variance that
// produced it is retained as a reference value.
type Line struct {
	ID             int64   `json:"id"`
	DocNo          string  `json:"doc_no"`
	ItemCode       string  `json:"item_code"`
	Description    string  `json:"description"`
	UOM            string  `json:"uom"`
	Qty            float64 `json:"qty"`
	SignedVariance float64 `json:"signed_variance"`
	UnitPrice      float64 `json:"unit_price"`
}

// ErrNotFound indicates a missing adjustment document.
var ErrNotFound = errors.New("adjustment: document not found")
