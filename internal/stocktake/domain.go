package stocktake

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Status enumerates stock take document lifecycle values.
type Status string

const (
	// StatusOpen indicates the document is still editable.
	StatusOpen Status = "OPEN"
	// StatusPosted indicates ledger side effects were applied; the document
	// is immutable from here on.
	StatusPosted Status = "POSTED"
)

// Header is the stock take document. The number is assigned by the document
// numbering service on first save.
type Header struct {
	DocNo     string
	DocDate   time.Time
	SiteCode  string
	Status    Status
	Remark    string
	CreatedBy int64
	CreatedAt time.Time
	PostedAt  *time.Time
	PostedBy  *int64
}

// Line is one counted (item, unit of measure). SystemQty is captured once at
// count time and never recomputed on later loads.
type Line struct {
	ID          int64
	DocNo       string
	ItemCode    string
	Description string
	UOM         string
	CountedQty  float64
	SystemQty   float64
	UnitPrice   float64
	Remark      string
	Confirmed   bool
	Breakdown   Breakdown
}

// BatchEntry is one bucket of a line's counted quantity. An empty batch
// number is the reserved "no batch" bucket. SystemQty is transient, resolved
// against the ledger by the matcher.
type BatchEntry struct {
	BatchNo    string     `json:"batch_no"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	SystemQty  float64    `json:"system_qty"`
	CountedQty float64    `json:"counted_qty"`
}

// Breakdown distributes a line's counted quantity across batches. Specific is
// false for lines without batch tracking; such lines carry no entries.
type Breakdown struct {
	Specific bool         `json:"specific"`
	Entries  []BatchEntry `json:"entries,omitempty"`
}

// Sum returns the counted quantity across all entries.
func (b Breakdown) Sum() float64 {
	var total float64
	for _, e := range b.Entries {
		total += e.CountedQty
	}
	return total
}

// Config carries the deployment flags and tolerances the engine needs.
// Injected explicitly; nothing reads ambient process state.
type Config struct {
	BatchTracking  bool
	ExpiryTracking bool
	Tolerance      float64
	LedgerTimeout  time.Duration
}

// DefaultTolerance absorbs floating point noise in quantity comparisons.
const DefaultTolerance = 0.01

// Normalize fills unset values with defaults.
func (c Config) Normalize() Config {
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = 10 * time.Second
	}
	return c
}

// Exceeds reports whether v is a real variance under the configured tolerance.
func (c Config) Exceeds(v float64) bool {
	return math.Abs(v) > c.Tolerance
}

var (
	// ErrNotFound indicates a missing document.
	ErrNotFound = errors.New("stocktake: document not found")
	// ErrAlreadyPosted indicates mutation of a posted document.
	ErrAlreadyPosted = errors.New("stocktake: document already posted")
	// ErrNoConfirmedLines indicates posting without any confirmed line.
	ErrNoConfirmedLines = errors.New("stocktake: no confirmed lines")
	// ErrNoSelection indicates proceeding from selection with nothing selected.
	ErrNoSelection = errors.New("stocktake: no items selected")
	// ErrSessionNotFound indicates a missing counting session.
	ErrSessionNotFound = errors.New("stocktake: counting session not found")
	// ErrSessionState indicates an operation invalid for the current phase.
	ErrSessionState = errors.New("stocktake: operation not valid in current phase")
)

// ValidationError collects every violation found before posting, so the
// operator can fix all of them in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stocktake: validation failed (%d violations)", len(e.Violations))
}
