package catalog

import "errors"

// Item is a catalog entry eligible for counting. One row per (code, UOM).
type Item struct {
	ID          int64
	Code        string
	Description string
	UOM         string
	UnitPrice   float64
	BrandCode   string
	RangeCode   string
	Active      bool
}

// Site describes a store/warehouse location.
type Site struct {
	Code string
	Name string
}

// Filter narrows item searches. Changing any field invalidates a counting
// selection built from a previous result set.
type Filter struct {
	Search    string
	BrandCode string
	RangeCode string
	Limit     int
	Offset    int
}

// Fingerprint returns a stable identity for the filter, used to detect
// criteria changes while a counting session is in progress.
func (f Filter) Fingerprint() string {
	return f.Search + "|" + f.BrandCode + "|" + f.RangeCode
}

var (
	// ErrItemNotFound indicates a missing catalog entry.
	ErrItemNotFound = errors.New("catalog: item not found")
	// ErrSiteNotFound indicates an unknown site code.
	ErrSiteNotFound = errors.New("catalog: site not found")
)
