package stocktake

// Variance returns counted minus system. Positive means physical excess,
// negative means shortage.
func Variance(counted, system float64) float64 {
	return counted - system
}

// Totals aggregates per-line values across a document.
type Totals struct {
	TotalCounted  float64 `json:"total_counted"`
	TotalSystem   float64 `json:"total_system"`
	TotalVariance float64 `json:"total_variance"`
}

// Aggregate sums counted, system, and variance over the lines. Signs are
// carried through untouched.
func Aggregate(lines []Line) Totals {
	var t Totals
	for _, line := range lines {
		t.TotalCounted += line.CountedQty
		t.TotalSystem += line.SystemQty
		t.TotalVariance += Variance(line.CountedQty, line.SystemQty)
	}
	return t
}
