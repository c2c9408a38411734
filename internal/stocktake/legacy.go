package stocktake

import "time"

// StoredLine is a raw stock_take_lines row. Two storage generations exist:
// the old writer stored one row per counted batch with the batch columns
// filled, the current writer stores one row per (item, UOM) with the
// breakdown in memo fields. StoredLine carries both shapes.
type StoredLine struct {
	ID          int64
	ItemCode    string
	Description string
	UOM         string
	CountedQty  float64
	SystemQty   float64
	UnitPrice   float64
	Remark      string
	Confirmed   bool
	BatchNo     string
	Expiry      *time.Time
	Memo        Memo
}

type sourceKind int

const (
	sourceMemoRow sourceKind = iota
	sourceLegacyRows
)

// LineSource is the tagged union of the two storage formats for one logical
// (item, UOM). It is resolved to a canonical Line exactly once at load time;
// nothing downstream branches on the stored format again.
type LineSource struct {
	kind sourceKind
	rows []StoredLine
}

// GroupSources buckets raw rows into per-(item, UOM) sources, preserving
// first-seen order. More than one row for the same key means the old
// row-per-batch format.
func GroupSources(rows []StoredLine) []LineSource {
	type key struct{ item, uom string }
	index := make(map[key]int)
	var sources []LineSource
	for _, row := range rows {
		k := key{row.ItemCode, row.UOM}
		if i, ok := index[k]; ok {
			sources[i].rows = append(sources[i].rows, row)
			sources[i].kind = sourceLegacyRows
			continue
		}
		index[k] = len(sources)
		sources = append(sources, LineSource{kind: sourceMemoRow, rows: []StoredLine{row}})
	}
	return sources
}

// Canonical resolves the source into the internal line shape.
func (s LineSource) Canonical() Line {
	first := s.rows[0]
	line := Line{
		ID:          first.ID,
		ItemCode:    first.ItemCode,
		Description: first.Description,
		UOM:         first.UOM,
		UnitPrice:   first.UnitPrice,
		Remark:      first.Remark,
		Confirmed:   first.Confirmed,
	}
	if s.kind == sourceMemoRow {
		line.CountedQty = first.CountedQty
		line.SystemQty = first.SystemQty
		line.Breakdown = DecodeBreakdown(first.Memo, first.BatchNo, NormalizeExpiry(first.Expiry), first.CountedQty)
		return line
	}

	// Old format: one stored row per batch. Merge into a single logical line
	// whose breakdown has one entry per row.
	breakdown := Breakdown{Specific: true}
	for _, row := range s.rows {
		line.CountedQty += row.CountedQty
		line.SystemQty += row.SystemQty
		breakdown.Entries = append(breakdown.Entries, BatchEntry{
			BatchNo:    row.BatchNo,
			Expiry:     NormalizeExpiry(row.Expiry),
			SystemQty:  row.SystemQty,
			CountedQty: row.CountedQty,
		})
	}
	line.Breakdown = breakdown
	return line
}

// CanonicalLines resolves every source in order.
func CanonicalLines(sources []LineSource) []Line {
	lines := make([]Line, 0, len(sources))
	for _, src := range sources {
		lines = append(lines, src.Canonical())
	}
	return lines
}
