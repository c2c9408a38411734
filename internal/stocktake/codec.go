package stocktake

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Memo is the persisted shape of a line's batch breakdown. The four fields
// map onto generic memo columns:
//
//	M1 tags the line ("specific" or empty).
//	M2 holds "batchNo:qty" pairs joined by commas, in stable order.
//	M3 holds the "no batch" bucket quantity, default "0".
//	M4 holds "normalizedDate:qty" pairs aligned with M2 by index.
//
// M4 alignment is positional, never by value: two batches may carry the same
// counted quantity, so matching dates by value would misassign them.
type Memo struct {
	M1 string
	M2 string
	M3 string
	M4 string
}

const memoSpecific = "specific"

// dateFormat is the single calendar-date format used inside memo fields.
const dateFormat = "2006-01-02"

var dateLayouts = []string{
	dateFormat,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"02/01/2006 15:04:05",
	"2006/01/02",
}

// EncodeBreakdown flattens a breakdown into memo fields. The inverse is
// DecodeBreakdown; round-tripping preserves any well-formed entry list with
// unique (batchNo, expiry) pairs.
func EncodeBreakdown(b Breakdown) Memo {
	if !b.Specific {
		return Memo{M3: "0"}
	}
	var (
		batches []string
		expires []string
		noBatch = decimal.Zero
	)
	for _, e := range b.Entries {
		qty := decimal.NewFromFloat(e.CountedQty)
		if e.BatchNo == "" {
			noBatch = noBatch.Add(qty)
			continue
		}
		batches = append(batches, e.BatchNo+":"+qty.String())
		expires = append(expires, formatExpiry(e.Expiry)+":"+qty.String())
	}
	return Memo{
		M1: memoSpecific,
		M2: strings.Join(batches, ","),
		M3: noBatch.String(),
		M4: strings.Join(expires, ","),
	}
}

// DecodeBreakdown reverses EncodeBreakdown. For lines written before memo
// encoding existed (M1 empty) the primary batch columns of the stored row
// describe the single bucket. Malformed pairs are skipped, never fatal.
func DecodeBreakdown(m Memo, primaryBatchNo string, primaryExpiry *time.Time, countedQty float64) Breakdown {
	if m.M1 != memoSpecific {
		if primaryBatchNo == "" {
			return Breakdown{}
		}
		return Breakdown{
			Specific: true,
			Entries: []BatchEntry{{
				BatchNo:    primaryBatchNo,
				Expiry:     primaryExpiry,
				CountedQty: countedQty,
			}},
		}
	}

	b := Breakdown{Specific: true}
	expiries := splitPairs(m.M4)
	for i, pair := range splitPairs(m.M2) {
		batchNo, qty, ok := cutPair(pair)
		if !ok || batchNo == "" {
			continue
		}
		entry := BatchEntry{BatchNo: batchNo, CountedQty: qty}
		if i < len(expiries) {
			if dateStr, _, ok := cutRawPair(expiries[i]); ok {
				entry.Expiry = parseExpiry(dateStr)
			}
		}
		b.Entries = append(b.Entries, entry)
	}
	if noBatch, err := decimal.NewFromString(strings.TrimSpace(m.M3)); err == nil && !noBatch.IsZero() {
		b.Entries = append(b.Entries, BatchEntry{CountedQty: noBatch.InexactFloat64()})
	}
	return b
}

func splitPairs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// cutPair splits "key:qty" at the last colon and parses the quantity.
func cutPair(pair string) (string, float64, bool) {
	key, raw, ok := cutRawPair(pair)
	if !ok {
		return "", 0, false
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return "", 0, false
	}
	return key, qty.InexactFloat64(), true
}

func cutRawPair(pair string) (string, string, bool) {
	idx := strings.LastIndex(pair, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(pair[:idx]), strings.TrimSpace(pair[idx+1:]), true
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateFormat)
}

// parseExpiry tolerates date-with-time, slash-delimited, and already
// normalized inputs. Unparseable dates yield nil rather than an error.
func parseExpiry(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &day
		}
	}
	return nil
}

// NormalizeExpiry truncates a timestamp to its calendar date, matching the
// memo encoding.
func NormalizeExpiry(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}
