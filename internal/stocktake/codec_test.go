package stocktake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dateRef(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestEncodeBreakdownSpecific(t *testing.T) {
	b := Breakdown{
		Specific: true,
		Entries: []BatchEntry{
			{BatchNo: "B1", Expiry: dateRef(2026, 3, 31), CountedQty: 25},
			{BatchNo: "B2", Expiry: dateRef(2026, 6, 30), CountedQty: 20},
		},
	}

	memo := EncodeBreakdown(b)
	require.Equal(t, "specific", memo.M1)
	require.Equal(t, "B1:25,B2:20", memo.M2)
	require.Equal(t, "0", memo.M3)
	require.Equal(t, "2026-03-31:25,2026-06-30:20", memo.M4)
}

func TestEncodeBreakdownNonSpecific(t *testing.T) {
	memo := EncodeBreakdown(Breakdown{})
	require.Equal(t, Memo{M3: "0"}, memo)
}

func TestEncodeBreakdownNoBatchBucket(t *testing.T) {
	b := Breakdown{
		Specific: true,
		Entries: []BatchEntry{
			{BatchNo: "B1", CountedQty: 10},
			{CountedQty: 4.5},
			{CountedQty: 0.5},
		},
	}

	memo := EncodeBreakdown(b)
	require.Equal(t, "B1:10", memo.M2)
	require.Equal(t, "5", memo.M3)
	require.Equal(t, ":10", memo.M4)
}

func TestDecodeBreakdownRoundTrip(t *testing.T) {
	orig := Breakdown{
		Specific: true,
		Entries: []BatchEntry{
			{BatchNo: "LOT-A", Expiry: dateRef(2027, 1, 15), CountedQty: 12.25},
			{BatchNo: "LOT-B", CountedQty: 7},
			{CountedQty: 3},
		},
	}

	got := DecodeBreakdown(EncodeBreakdown(orig), "", nil, 22.25)
	require.True(t, got.Specific)
	require.Len(t, got.Entries, 3)
	require.Equal(t, "LOT-A", got.Entries[0].BatchNo)
	require.Equal(t, dateRef(2027, 1, 15), got.Entries[0].Expiry)
	require.InDelta(t, 12.25, got.Entries[0].CountedQty, 1e-9)
	require.Equal(t, "LOT-B", got.Entries[1].BatchNo)
	require.Nil(t, got.Entries[1].Expiry)
	require.Empty(t, got.Entries[2].BatchNo)
	require.InDelta(t, 3, got.Entries[2].CountedQty, 1e-9)
	require.InDelta(t, 22.25, got.Sum(), 1e-9)
}

func TestDecodeBreakdownExpiryAlignmentByIndex(t *testing.T) {
	// Equal quantities in both buckets: alignment must be positional.
	memo := Memo{
		M1: "specific",
		M2: "B1:10,B2:10",
		M3: "0",
		M4: "2026-03-31:10,2026-06-30:10",
	}

	b := DecodeBreakdown(memo, "", nil, 20)
	require.Len(t, b.Entries, 2)
	require.Equal(t, dateRef(2026, 3, 31), b.Entries[0].Expiry)
	require.Equal(t, dateRef(2026, 6, 30), b.Entries[1].Expiry)
}

func TestDecodeBreakdownSkipsMalformedPairs(t *testing.T) {
	memo := Memo{
		M1: "specific",
		M2: "B1:10,garbage,B2:not-a-number,:5,B3:2",
		M3: "0",
	}

	b := DecodeBreakdown(memo, "", nil, 12)
	require.Len(t, b.Entries, 2)
	require.Equal(t, "B1", b.Entries[0].BatchNo)
	require.Equal(t, "B3", b.Entries[1].BatchNo)
}

func TestDecodeBreakdownLegacyPrimaryColumns(t *testing.T) {
	expiry := dateRef(2025, 12, 1)
	b := DecodeBreakdown(Memo{}, "OLD-1", expiry, 40)
	require.True(t, b.Specific)
	require.Len(t, b.Entries, 1)
	require.Equal(t, "OLD-1", b.Entries[0].BatchNo)
	require.Equal(t, expiry, b.Entries[0].Expiry)
	require.InDelta(t, 40, b.Entries[0].CountedQty, 1e-9)

	require.Empty(t, DecodeBreakdown(Memo{}, "", nil, 40).Entries)
}

func TestParseExpiryTolerantLayouts(t *testing.T) {
	want := dateRef(2026, 3, 31)
	for _, raw := range []string{
		"2026-03-31",
		"2026-03-31 13:45:00",
		"2026-03-31T13:45:00",
		"31/03/2026",
		"2026/03/31",
	} {
		got := parseExpiry(raw)
		require.NotNil(t, got, raw)
		require.Equal(t, want, got, raw)
	}
	require.Nil(t, parseExpiry("31-03-2026"))
	require.Nil(t, parseExpiry(""))
}

func TestDecodeBreakdownDateWithTimeInPair(t *testing.T) {
	// Old writers stored timestamps; the pair split happens at the last colon
	// so a time component must not break quantity parsing.
	memo := Memo{
		M1: "specific",
		M2: "B1:15",
		M3: "0",
		M4: "2026-03-31 08:30:15:15",
	}

	b := DecodeBreakdown(memo, "", nil, 15)
	require.Len(t, b.Entries, 1)
	require.Equal(t, dateRef(2026, 3, 31), b.Entries[0].Expiry)
}
