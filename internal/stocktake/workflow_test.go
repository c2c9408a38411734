package stocktake

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newQuantitySession(t *testing.T, items ...SelectedItem) *Session {
	t.Helper()
	sess := NewSession("STK-S01-000001", "S01", "f1")
	require.NoError(t, sess.Select(items))
	require.NoError(t, sess.Proceed(nil))
	return sess
}

func TestSessionPhaseTransitions(t *testing.T) {
	sess := NewSession("STK-S01-000001", "S01", "f1")
	require.Equal(t, PhaseSelectingItems, sess.Phase)

	require.ErrorIs(t, sess.Proceed(nil), ErrNoSelection)

	require.NoError(t, sess.Select([]SelectedItem{{ItemCode: "A", UOM: "EA", OnHandQty: 10}}))
	require.NoError(t, sess.Proceed(nil))
	require.Equal(t, PhaseEnteringQuantities, sess.Phase)
	require.Len(t, sess.Lines, 1)
	require.InDelta(t, 10, sess.Lines[0].SystemQty, 1e-9)

	// Selecting while entering quantities is rejected.
	require.ErrorIs(t, sess.Select(nil), ErrSessionState)
}

func TestSessionFilterChangeResets(t *testing.T) {
	sess := newQuantitySession(t, SelectedItem{ItemCode: "A", UOM: "EA"})

	// Same fingerprint: nothing happens.
	sess.SetFilter("f1")
	require.Equal(t, PhaseEnteringQuantities, sess.Phase)

	sess.SetFilter("f2")
	require.Equal(t, PhaseSelectingItems, sess.Phase)
	require.Empty(t, sess.Selected)
	require.Empty(t, sess.Lines)
}

func TestSessionBackKeepsConfirmedLines(t *testing.T) {
	sess := newQuantitySession(t,
		SelectedItem{ItemCode: "A", UOM: "EA"},
		SelectedItem{ItemCode: "B", UOM: "EA"},
	)
	require.NoError(t, sess.SetQuantity("A", "EA", 5, 0.01))
	require.NoError(t, sess.Confirm("A", "EA", true))
	require.NoError(t, sess.SetQuantity("B", "EA", 9, 0.01))

	sess.Back()
	require.Equal(t, PhaseSelectingItems, sess.Phase)
	require.Len(t, sess.Lines, 1)
	require.Equal(t, "A", sess.Lines[0].ItemCode)
}

func TestSessionConfirmedEditsSurviveBackAndProceed(t *testing.T) {
	sess := newQuantitySession(t,
		SelectedItem{ItemCode: "A", UOM: "EA", OnHandQty: 40},
		SelectedItem{ItemCode: "B", UOM: "EA", OnHandQty: 7},
	)
	require.NoError(t, sess.SetQuantity("A", "EA", 45, 0.01))
	require.NoError(t, sess.SetRemark("A", "EA", "recount shelf 3"))
	require.NoError(t, sess.Confirm("A", "EA", true))

	sess.Back()
	require.NoError(t, sess.Select([]SelectedItem{
		{ItemCode: "A", UOM: "EA", OnHandQty: 40},
		{ItemCode: "B", UOM: "EA", OnHandQty: 7},
	}))
	require.NoError(t, sess.Proceed(nil))

	// The confirmed but not yet saved edit carries across the round trip.
	require.Len(t, sess.Lines, 2)
	require.InDelta(t, 45, sess.Lines[0].CountedQty, 1e-9)
	require.Equal(t, "recount shelf 3", sess.Lines[0].Remark)
	require.True(t, sess.Lines[0].Confirmed)

	// The unconfirmed line starts fresh.
	require.Zero(t, sess.Lines[1].CountedQty)
	require.False(t, sess.Lines[1].Confirmed)
}

func TestSessionProceedKeepsSavedSystemQty(t *testing.T) {
	sess := NewSession("STK-S01-000002", "S01", "f1")
	require.NoError(t, sess.Select([]SelectedItem{
		{ItemCode: "A", UOM: "EA", OnHandQty: 99},
		{ItemCode: "B", UOM: "EA", OnHandQty: 7},
	}))

	prior := []Line{{ItemCode: "A", UOM: "EA", SystemQty: 42, CountedQty: 40, Confirmed: true}}
	require.NoError(t, sess.Proceed(prior))

	// Saved system quantity wins over the fresh on-hand snapshot.
	require.InDelta(t, 42, sess.Lines[0].SystemQty, 1e-9)
	require.InDelta(t, 40, sess.Lines[0].CountedQty, 1e-9)
	require.True(t, sess.Lines[0].Confirmed)
	require.InDelta(t, 7, sess.Lines[1].SystemQty, 1e-9)
}

func TestSessionQuantityChangeClearsStaleBreakdown(t *testing.T) {
	sess := newQuantitySession(t, SelectedItem{ItemCode: "A", UOM: "EA"})
	b := Breakdown{Specific: true, Entries: []BatchEntry{{BatchNo: "B1", CountedQty: 10}}}
	require.NoError(t, sess.SetBreakdown("A", "EA", b))
	require.NoError(t, sess.Confirm("A", "EA", true))

	// Matching quantity keeps the breakdown but drops the confirmation.
	require.NoError(t, sess.SetQuantity("A", "EA", 10, 0.01))
	require.Len(t, sess.Lines[0].Breakdown.Entries, 1)
	require.False(t, sess.Lines[0].Confirmed)

	require.NoError(t, sess.SetQuantity("A", "EA", 12, 0.01))
	require.Empty(t, sess.Lines[0].Breakdown.Entries)
}

func TestSessionConfirmedLines(t *testing.T) {
	sess := newQuantitySession(t,
		SelectedItem{ItemCode: "A", UOM: "EA", UnitPrice: 2.5, OnHandQty: 3},
		SelectedItem{ItemCode: "B", UOM: "EA"},
	)
	require.NoError(t, sess.SetQuantity("A", "EA", 4, 0.01))
	require.NoError(t, sess.SetRemark("A", "EA", "recount"))
	require.NoError(t, sess.Confirm("A", "EA", true))

	lines := sess.ConfirmedLines()
	require.Len(t, lines, 1)
	require.Equal(t, "STK-S01-000001", lines[0].DocNo)
	require.Equal(t, "A", lines[0].ItemCode)
	require.InDelta(t, 4, lines[0].CountedQty, 1e-9)
	require.InDelta(t, 3, lines[0].SystemQty, 1e-9)
	require.Equal(t, "recount", lines[0].Remark)

	require.ErrorIs(t, sess.SetQuantity("C", "EA", 1, 0.01), ErrLineNotFound)
}
