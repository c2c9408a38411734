package stocktake

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessionStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, time.Hour), mr
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	sess := NewSession("STK-S01-000007", "S01", "brand|range")
	require.NoError(t, sess.Select([]SelectedItem{{ItemCode: "A", UOM: "EA", OnHandQty: 12}}))
	require.NoError(t, sess.Proceed(nil))
	require.NoError(t, sess.SetQuantity("A", "EA", 11, 0.01))
	require.NoError(t, sess.Confirm("A", "EA", true))

	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Load(ctx, "STK-S01-000007")
	require.NoError(t, err)
	require.Equal(t, sess.Phase, got.Phase)
	require.Equal(t, sess.Filter, got.Filter)
	require.Len(t, got.Lines, 1)
	require.InDelta(t, 11, got.Lines[0].CountedQty, 1e-9)
	require.True(t, got.Lines[0].Confirmed)
}

func TestSessionStoreMissing(t *testing.T) {
	store, _ := newTestSessionStore(t)
	_, err := store.Load(context.Background(), "STK-NOPE")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreDelete(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, NewSession("STK-S01-000008", "S01", "")))
	require.NoError(t, store.Delete(ctx, "STK-S01-000008"))

	_, err := store.Load(ctx, "STK-S01-000008")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreExpiry(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, NewSession("STK-S01-000009", "S01", "")))
	mr.FastForward(2 * time.Hour)

	_, err := store.Load(ctx, "STK-S01-000009")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
