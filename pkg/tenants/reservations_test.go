package tenants

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupReservations(t *testing.T) (*Reservations, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewReservations(client, time.Minute), mr
}

func TestReservationsClaim(t *testing.T) {
	r, _ := setupReservations(t)
	ctx := context.Background()

	ok, err := r.Claim(ctx, "golden-spoon", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second in-flight request loses the claim.
	ok, err = r.Claim(ctx, "golden-spoon", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different slug is unaffected.
	ok, err = r.Claim(ctx, "silver-spoon", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReservationsRelease(t *testing.T) {
	r, _ := setupReservations(t)
	ctx := context.Background()

	ok, err := r.Claim(ctx, "golden-spoon", 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.Release(ctx, "golden-spoon", 1))

	ok, err = r.Claim(ctx, "golden-spoon", 2)
	require.NoError(t, err)
	assert.True(t, ok, "released slug must be claimable again")
}

func TestReservationsReleaseOnlyByHolder(t *testing.T) {
	r, _ := setupReservations(t)
	ctx := context.Background()

	ok, err := r.Claim(ctx, "golden-spoon", 1)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale release from another request must not drop the claim.
	require.NoError(t, r.Release(ctx, "golden-spoon", 99))

	ok, err = r.Claim(ctx, "golden-spoon", 2)
	require.NoError(t, err)
	assert.False(t, ok, "claim must survive a non-holder release")
}

func TestReservationsExpire(t *testing.T) {
	r, mr := setupReservations(t)
	ctx := context.Background()

	ok, err := r.Claim(ctx, "golden-spoon", 1)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = r.Claim(ctx, "golden-spoon", 2)
	require.NoError(t, err)
	assert.True(t, ok, "expired reservation must lapse on its own")
}
