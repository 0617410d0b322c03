package tenants

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultReservationTTL bounds how long a slug claim outlives its
// provisioning attempt. Successful attempts let the claim lapse; the tenant
// row has taken over as the authority by then.
const DefaultReservationTTL = 2 * time.Minute

// Reservations is a Redis-backed fast path that claims a slug for the
// duration of a provisioning attempt. It narrows the window between the
// advisory availability check and the transactional write; the database
// unique constraint still backstops everything, so losing Redis only costs
// contention detection latency, never correctness.
type Reservations struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReservations creates a reservation claimer. ttl <= 0 uses
// DefaultReservationTTL.
func NewReservations(client *redis.Client, ttl time.Duration) *Reservations {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &Reservations{client: client, ttl: ttl}
}

func reservationKey(slug string) string {
	return "tenantd:slug-reservation:" + slug
}

// Claim attempts to reserve slug for the given request. It returns false
// when another in-flight request holds the reservation.
func (r *Reservations) Claim(ctx context.Context, slug string, requestID int64) (bool, error) {
	ok, err := r.client.SetNX(ctx, reservationKey(slug), requestID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim slug reservation: %w", err)
	}
	return ok, nil
}

// Release frees a reservation after a failed attempt so the slug becomes
// claimable again immediately. Only the holding request may release.
func (r *Reservations) Release(ctx context.Context, slug string, requestID int64) error {
	// Compare-and-delete so a late release cannot drop a newer holder's
	// claim.
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	if err := script.Run(ctx, r.client, []string{reservationKey(slug)}, fmt.Sprint(requestID)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release slug reservation: %w", err)
	}
	return nil
}
