// Package lock provides the single-flight lease each booker acquires
// before attempting to reserve a slot, so that two agents racing the
// same session never both call a booking provider for the same slot.
//
// A lease is not a general-purpose mutex: it has a TTL, and a holder
// that runs past the TTL may be superseded by a new acquirer. Callers
// must treat a lease lost to expiry as "possibly committed" on the
// remote side rather than assume their critical section was exclusive
// for its entire duration.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned by TryAcquire when another holder already
// owns the key and has not expired.
var ErrNotAcquired = errors.New("lock: not acquired")

// ErrNotHeld is returned by Lease.Release when the lease's fencing
// token no longer matches the stored value — another holder has since
// acquired the key, most likely because this lease's TTL expired.
var ErrNotHeld = errors.New("lock: lease not held")

// Manager grants exclusive, time-bounded leases keyed by an arbitrary
// string (session id, resource id). Implementations must guarantee
// that at most one lease per key is outstanding at any wall-clock
// instant, modulo bounded clock skew and TTL expiry.
type Manager interface {
	// TryAcquire attempts to acquire key for ttl. It does not block
	// waiting for a competing holder to release — failure is reported
	// immediately as ErrNotAcquired.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

// Lease is a held lock. Release is idempotent-safe to call once; a
// second call, or a call after the TTL has lapsed and been claimed by
// another holder, returns ErrNotHeld.
type Lease struct {
	Key     string
	Token   string
	expires time.Time

	release func(ctx context.Context, key, token string) error
}

// Release gives up the lease if this holder's token is still the one
// on record. Release against an already-expired-and-reclaimed lease
// returns ErrNotHeld rather than silently succeeding, so a booker can
// distinguish "I cleanly held the lock the whole time" from "I may
// have raced another holder".
func (l *Lease) Release(ctx context.Context) error {
	return l.release(ctx, l.Key, l.Token)
}

// Expired reports whether the lease's TTL has elapsed as of now. A
// booker should treat an expired lease's critical section as
// possibly-interrupted even if Release has not yet been called.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.expires)
}
