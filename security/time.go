package security

import "time"

// DefaultClockSkewGracePeriod is the grace applied to long-lived records
// whose expiry is compared against clocks on other replicas.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether a record issued at issuedAt with the given
// time-to-live has expired at now. Records without an issue time or with a
// non-positive ttl never expire.
//
// Store TTLs are the primary mechanism; this check catches records that a
// distributed store has not evicted yet.
func IsExpired(issuedAt time.Time, ttl time.Duration, now time.Time) bool {
	return IsExpiredWithGracePeriod(issuedAt, ttl, now, 0)
}

// IsExpiredWithGracePeriod is IsExpired with extra tolerance for clock skew.
func IsExpiredWithGracePeriod(issuedAt time.Time, ttl time.Duration, now time.Time, grace time.Duration) bool {
	if issuedAt.IsZero() || ttl <= 0 {
		return false
	}
	return now.After(issuedAt.Add(ttl + grace))
}
