package protocol

import "time"

// ExpirySafetyBuffer is subtracted from the stored expiry before a token
// is considered live, so callers never race a token's exact boundary.
const ExpirySafetyBuffer = 60 * time.Second

// expiresAtKey is the bag field holding the absolute expiry as unix seconds.
const expiresAtKey = "expires_at"

// TokenExpirationTime reads the stored expiry from the bag. The second
// return is false when no expiry is recorded.
func TokenExpirationTime(bag CredentialBag) (time.Time, bool) {
	secs, ok := bag.Int64(expiresAtKey)
	if !ok || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// IsTokenExpired reports whether the stored token is past, or within
// ExpirySafetyBuffer of, its expiry. Tokens without a recorded expiry
// never report expired.
func IsTokenExpired(bag CredentialBag) bool {
	expiry, ok := TokenExpirationTime(bag)
	if !ok {
		return false
	}
	return time.Now().Add(ExpirySafetyBuffer).After(expiry)
}

// ExpiresAtFromLifetime converts a relative lifetime in seconds (the
// usual expires_in token response field) into an absolute unix expiry.
func ExpiresAtFromLifetime(expiresIn int64) int64 {
	if expiresIn <= 0 {
		return 0
	}
	return time.Now().Unix() + expiresIn
}
