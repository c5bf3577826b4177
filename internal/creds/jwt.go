package creds

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryOf extracts the exp claim from an access token without verifying
// the signature. The server remains the authority; the claim is only used
// to schedule refreshes ahead of rejection.
func ExpiryOf(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ShouldRefresh reports whether the token expires within early of now. An
// unparseable token never triggers a proactive refresh; the 401 path
// handles it instead.
func ShouldRefresh(token string, early time.Duration, now time.Time) bool {
	exp, ok := ExpiryOf(token)
	if !ok {
		return false
	}
	return now.Add(early).After(exp)
}
