package tenantauth

import "github.com/golang-jwt/jwt/v5"

// Claims are the token payload: sub = tenant ID (via RegisteredClaims),
// plus the email carried for display without a second lookup.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
