package tenantauth

import "regexp"

var (
	hasUpper  = regexp.MustCompile(`[A-Z]`)
	hasLower  = regexp.MustCompile(`[a-z]`)
	hasDigit  = regexp.MustCompile(`[0-9]`)
	hasSymbol = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// ValidatePassword enforces min 8 characters with at least one upper,
// lower, digit, and symbol.
func ValidatePassword(password string) bool {
	return len(password) >= 8 &&
		hasUpper.MatchString(password) &&
		hasLower.MatchString(password) &&
		hasDigit.MatchString(password) &&
		hasSymbol.MatchString(password)
}
