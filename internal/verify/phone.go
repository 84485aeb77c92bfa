package verify

import "strings"

// defaultCountryCode is prefixed to bare national numbers. Registries in the
// launch market return Indian numbers, matching the original provider data.
const defaultCountryCode = "91"

// nationalNumberLen is the digit count of a bare national subscriber number.
const nationalNumberLen = 10

// CanonicalPhone reduces a phone number to a canonical digits-only form with
// an explicit country code. It strips spaces, hyphens, dots, parentheses,
// a leading "+" or international "00" prefix, and a domestic trunk "0".
//
//	"+91-98765 43210" -> "919876543210"
//	"09876543210"     -> "919876543210"
//	"9876543210"      -> "919876543210"
func CanonicalPhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	// International prefix "00" followed by country code.
	if strings.HasPrefix(digits, "00") && len(digits) > 2+nationalNumberLen {
		return digits[2:]
	}
	// Domestic trunk prefix.
	if strings.HasPrefix(digits, "0") && len(digits) == 1+nationalNumberLen {
		return defaultCountryCode + digits[1:]
	}
	// Bare subscriber number.
	if len(digits) == nationalNumberLen {
		return defaultCountryCode + digits
	}
	return digits
}
