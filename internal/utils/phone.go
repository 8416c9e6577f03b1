package utils

import "strings"

// BrazilCountryCode is prefixed to national numbers.
const BrazilCountryCode = "55"

// NormalizePhone returns the canonical 55DDNNNNNNNN(N) digit string, or "" when
// the input cannot be a Brazilian number. Symbols and trunk zeros are ignored.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	national := strings.TrimLeft(b.String(), "0")
	if len(national) > 11 && strings.HasPrefix(national, BrazilCountryCode) {
		national = strings.TrimLeft(national[len(BrazilCountryCode):], "0")
	}

	// area code (2) + subscriber (8 landline, 9 mobile)
	if len(national) != 10 && len(national) != 11 {
		return ""
	}
	return BrazilCountryCode + national
}

// MaskPhone hides all but the last four digits for logging.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
