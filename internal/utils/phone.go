package utils

import (
	"strings"
	"unicode"
)

// NormalizePhone turns a provider or user supplied number into E.164 form
// ("+573001234567"). Returns "" when no digits are present.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "whatsapp:")

	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// nationalDigits is the length of a national mobile number in the markets we
// strip for (Colombia: 3XX XXX XXXX).
const nationalDigits = 10

// OutboundNumber formats an E.164 phone for the provider. When countryCode is
// set, the prefix is stripped only if the remainder is exactly a national
// mobile number; anything else passes through as bare digits.
func OutboundNumber(phone, countryCode string) string {
	digits := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if countryCode == "" {
		return digits
	}
	if strings.HasPrefix(digits, countryCode) && len(digits) == len(countryCode)+nationalDigits {
		return digits[len(countryCode):]
	}
	return digits
}
