package logger

import "strings"

// MaskCredential masks webhook credentials and signatures, preserving only the
// last 4 characters so deliveries can still be correlated in logs.
func MaskCredential(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Basic") {
		return "Basic " + maskLast4(parts[1])
	}
	return maskLast4(value)
}

// MaskCardNumber masks a card PAN, keeping the issuer prefix and last 4 digits.
func MaskCardNumber(value string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)
	if len(digits) < 10 {
		return maskLast4(digits)
	}
	return digits[:6] + strings.Repeat("*", len(digits)-10) + digits[len(digits)-4:]
}

// MaskPhone masks a phone number, keeping the country prefix and last 2 digits.
func MaskPhone(value string) string {
	value = strings.TrimSpace(value)
	if len(value) < 7 {
		return value
	}
	return value[:4] + "****" + value[len(value)-2:]
}

func maskLast4(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
