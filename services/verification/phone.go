package verification

import (
	"fmt"
	"regexp"
	"strings"

	"carelink/utils"
)

var e164Regex = regexp.MustCompile(`^\+[1-9]\d{7,14}$`) // ITU-T E.164

// IsE164 reports basic E.164 compliance.
func IsE164(number string) bool { return e164Regex.MatchString(number) }

// NormalizePhone strips formatting characters and applies defaultCountryCode to
// national numbers. The result is E.164 or ErrInvalidPhoneNumber.
func NormalizePhone(raw, defaultCountryCode string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", utils.ErrInvalidPhoneNumber, r)
		}
	}
	number := b.String()

	switch {
	case strings.HasPrefix(number, "+"):
	case strings.HasPrefix(number, "00"):
		number = "+" + strings.TrimPrefix(number, "00")
	default:
		number = defaultCountryCode + strings.TrimLeft(number, "0")
	}

	if !IsE164(number) {
		return "", fmt.Errorf("%w: %q", utils.ErrInvalidPhoneNumber, raw)
	}
	return number, nil
}
