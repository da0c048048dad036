package domain

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

// NormalizePhone strips everything but digits and checks the E.164 length bounds.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	phone := b.String()
	if len(phone) < minPhoneDigits || len(phone) > maxPhoneDigits {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhone, raw, len(phone))
	}
	return phone, nil
}

// InstanceName derives the gateway-side instance name from the owner name and phone,
// e.g. "João Silva" + "5511999998888" -> "joaosilva5511999998888".
// The prefix holds letters only, so the name splits back into exactly one prefix and phone.
func InstanceName(ownerName, phone string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, ownerName)
	if err != nil {
		folded = ownerName
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}

	prefix := b.String()
	if prefix == "" {
		prefix = "instance"
	}
	return prefix + phone
}
