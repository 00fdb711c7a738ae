// Package phone normalizes Brazilian mobile numbers, which the chat channel
// may address with or without the extra leading mobile digit.
package phone

import (
	"strings"
	"unicode"
)

const countryCode = "55"

// Digits strips everything but digits
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Canonical returns the stored form of a number: digits only, with the
// country code added to 10 and 11 digit local numbers. Numbers written in
// international form (leading +) are kept as they are.
func Canonical(s string) string {
	d := Digits(s)
	if strings.HasPrefix(strings.TrimSpace(s), "+") {
		return d
	}
	if len(d) == 10 || len(d) == 11 {
		d = countryCode + d
	}
	return d
}

// CanonicalVariants returns a number already in canonical form, as stored on
// contacts, plus its twin with the extra mobile digit added or removed.
// Unknown shapes yield only the number itself. It never adds a country code,
// since Canonical is not idempotent for foreign 10 and 11 digit numbers.
func CanonicalVariants(d string) []string {
	d = Digits(d)
	if d == "" {
		return nil
	}
	if !strings.HasPrefix(d, countryCode) {
		return []string{d}
	}

	switch len(d) {
	case 13:
		if d[4] == '9' {
			return []string{d, d[:4] + d[5:]}
		}
	case 12:
		return []string{d, d[:4] + "9" + d[4:]}
	}
	return []string{d}
}

// FromJID extracts the number from a channel address like 5511987654321@s.whatsapp.net
func FromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return Digits(jid)
}

// JID builds the channel address of a number
func JID(number string) string {
	return Digits(number) + "@s.whatsapp.net"
}

// IsGroupJID reports whether the address is a group chat
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
