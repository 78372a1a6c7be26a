package helper

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// PhoneRules describes the national numbering plan used to canonicalize
// numbers typed without a country code.
type PhoneRules struct {
	CountryCode string
	// NationalLength is the length of a national number including its trunk 0.
	NationalLength int
	// MobilePrefixes are leading digits of a mobile number once the trunk 0 is gone.
	MobilePrefixes []string
}

// DefaultPhoneRules is Israel: 05X-XXXXXXX locally, 9725XXXXXXXX internationally.
var DefaultPhoneRules = PhoneRules{
	CountryCode:    "972",
	NationalLength: 10,
	MobilePrefixes: []string{"5"},
}

// SetDefaultCountryCode swaps the country code of DefaultPhoneRules. Call it
// once at startup, before any goroutine normalizes numbers.
func SetDefaultCountryCode(code string) {
	if code != "" {
		DefaultPhoneRules.CountryCode = code
	}
}

// Normalize maps any phone representation to the canonical digit string used
// for equality. It never fails; garbage in gives its digits out.
func (r PhoneRules) Normalize(raw string) string {
	digits := onlyDigits(raw)
	if digits == "" {
		return ""
	}

	// 00 international dialing prefix
	if strings.HasPrefix(digits, "00"+r.CountryCode) {
		digits = digits[2:]
	}

	if len(digits) == r.NationalLength && digits[0] == '0' {
		digits = digits[1:]
	}

	if strings.HasPrefix(digits, r.CountryCode) {
		return digits
	}

	if len(digits) == r.NationalLength-1 {
		for _, prefix := range r.MobilePrefixes {
			if strings.HasPrefix(digits, prefix) {
				return r.CountryCode + digits
			}
		}
	}

	return digits
}

// NormalizePhone normalizes with DefaultPhoneRules.
func NormalizePhone(raw string) string {
	return DefaultPhoneRules.Normalize(raw)
}

// SamePhone reports whether a and b are the same number. Empty numbers never match.
func SamePhone(a, b string) bool {
	na := NormalizePhone(a)
	return na != "" && na == NormalizePhone(b)
}

// PhoneToJID converts a phone number (or a full JID) into a user JID for sending.
func PhoneToJID(phone string) (types.JID, error) {
	if strings.Contains(phone, "@") {
		jid, err := types.ParseJID(phone)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid jid %q: %w", phone, err)
		}
		return jid, nil
	}

	normalized := NormalizePhone(phone)
	if len(normalized) < 8 || len(normalized) > 15 {
		return types.JID{}, fmt.Errorf("invalid phone number length: %q", phone)
	}

	return types.JID{
		User:   normalized,
		Server: types.DefaultUserServer,
	}, nil
}

func ExtractPhoneFromJID(jid string) string {
	// "972501234567:43@s.whatsapp.net" -> "972501234567"
	atSplit := strings.SplitN(jid, "@", 2)
	beforeAt := atSplit[0]
	colonSplit := strings.SplitN(beforeAt, ":", 2)
	return colonSplit[0]
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
