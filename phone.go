package main

import (
	"strings"
)

// countryPrefix is the Brazilian country code. Numbers arriving without it are
// completed when their shape makes the inference unambiguous.
const countryPrefix = "55"

// brazilAreaCodes is the full DDD allow-list. Tuning data, not logic: keep it
// as a table so the strict validator can be adjusted without touching code paths.
var brazilAreaCodes = map[string]bool{
	"11": true, "12": true, "13": true, "14": true, "15": true, "16": true,
	"17": true, "18": true, "19": true,
	"21": true, "22": true, "24": true, "27": true, "28": true,
	"31": true, "32": true, "33": true, "34": true, "35": true, "37": true, "38": true,
	"41": true, "42": true, "43": true, "44": true, "45": true, "46": true,
	"47": true, "48": true, "49": true,
	"51": true, "53": true, "54": true, "55": true,
	"61": true, "62": true, "63": true, "64": true, "65": true, "66": true,
	"67": true, "68": true, "69": true,
	"71": true, "73": true, "74": true, "75": true, "77": true, "79": true,
	"81": true, "82": true, "83": true, "84": true, "85": true, "86": true,
	"87": true, "88": true, "89": true,
	"91": true, "92": true, "93": true, "94": true, "95": true, "96": true,
	"97": true, "98": true, "99": true,
}

// obviousSequences are ascending digit runs that show up in test data, order
// numbers and placeholders but never in real phone numbers. Descending runs are
// deliberately absent: numbers like 98765-4321 are assigned in practice.
var obviousSequences = []string{
	"01234567",
	"12345678",
	"23456789",
	"0123456789",
	"1234567890",
}

// sanitizePhone strips everything but digits from raw input.
func sanitizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizePhone turns a raw number into its canonical digits-only form with
// country code. Returns "" when the input cannot be normalized:
//   - 11 digits with '9' as the 3rd digit: mobile with area code, prefix added
//   - 10 digits: landline with area code, prefix added
//   - 12-15 digits: already at final length, passed through unchanged
//   - 8-9 digits: no area code, cannot be completed
func normalizePhone(raw string) string {
	digits := sanitizePhone(raw)

	switch {
	case len(digits) < 10:
		return ""
	case len(digits) > 15:
		return ""
	case len(digits) == 10:
		return countryPrefix + digits
	case len(digits) == 11 && digits[2] == '9':
		return countryPrefix + digits
	default:
		return digits
	}
}

// isRepetitive reports whether the digits are too uniform to be a real number.
func isRepetitive(digits string) bool {
	if digits == "" {
		return true
	}
	seen := make(map[byte]bool, 10)
	for i := 0; i < len(digits); i++ {
		seen[digits[i]] = true
	}
	return len(seen) <= 3
}

func isObviousSequence(digits string) bool {
	for _, seq := range obviousSequences {
		if strings.Contains(digits, seq) {
			return true
		}
	}
	return false
}

// isValidPhone is the general validator: normalizable, 8-15 digits, not junk.
func isValidPhone(raw string) bool {
	ok, _ := validatePhone(raw)
	return ok
}

// validatePhone returns validity plus a human-readable rejection reason for
// diagnostics. Never panics on any input.
func validatePhone(raw string) (bool, string) {
	digits := sanitizePhone(raw)
	if digits == "" {
		return false, "no digits in input"
	}
	canonical := normalizePhone(digits)
	if canonical == "" {
		if len(digits) < 10 {
			return false, "too short: missing area code"
		}
		return false, "too long for a phone number"
	}
	if len(canonical) < 8 || len(canonical) > 15 {
		return false, "length outside 8-15 digits"
	}
	if isRepetitive(canonical) {
		return false, "too few distinct digits"
	}
	if isObviousSequence(canonical) {
		return false, "matches an obvious digit sequence"
	}
	return true, ""
}

// isValidBrazilPhone is the strict regional validator: full canonical form with
// country code, recognized area code and a mobile- or landline-shaped local part.
func isValidBrazilPhone(raw string) bool {
	canonical := normalizePhone(raw)
	if canonical == "" {
		return false
	}
	if len(canonical) != 12 && len(canonical) != 13 {
		return false
	}
	if !strings.HasPrefix(canonical, countryPrefix) {
		return false
	}
	if isRepetitive(canonical) || isObviousSequence(canonical) {
		return false
	}
	if !brazilAreaCodes[canonical[2:4]] {
		return false
	}

	local := canonical[4:]
	if len(local) == 9 {
		// Mobile: leading 9, then 6-9, then 7 more digits.
		return local[0] == '9' && local[1] >= '6' && local[1] <= '9'
	}
	// Landline: leading 2-5, then 7 more digits.
	return local[0] >= '2' && local[0] <= '5'
}

// phoneSuffixMatch compares the trailing digits of two numbers, tolerating
// country-code and formatting differences. Used by the chat-identity guard.
func phoneSuffixMatch(a, b string) bool {
	da := sanitizePhone(a)
	db := sanitizePhone(b)
	if len(da) < 8 || len(db) < 8 {
		return false
	}
	n := 10
	if len(da) < n {
		n = len(da)
	}
	if len(db) < n {
		n = len(db)
	}
	return da[len(da)-n:] == db[len(db)-n:]
}
