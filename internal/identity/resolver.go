// Package identity normalizes participant identifiers and matches them
// against roster snapshots. All functions are pure.
package identity

import (
	"strings"

	"wa_group_ledger_bot/internal/domain"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15

	// nationalNumberLength is the bare national number length that gets the
	// default country code prefixed when missing.
	nationalNumberLength = 10
)

// Status is the tri-state outcome of a resolution attempt. The resolver
// never returns errors so callers can produce precise user-facing messages.
type Status int

const (
	// StatusOK means a roster participant matched.
	StatusOK Status = iota
	// StatusNotFound means the input was well-formed but nobody matched.
	StatusNotFound
	// StatusInvalid means the input is not a usable phone number.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// NormalizeIdentifier strips the transport suffix from a serialized
// identifier, returning the bare digit string. "2348012345678@c.us" becomes
// "2348012345678". Inputs without a suffix pass through unchanged.
func NormalizeIdentifier(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		return id[:at]
	}
	return id
}

// CleanDigits removes spaces, dashes, and a leading plus sign. It does not
// validate the result.
func CleanDigits(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '+':
			return -1
		}
		return r
	}, raw)
	return strings.TrimSpace(cleaned)
}

// ValidatePhone cleans raw input and checks that it is 8-15 digits. The
// second return is false for malformed input, distinct from a roster miss.
func ValidatePhone(raw string) (string, bool) {
	cleaned := CleanDigits(raw)
	if len(cleaned) < minPhoneDigits || len(cleaned) > maxPhoneDigits {
		return "", false
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return cleaned, true
}

// FormatForPlatform normalizes a free-form phone number into the canonical
// platform digits: separators removed, and the default country code prefixed
// to bare national numbers. The function is idempotent; feeding its output
// back yields the same value.
func FormatForPlatform(raw, countryCode string) (string, Status) {
	cleaned, ok := ValidatePhone(raw)
	if !ok {
		return "", StatusInvalid
	}

	if countryCode != "" && len(cleaned) == nationalNumberLength && !strings.HasPrefix(cleaned, countryCode) {
		return countryCode + cleaned, StatusOK
	}

	return cleaned, StatusOK
}

// CandidateNumbers returns the ordered equivalent representations tried
// against a roster: verbatim, prefixed/unprefixed with the country code, and
// the leading-zero national form rewritten as international. Duplicates are
// dropped while preserving first-seen order.
func CandidateNumbers(digits, countryCode string) []string {
	candidates := []string{digits}

	if countryCode != "" {
		if strings.HasPrefix(digits, countryCode) {
			if trimmed := strings.TrimPrefix(digits, countryCode); trimmed != "" {
				candidates = append(candidates, trimmed)
			}
		} else {
			candidates = append(candidates, countryCode+digits)
		}

		if strings.HasPrefix(digits, "0") && len(digits) > 1 {
			candidates = append(candidates, countryCode+digits[1:])
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	unique := candidates[:0]
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		unique = append(unique, c)
	}

	return unique
}

// Resolve matches a free-form identifier or digit string against the roster.
// Matching compares normalized phone digits only, never full identifiers:
// the same user may appear under different transport suffixes across
// snapshots. Representations are tried in the CandidateNumbers order and the
// first roster hit wins.
func Resolve(roster []domain.Participant, input, countryCode string) (domain.Participant, Status) {
	bare := NormalizeIdentifier(strings.TrimSpace(input))

	digits, ok := ValidatePhone(bare)
	if !ok {
		return domain.Participant{}, StatusInvalid
	}

	for _, candidate := range CandidateNumbers(digits, countryCode) {
		for _, p := range roster {
			if participantPhone(p) == candidate {
				return p, StatusOK
			}
		}
	}

	return domain.Participant{}, StatusNotFound
}

func participantPhone(p domain.Participant) string {
	if p.Phone != "" {
		return p.Phone
	}
	return NormalizeIdentifier(p.ID)
}
