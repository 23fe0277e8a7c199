package util

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/samber/lo"
)

// ErrInvalidEmail is returned when an email address cannot be parsed.
var ErrInvalidEmail = errors.New("invalid email address")

// NormalizeEmail validates and normalizes an email address. The returned value
// is lowercased and stripped of surrounding whitespace.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}

	// Display names belong in the template, not in the contact column.
	if addr.Name != "" || addr.Address == "" {
		return "", fmt.Errorf("%w: must not include display name", ErrInvalidEmail)
	}

	if addr.Address != trimmed {
		return "", fmt.Errorf("%w: unexpected formatting", ErrInvalidEmail)
	}

	return strings.ToLower(addr.Address), nil
}

// NormalizeEmails validates each email and returns the normalized slice with
// duplicates removed, keeping first occurrences.
func NormalizeEmails(values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	result := make([]string, 0, len(values))
	for idx, value := range values {
		normalized, err := NormalizeEmail(value)
		if err != nil {
			return nil, fmt.Errorf("email[%d]: %w", idx, err)
		}
		result = append(result, normalized)
	}

	return lo.Uniq(result), nil
}

// SplitEmailList splits a comma or semicolon separated address list as typed
// on the command line or in a spreadsheet cell. Blank entries are dropped.
func SplitEmailList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	return lo.Compact(lo.Map(parts, func(p string, _ int) string { return strings.TrimSpace(p) }))
}

// ParseEmailList splits and normalizes a list of address fields.
func ParseEmailList(raws ...string) ([]string, error) {
	return NormalizeEmails(lo.FlatMap(raws, func(raw string, _ int) []string { return SplitEmailList(raw) }))
}
